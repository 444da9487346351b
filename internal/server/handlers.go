package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/chongkelv123/prism-sub004/internal/bus"
	"github.com/chongkelv123/prism-sub004/internal/connection"
	"github.com/chongkelv123/prism-sub004/internal/events"
	apperrors "github.com/chongkelv123/prism-sub004/internal/pkg/errors"
	"github.com/chongkelv123/prism-sub004/internal/pkg/security"
	"github.com/chongkelv123/prism-sub004/internal/secrets"
)

const maxRequestBody = 1 << 20 // 1MB

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.cfg.Version,
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if !s.Health() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// testConnectionRequest is the ad-hoc verification request: credentials in
// the body, nothing stored. Callers send either a full serverUrl or a bare
// domain ("x.atlassian.net"); domain implies https.
type testConnectionRequest struct {
	Platform   string `json:"platform"`
	ServerURL  string `json:"serverUrl,omitempty"`
	Domain     string `json:"domain,omitempty"`
	Email      string `json:"email,omitempty"`
	APIToken   string `json:"apiToken"`
	ProjectKey string `json:"projectKey,omitempty"`
}

// resolveServerURL turns a serverUrl/domain pair into the URL clients dial.
func resolveServerURL(serverURL, domain string) string {
	if serverURL == "" && domain != "" {
		return "https://" + domain
	}
	return serverURL
}

func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	var req testConnectionRequest
	if err := decodeBody(r, &req); err != nil {
		apperrors.WriteError(w, err)
		return
	}

	p, err := connection.ParsePlatform(req.Platform)
	if err != nil {
		apperrors.WriteError(w, apperrors.UnsupportedPlatformError(req.Platform))
		return
	}
	serverURL := resolveServerURL(req.ServerURL, req.Domain)
	if err := security.ValidateServerURL(serverURL); err != nil {
		apperrors.WriteError(w, apperrors.ValidationError(err.Error()))
		return
	}

	client, err := s.svcs.Factory.Build(p, &secrets.PlatformConfig{
		ServerURL:  serverURL,
		Email:      req.Email,
		APIToken:   req.APIToken,
		ProjectKey: req.ProjectKey,
	})
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}

	start := time.Now()
	result := s.svcs.Verifier.Run(r.Context(), client, req.ProjectKey)
	s.svcs.Metrics.RecordVerification(result.Success, time.Since(start).Milliseconds())

	// A failed verification is still a completed request.
	writeJSON(w, http.StatusOK, result)
}

// registerConnectionRequest creates or updates a stored connection. The
// platform configuration is encrypted before it is persisted.
type registerConnectionRequest struct {
	UserID     string `json:"userId"`
	Name       string `json:"name"`
	Platform   string `json:"platform"`
	ServerURL  string `json:"serverUrl,omitempty"`
	Domain     string `json:"domain,omitempty"`
	Email      string `json:"email,omitempty"`
	APIToken   string `json:"apiToken"`
	ProjectKey string `json:"projectKey,omitempty"`
}

func (s *Server) handleRegisterConnection(w http.ResponseWriter, r *http.Request) {
	var req registerConnectionRequest
	if err := decodeBody(r, &req); err != nil {
		apperrors.WriteError(w, err)
		return
	}

	p, err := connection.ParsePlatform(req.Platform)
	if err != nil {
		apperrors.WriteError(w, apperrors.UnsupportedPlatformError(req.Platform))
		return
	}
	serverURL := resolveServerURL(req.ServerURL, req.Domain)
	if err := security.ValidateServerURL(serverURL); err != nil {
		apperrors.WriteError(w, apperrors.ValidationError(err.Error()))
		return
	}

	blob, err := secrets.EncodeConfig(s.svcs.Codec, &secrets.PlatformConfig{
		ServerURL:  serverURL,
		Email:      req.Email,
		APIToken:   req.APIToken,
		ProjectKey: req.ProjectKey,
	})
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}

	conn := connection.NewConnection(req.UserID, req.Name, p, blob)
	conn.ProjectKey = req.ProjectKey
	if err := s.svcs.Connections.Register(r.Context(), conn); err != nil {
		apperrors.WriteError(w, apperrors.ValidationError(err.Error()))
		return
	}

	s.log.Info("connection registered",
		"connection_id", conn.ID,
		"platform", string(p),
		"token", security.MaskToken(req.APIToken))
	writeJSON(w, http.StatusCreated, connectionView(conn))
}

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	filter := connection.Filter{
		UserID: r.URL.Query().Get("userId"),
	}
	if p := r.URL.Query().Get("platform"); p != "" {
		parsed, err := connection.ParsePlatform(p)
		if err != nil {
			apperrors.WriteError(w, apperrors.UnsupportedPlatformError(p))
			return
		}
		filter.Platform = parsed
	}

	list, err := s.svcs.Connections.List(r.Context(), filter)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}

	views := make([]map[string]any, 0, len(list))
	for _, conn := range list {
		views = append(views, connectionView(conn))
	}
	writeJSON(w, http.StatusOK, map[string]any{"connections": views})
}

func (s *Server) handleGetConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := s.svcs.Connections.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, connectionView(conn))
}

func (s *Server) handleDeleteConnection(w http.ResponseWriter, r *http.Request) {
	if err := s.svcs.Connections.Delete(r.Context(), r.PathValue("id")); err != nil {
		apperrors.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRequestTest(w http.ResponseWriter, r *http.Request) {
	s.publishForConnection(w, r, bus.KeyConnectionTestRequested, func(id string) any {
		return events.TestRequestedPayload{ConnectionID: id}
	})
}

func (s *Server) handleRequestSync(w http.ResponseWriter, r *http.Request) {
	s.publishForConnection(w, r, bus.KeyConnectionSyncRequested, func(id string) any {
		return events.SyncRequestedPayload{ConnectionID: id}
	})
}

func (s *Server) handleRequestReport(w http.ResponseWriter, r *http.Request) {
	requestID := "req_" + time.Now().UTC().Format("20060102150405.000000000")
	s.publishForConnection(w, r, bus.KeyReportDataRequested, func(id string) any {
		return events.ReportRequestedPayload{RequestID: requestID, ConnectionID: id}
	})
}

// publishForConnection validates the connection and publishes an async
// request event. The caller gets 202; the outcome arrives on the bus.
func (s *Server) publishForConnection(w http.ResponseWriter, r *http.Request, key string, payload func(id string) any) {
	id := r.PathValue("id")
	if !s.svcs.Connections.Exists(r.Context(), id) {
		apperrors.WriteError(w, apperrors.NotFoundError("connection "+id))
		return
	}

	event, err := bus.NewEvent(key, events.Source, payload(id))
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	if err := s.svcs.Bus.Publish(r.Context(), key, event); err != nil {
		// Fire-and-forget: broker trouble is logged, not surfaced.
		s.log.WithConnection(id).Error("failed to publish request event", "key", key, "error", err)
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"eventId":      event.ID,
		"connectionId": id,
		"key":          key,
	})
}

// connectionView is the API shape of a connection. The encrypted
// configuration never leaves the service.
func connectionView(conn *connection.Connection) map[string]any {
	view := map[string]any{
		"id":        conn.ID,
		"userId":    conn.UserID,
		"name":      conn.Name,
		"platform":  conn.Platform,
		"status":    conn.Status,
		"createdAt": conn.CreatedAt,
	}
	if conn.ProjectKey != "" {
		view["projectKey"] = conn.ProjectKey
	}
	if !conn.LastSyncAt.IsZero() {
		view["lastSyncAt"] = conn.LastSyncAt
	}
	if conn.LastSyncError != "" {
		view["lastSyncError"] = conn.LastSyncError
	}
	return view
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBody))
	if err := dec.Decode(v); err != nil {
		return apperrors.InvalidRequestError("invalid JSON body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
