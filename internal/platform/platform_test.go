package platform

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chongkelv123/prism-sub004/internal/connection"
	"github.com/chongkelv123/prism-sub004/internal/pkg/errors"
	"github.com/chongkelv123/prism-sub004/internal/pkg/logger"
	"github.com/chongkelv123/prism-sub004/internal/secrets"
)

func testConfig() Config {
	return Config{Timeout: 5 * time.Second}
}

func TestJiraClient_BasicAuthHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"accountId":"abc123","displayName":"Dana","emailAddress":"dana@example.com"}`))
	}))
	defer srv.Close()

	client := NewJiraClient(srv.URL, BasicAuth{Email: "dana@example.com", APIToken: "tok-1"}, testConfig(), logger.Default())
	user, err := client.CurrentUser(context.Background())
	if err != nil {
		t.Fatalf("CurrentUser() error = %v", err)
	}
	if user.AccountID != "abc123" || user.DisplayName != "Dana" {
		t.Errorf("CurrentUser() = %+v", user)
	}

	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("dana@example.com:tok-1"))
	if gotAuth != want {
		t.Errorf("Authorization = %q, want %q", gotAuth, want)
	}
}

func TestJiraClient_ListProjects_Envelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/api/3/project/search" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("maxResults"); got != "50" {
			t.Errorf("maxResults = %q, want 50", got)
		}
		w.Write([]byte(`{"total":2,"values":[{"id":"1","key":"ALPHA","name":"Alpha"},{"id":"2","key":"BETA","name":"Beta"}]}`))
	}))
	defer srv.Close()

	// Trailing slash on the server URL must not produce a double slash.
	client := NewJiraClient(srv.URL+"/", BasicAuth{Email: "e", APIToken: "t"}, testConfig(), logger.Default())
	projects, err := client.ListProjects(context.Background(), Page{Size: 50})
	if err != nil {
		t.Fatalf("ListProjects() error = %v", err)
	}
	if len(projects) != 2 {
		t.Fatalf("got %d projects, want 2", len(projects))
	}
	if projects[0].Key != "ALPHA" || projects[1].Name != "Beta" {
		t.Errorf("unexpected projects: %+v", projects)
	}
}

func TestJiraClient_FetchIssues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jql := r.URL.Query().Get("jql")
		if !strings.Contains(jql, "DEMO") {
			t.Errorf("jql = %q, want project filter", jql)
		}
		w.Write([]byte(`{"total":1,"issues":[{"id":"10","key":"DEMO-1","fields":{"summary":"Fix login","status":{"name":"In Progress"},"assignee":{"displayName":"Sam"},"updated":"2026-01-15T10:30:00.000+0000"}}]}`))
	}))
	defer srv.Close()

	client := NewJiraClient(srv.URL, BasicAuth{Email: "e", APIToken: "t"}, testConfig(), logger.Default())
	search, err := client.FetchIssues(context.Background(), "DEMO", 10)
	if err != nil {
		t.Fatalf("FetchIssues() error = %v", err)
	}
	if search.Total != 1 || len(search.Issues) != 1 {
		t.Fatalf("search = %+v", search)
	}
	issue := search.Issues[0]
	if issue.Key != "DEMO-1" || issue.Status != "In Progress" || issue.Assignee != "Sam" {
		t.Errorf("issue = %+v", issue)
	}
	if issue.Updated.IsZero() {
		t.Error("updated timestamp not parsed")
	}
}

func TestTrofosClient_APIKeyHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "key-9" {
			t.Errorf("x-api-key = %q, want key-9", got)
		}
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("Authorization must be unset for API key auth, got %q", got)
		}
		w.Write([]byte(`[{"id":7,"pname":"Capstone","pkey":"CAP"}]`))
	}))
	defer srv.Close()

	client := NewTrofosClient(srv.URL, APIKey{Token: "key-9"}, testConfig(), logger.Default())
	projects, err := client.ListProjects(context.Background(), Page{Size: 10})
	if err != nil {
		t.Fatalf("ListProjects() error = %v", err)
	}
	if len(projects) != 1 || projects[0].ID != "7" || projects[0].Key != "CAP" {
		t.Errorf("projects = %+v", projects)
	}
}

func TestTrofosClient_ProjectKeyFallsBackToID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":12,"pname":"No Key"}]`))
	}))
	defer srv.Close()

	client := NewTrofosClient(srv.URL, APIKey{Token: "k"}, testConfig(), logger.Default())
	projects, err := client.ListProjects(context.Background(), Page{})
	if err != nil {
		t.Fatalf("ListProjects() error = %v", err)
	}
	if projects[0].Key != "12" {
		t.Errorf("Key = %q, want fallback to ID", projects[0].Key)
	}
}

func TestMondayClient_DataEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v2/boards":
			w.Write([]byte(`{"data":{"boards":[{"id":"b1","name":"Roadmap"}]}}`))
		case "/v2/boards/b1/items":
			w.Write([]byte(`{"data":{"items":[{"id":"i1","name":"Ship it","status":"Done","updated_at":"2026-02-01T09:00:00Z"}],"total":1}}`))
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
		}
	}))
	defer srv.Close()

	client := NewMondayClient(srv.URL, APIKey{Token: "tok"}, testConfig(), logger.Default())

	projects, err := client.ListProjects(context.Background(), Page{Size: 5})
	if err != nil {
		t.Fatalf("ListProjects() error = %v", err)
	}
	if len(projects) != 1 || projects[0].Name != "Roadmap" {
		t.Fatalf("projects = %+v", projects)
	}

	search, err := client.FetchIssues(context.Background(), "b1", 5)
	if err != nil {
		t.Fatalf("FetchIssues() error = %v", err)
	}
	if search.Total != 1 || search.Issues[0].Status != "Done" {
		t.Errorf("search = %+v", search)
	}
}

func TestClient_AuthenticationFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewJiraClient(srv.URL, BasicAuth{Email: "e", APIToken: "bad"}, testConfig(), logger.Default())
	ok, err := client.TestConnection(context.Background())
	if ok {
		t.Fatal("TestConnection() = true, want false")
	}
	if !errors.IsAuthentication(err) {
		t.Fatalf("error = %v, want authentication failure", err)
	}
	if !strings.Contains(err.Error(), "Authentication failed (401)") {
		t.Errorf("message = %q, want upstream status preserved", err.Error())
	}
}

func TestClient_StatusTranslation(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(error) bool
	}{
		{"forbidden", http.StatusForbidden, errors.IsAccessDenied},
		{"server error", http.StatusInternalServerError, func(err error) bool {
			return !errors.IsAuthentication(err) && !errors.IsAccessDenied(err) && err != nil
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			client := NewTrofosClient(srv.URL, APIKey{Token: "k"}, testConfig(), logger.Default())
			_, err := client.CurrentUser(context.Background())
			if err == nil {
				t.Fatal("expected error")
			}
			if !tt.check(err) {
				t.Errorf("unexpected error classification: %v", err)
			}
		})
	}
}

func TestClient_Unreachable(t *testing.T) {
	// Reserved but unroutable port on localhost.
	client := NewJiraClient("http://127.0.0.1:1", BasicAuth{Email: "e", APIToken: "t"}, testConfig(), logger.Default())
	_, err := client.CurrentUser(context.Background())
	if !errors.IsUnreachable(err) {
		t.Fatalf("error = %v, want unreachable", err)
	}
}

func TestFactory_Build(t *testing.T) {
	factory := NewFactory(secrets.Plaintext{}, testConfig(), logger.Default())

	tests := []struct {
		name     string
		platform connection.Platform
		cfg      *secrets.PlatformConfig
		wantErr  func(error) bool
	}{
		{
			name:     "jira",
			platform: connection.PlatformJira,
			cfg:      &secrets.PlatformConfig{ServerURL: "https://x.atlassian.net", Email: "e", APIToken: "t"},
		},
		{
			name:     "trofos",
			platform: connection.PlatformTrofos,
			cfg:      &secrets.PlatformConfig{ServerURL: "https://trofos.example.com", APIToken: "t"},
		},
		{
			name:     "monday",
			platform: connection.PlatformMonday,
			cfg:      &secrets.PlatformConfig{ServerURL: "https://monday.example.com", APIToken: "t"},
		},
		{
			name:     "unknown platform",
			platform: connection.Platform("linear"),
			cfg:      &secrets.PlatformConfig{ServerURL: "https://x", APIToken: "t"},
			wantErr:  errors.IsUnsupportedPlatform,
		},
		{
			name:     "missing server URL",
			platform: connection.PlatformJira,
			cfg:      &secrets.PlatformConfig{Email: "e", APIToken: "t"},
			wantErr:  errors.IsValidation,
		},
		{
			name:     "jira without email",
			platform: connection.PlatformJira,
			cfg:      &secrets.PlatformConfig{ServerURL: "https://x", APIToken: "t"},
			wantErr:  errors.IsValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := factory.Build(tt.platform, tt.cfg)
			if tt.wantErr != nil {
				if err == nil || !tt.wantErr(err) {
					t.Fatalf("Build() error = %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Build() error = %v", err)
			}
			if client.Platform() != tt.platform {
				t.Errorf("Platform() = %v, want %v", client.Platform(), tt.platform)
			}
		})
	}
}

func TestFactory_ClientFor_DecryptsConfig(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	codec, err := secrets.NewAESGCM(key)
	if err != nil {
		t.Fatalf("NewAESGCM() error = %v", err)
	}

	blob, err := secrets.EncodeConfig(codec, &secrets.PlatformConfig{
		ServerURL: "https://team.atlassian.net",
		Email:     "pm@example.com",
		APIToken:  "secret",
	})
	if err != nil {
		t.Fatalf("EncodeConfig() error = %v", err)
	}

	conn := &connection.Connection{
		ID:              "conn_test",
		Platform:        connection.PlatformJira,
		EncryptedConfig: blob,
	}

	factory := NewFactory(codec, testConfig(), logger.Default())
	client, err := factory.ClientFor(conn)
	if err != nil {
		t.Fatalf("ClientFor() error = %v", err)
	}
	if client.Platform() != connection.PlatformJira {
		t.Errorf("Platform() = %v", client.Platform())
	}
}
