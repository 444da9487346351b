package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/time/rate"

	apperrors "github.com/chongkelv123/prism-sub004/internal/pkg/errors"
	"github.com/chongkelv123/prism-sub004/internal/pkg/logger"
)

// restClient is the shared HTTP core under every platform variant. It owns
// base URL normalization, credential application, throttling and the
// translation of transport failures into the application error taxonomy.
type restClient struct {
	baseURL string
	creds   Credentials
	client  *http.Client
	limiter *rate.Limiter
	log     *logger.Logger
}

// newRESTClient builds the shared core. serverURL may carry a trailing
// slash; versionPath is the variant's API prefix (e.g. "/rest/api/3").
func newRESTClient(serverURL, versionPath string, creds Credentials, cfg Config, log *logger.Logger) *restClient {
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &restClient{
		baseURL: strings.TrimRight(serverURL, "/") + versionPath,
		creds:   creds,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		log:     log,
	}
}

// getJSON performs a GET against path, decodes a 2xx body into out.
func (c *restClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	body, err := c.do(ctx, http.MethodGet, path, query)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperrors.Wrap(apperrors.CodeUpstreamAPI, fmt.Sprintf("decoding response from %s", path), err)
	}
	return nil
}

func (c *restClient) do(ctx context.Context, method, path string, query url.Values) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, apperrors.TimeoutError("rate limit wait")
		}
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, apperrors.ValidationError(fmt.Sprintf("building request for %s", path))
	}
	req.Header.Set("Accept", "application/json")
	c.creds.apply(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, translateTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, apperrors.UnreachableError("reading response body", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}
	return nil, translateStatus(resp.StatusCode)
}

// translateStatus maps upstream HTTP status codes onto the error taxonomy.
// The upstream status is preserved in the message so callers can surface
// vendor-specific detail.
func translateStatus(code int) error {
	switch code {
	case http.StatusUnauthorized:
		return apperrors.AuthenticationError(code, http.StatusText(code))
	case http.StatusForbidden:
		return apperrors.AccessDeniedError(fmt.Sprintf("upstream resource (%d)", code))
	case http.StatusNotFound:
		return apperrors.NotFoundError("upstream resource")
	case http.StatusTooManyRequests:
		return apperrors.RateLimitedError(0)
	default:
		return apperrors.UpstreamError(code, http.StatusText(code))
	}
}

// translateTransportError maps network-level failures. Timeouts and
// unreachable hosts get distinct codes so the verifier can report them
// precisely.
func translateTransportError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return apperrors.TimeoutError("request to upstream")
		}
		err = urlErr.Err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.TimeoutError("request to upstream")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperrors.TimeoutError("request to upstream")
	}
	return apperrors.UnreachableError("upstream unreachable", err)
}
