package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/typepulse/typepulse/internal/credential"
)

// Source identifies this client in activity reports.
const Source = "typepulse"

// Client issues bearer-authenticated JSON calls to the backend. A 401 response
// on any call synchronously clears the stored credential; callers must not
// retry automatically.
type Client struct {
	baseURL    string
	creds      *credential.Store
	httpClient *http.Client
}

// NewClient creates a backend client bound to the given credential store.
func NewClient(baseURL string, creds *credential.Store) *Client {
	return &Client{
		baseURL: baseURL,
		creds:   creds,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Request performs an authenticated call against the backend and returns the
// raw JSON response body.
//
// Failure modes:
//   - no credential present: Unauthenticated, without a network call
//   - 401 response: AuthExpired, after clearing the stored credential
//   - other non-2xx: HTTPError carrying the backend's error message when the
//     body parses as JSON, the raw status text otherwise
//   - transport failure: NetworkError
//   - 2xx with a non-JSON body: ParseError
func (c *Client) Request(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
	token, ok := c.creds.Get()
	if !ok {
		return nil, &Error{Type: TypeUnauthenticated, Message: "not authenticated", StatusCode: http.StatusUnauthorized}
	}

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return nil, &Error{Type: TypeNetworkError, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Type: TypeNetworkError, Message: "request failed", Cause: err}
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("failed to close response body: %v", errClose)
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Type: TypeNetworkError, Message: "failed to read response", Cause: err}
	}

	log.Debugf("%s %s -> %d", method, endpoint, resp.StatusCode)

	if resp.StatusCode == http.StatusUnauthorized {
		if errClear := c.creds.Clear(); errClear != nil {
			log.Warnf("failed to clear expired credential: %v", errClear)
		}
		return nil, &Error{Type: TypeAuthExpired, Message: "authentication expired, please login again", StatusCode: resp.StatusCode}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{
			Type:       TypeHTTPError,
			Message:    errorMessage(respBody, resp.Status),
			StatusCode: resp.StatusCode,
		}
	}

	if !gjson.ValidBytes(respBody) {
		return nil, &Error{Type: TypeParseError, Message: "failed to parse response", StatusCode: resp.StatusCode}
	}

	return respBody, nil
}

// errorMessage extracts a human-readable message from a JSON error body,
// falling back to the raw status text.
func errorMessage(body []byte, status string) string {
	if gjson.ValidBytes(body) {
		if msg := gjson.GetBytes(body, "error"); msg.Exists() && msg.String() != "" {
			return msg.String()
		}
		if msg := gjson.GetBytes(body, "message"); msg.Exists() && msg.String() != "" {
			return msg.String()
		}
	}
	return fmt.Sprintf("request failed: %s", status)
}

// IsAuthenticated performs a lightweight who-am-I call against the backend.
// Any failure reads as "not authenticated" and additionally clears the stored
// credential so stale tokens never linger.
func (c *Client) IsAuthenticated(ctx context.Context) bool {
	body, err := c.Request(ctx, http.MethodGet, "/auth/user", nil)
	if err != nil {
		if !IsUnauthenticated(err) {
			log.Debugf("auth check failed: %v", err)
			if errClear := c.creds.Clear(); errClear != nil {
				log.Warnf("failed to clear stale credential: %v", errClear)
			}
		}
		return false
	}
	return gjson.GetBytes(body, "authenticated").Bool()
}

// CurrentUser returns the raw user object from the who-am-I endpoint, or nil
// when the call fails.
func (c *Client) CurrentUser(ctx context.Context) []byte {
	body, err := c.Request(ctx, http.MethodGet, "/auth/user", nil)
	if err != nil {
		return nil
	}
	return body
}

// StartActivity opens or refreshes a typing session on the backend. The same
// endpoint serves both cases; the latest returned typing_id is canonical.
func (c *Client) StartActivity(ctx context.Context, languageTag, deviceID string) (int64, error) {
	body, _ := sjson.Set("", "language_tag", languageTag)
	body, _ = sjson.Set(body, "source", Source)
	body, _ = sjson.Set(body, "device_id", deviceID)

	respBody, err := c.Request(ctx, http.MethodPost, "/api/activity/start", []byte(body))
	if err != nil {
		return 0, err
	}

	if !gjson.GetBytes(respBody, "success").Bool() {
		return 0, &Error{Type: TypeHTTPError, Message: errorMessage(respBody, "session not started")}
	}
	sessionID := gjson.GetBytes(respBody, "session.typing_id")
	if !sessionID.Exists() {
		return 0, &Error{Type: TypeParseError, Message: "response missing session.typing_id"}
	}
	return sessionID.Int(), nil
}

// EndActivity closes the given typing session on the backend.
func (c *Client) EndActivity(ctx context.Context, sessionID int64, deviceID string) error {
	body, _ := sjson.Set("", "typing_id", sessionID)
	body, _ = sjson.Set(body, "device_id", deviceID)

	respBody, err := c.Request(ctx, http.MethodPost, "/api/activity/end", []byte(body))
	if err != nil {
		return err
	}
	if !gjson.GetBytes(respBody, "success").Bool() {
		return &Error{Type: TypeHTTPError, Message: errorMessage(respBody, "session not ended")}
	}
	return nil
}
