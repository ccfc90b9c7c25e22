package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
)

const maxResponseSize = 32 << 20

// response is a fully read HTTP response.
type response struct {
	method    string
	uri       string
	status    int
	body      []byte
	sentToken string
}

func (r *response) ok() bool {
	return r.status >= 200 && r.status <= 299
}

// reason returns the server-supplied Reason, falling back to the status text.
func (r *response) reason() string {
	var env struct {
		Reason string `json:"Reason"`
	}
	if err := json.Unmarshal(r.body, &env); err == nil && env.Reason != "" {
		return env.Reason
	}
	return http.StatusText(r.status)
}

func (r *response) err() error {
	return &PortalError{StatusCode: r.status, Reason: r.reason(), Method: r.method, URI: r.uri}
}

// Get issues a GET and decodes the JSON body into out.
func (s *Session) Get(ctx context.Context, path string, query url.Values, out any) error {
	return s.Request(ctx, http.MethodGet, path, query, nil, out)
}

// Post issues a POST with body encoded as JSON.
func (s *Session) Post(ctx context.Context, path string, query url.Values, body, out any) error {
	return s.Request(ctx, http.MethodPost, path, query, body, out)
}

// Put issues a PUT with body encoded as JSON.
func (s *Session) Put(ctx context.Context, path string, query url.Values, body, out any) error {
	return s.Request(ctx, http.MethodPut, path, query, body, out)
}

// Delete issues a DELETE.
func (s *Session) Delete(ctx context.Context, path string, query url.Values, out any) error {
	return s.Request(ctx, http.MethodDelete, path, query, nil, out)
}

// Request sends one call to the device.
//
// The body, when non-nil, is encoded as JSON. The request carries basic auth,
// an X-Request-ID and the CSRF header appropriate to the method. A PUT rejected
// for a stale CSRF token is retried exactly once after the token is refreshed.
//
// Parameters:
//   - method: GET, POST, PUT or DELETE
//   - path: Endpoint path relative to the base URL, e.g. "api/os/info"
//   - query: Query parameters (may be nil)
//   - body: Request payload (may be nil)
//   - out: Destination for the JSON response (may be nil)
//
// Returns:
//   - error: *PortalError for non-success statuses, *TransportError for network
//     failures, *ProtocolFormatError for undecodable bodies; nil on success,
//     including success with an empty body
func (s *Session) Request(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("portal: encoding %s body: %w", path, err)
		}
	}

	res, err := s.send(ctx, method, path, query, payload)
	if err != nil {
		return err
	}

	if !res.ok() && method == http.MethodPut &&
		isStaleCSRF(res.status, res.reason(), res.body, res.sentToken, s.descriptor.Credentials().IsAutomation()) {
		s.logger.Debug("csrf token rejected, refreshing", "path", path)
		s.csrf.invalidate(res.sentToken)

		if err := s.refreshCSRF(ctx); err != nil {
			return fmt.Errorf("portal: refreshing csrf token: %w", err)
		}

		res, err = s.send(ctx, method, path, query, payload)
		if err != nil {
			return err
		}
	}

	if !res.ok() {
		return res.err()
	}

	if out == nil || len(bytes.TrimSpace(res.body)) == 0 {
		return nil
	}
	return decodeJSON(path, res.uri, res.body, out)
}

// refreshCSRF issues a cheap GET so the device sets a new token cookie.
func (s *Session) refreshCSRF(ctx context.Context) error {
	res, err := s.send(ctx, http.MethodGet, MachineNamePath, nil, nil)
	if err != nil {
		return err
	}
	if !res.ok() {
		return res.err()
	}
	return nil
}

// send performs one HTTP exchange and reads the whole body.
func (s *Session) send(ctx context.Context, method, path string, query url.Values, payload []byte) (*response, error) {
	u := s.descriptor.ResolveURL(path, query)
	uri := u.String()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, uri, reader)
	if err != nil {
		return nil, &TransportError{Method: method, URI: uri, Err: err}
	}

	creds := s.descriptor.Credentials()
	if creds.Username != "" || creds.Password != "" {
		req.SetBasicAuth(creds.Username, creds.Password)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
	sent := s.csrf.apply(req, creds.IsAutomation())

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &TransportError{Method: method, URI: uri, Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &TransportError{Method: method, URI: uri, Err: fmt.Errorf("reading body: %w", err)}
	}

	if method == http.MethodGet {
		s.csrf.capture(resp)
	}

	s.logger.Debug("portal request",
		"method", method,
		"path", u.Path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &response{
		method:    method,
		uri:       uri,
		status:    resp.StatusCode,
		body:      body,
		sentToken: sent,
	}, nil
}
