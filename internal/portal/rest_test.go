package portal

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"
)

func TestSession_Request_HeadersAndQuery(t *testing.T) {
	fp := newFakePortal(t)
	var gotQuery url.Values
	var gotBody map[string]string
	fp.handle("/api/echo", func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		if r.Body != nil {
			data, _ := io.ReadAll(r.Body)
			if len(data) > 0 {
				_ = json.Unmarshal(data, &gotBody)
			}
		}
		w.WriteHeader(http.StatusOK)
	})
	s, _ := newPlainSession(t, fp, Credentials{Username: "admin", Password: "p@ss"})

	q := url.Values{}
	q.Set("name", "living room")
	if err := s.Post(context.Background(), "api/echo", q, map[string]string{"k": "v"}, nil); err != nil {
		t.Fatalf("Post() error = %v", err)
	}

	req := fp.lastRequest("/api/echo")
	user, pass, ok := req.BasicAuth()
	if !ok || user != "admin" || pass != "p@ss" {
		t.Errorf("BasicAuth() = %q, %q, %v", user, pass, ok)
	}
	if req.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
	if req.Header.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", req.Header.Get("Content-Type"))
	}
	if gotQuery.Get("name") != "living room" {
		t.Errorf("query name = %q", gotQuery.Get("name"))
	}
	if gotBody["k"] != "v" {
		t.Errorf("body = %v", gotBody)
	}
}

func TestSession_Request_PortalError(t *testing.T) {
	fp := newFakePortal(t)
	fp.handle("/api/reason", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"Code":-2147024809,"Reason":"Invalid package","Success":false}`))
	})
	fp.handle("/api/bare", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	s, srv := newPlainSession(t, fp, Credentials{})

	err := s.Get(context.Background(), "api/reason", nil, nil)
	var pe *PortalError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %v, want *PortalError", err)
	}
	if pe.StatusCode != http.StatusUnprocessableEntity || pe.Reason != "Invalid package" {
		t.Errorf("PortalError = %+v", pe)
	}
	if pe.URI != srv.URL+"/api/reason" || pe.Method != http.MethodGet {
		t.Errorf("PortalError origin = %s %s", pe.Method, pe.URI)
	}

	err = s.Get(context.Background(), "api/bare", nil, nil)
	if !IsUnauthorized(err) {
		t.Fatalf("IsUnauthorized(%v) = false", err)
	}
	if errors.As(err, &pe); pe.Reason != "Unauthorized" {
		t.Errorf("Reason = %q, want status text fallback", pe.Reason)
	}
}

func TestSession_Request_EmptyBody(t *testing.T) {
	fp := newFakePortal(t)
	fp.handle("/api/empty", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	s, _ := newPlainSession(t, fp, Credentials{})

	var out struct{ Value int }
	if err := s.Get(context.Background(), "api/empty", nil, &out); err != nil {
		t.Fatalf("Get() on empty body error = %v", err)
	}
	if out.Value != 0 {
		t.Errorf("out modified: %+v", out)
	}
}

func TestSession_Request_MalformedJSON(t *testing.T) {
	fp := newFakePortal(t)
	fp.handle("/api/broken", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"Value":`))
	})
	s, _ := newPlainSession(t, fp, Credentials{})

	var out struct{ Value int }
	err := s.Get(context.Background(), "api/broken", nil, &out)
	var pfe *ProtocolFormatError
	if !errors.As(err, &pfe) {
		t.Fatalf("error = %v, want *ProtocolFormatError", err)
	}
}

func TestSession_Request_TransportError(t *testing.T) {
	fp := newFakePortal(t)
	s, srv := newPlainSession(t, fp, Credentials{})
	srv.Close()

	err := s.Get(context.Background(), OSInfoPath, nil, nil)
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("error = %v, want *TransportError", err)
	}
	if StatusCode(err) != 0 {
		t.Errorf("StatusCode(transport error) = %d, want 0", StatusCode(err))
	}
}

func TestSession_Request_Timeout(t *testing.T) {
	fp := newFakePortal(t)
	release := make(chan struct{})
	fp.handle("/api/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusOK)
	})
	s, _ := newPlainSession(t, fp, Credentials{})
	s.timeout = 50 * time.Millisecond
	defer close(release)

	err := s.Get(context.Background(), "api/slow", nil, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want deadline exceeded", err)
	}
}

func TestSession_Request_ConcurrentCalls(t *testing.T) {
	fp := newFakePortal(t)
	s, _ := newPlainSession(t, fp, Credentials{Username: "admin", Password: "pw"})

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := s.OSInfo(context.Background())
			errs <- err
		}()
		go func() {
			defer wg.Done()
			errs <- s.Put(context.Background(), "api/test/put", nil, nil, nil)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("concurrent call error = %v", err)
		}
	}
}

func TestSession_CSRF_GetSendsFetchThenToken(t *testing.T) {
	fp := newFakePortal(t)
	fp.rotateToken("ABC")
	s, _ := newPlainSession(t, fp, Credentials{})

	if _, err := s.OSInfo(context.Background()); err != nil {
		t.Fatalf("OSInfo() error = %v", err)
	}
	if got := fp.lastRequest("/api/os/info").Header.Get("CSRF-Token"); got != "Fetch" {
		t.Errorf("first GET CSRF-Token = %q, want Fetch", got)
	}
	if got := s.csrf.Token(); got != "ABC" {
		t.Fatalf("captured token = %q, want ABC", got)
	}

	if _, err := s.OSInfo(context.Background()); err != nil {
		t.Fatalf("OSInfo() error = %v", err)
	}
	if got := fp.lastRequest("/api/os/info").Header.Get("CSRF-Token"); got != "ABC" {
		t.Errorf("second GET CSRF-Token = %q, want ABC", got)
	}
}

func TestSession_CSRF_MutationHeader(t *testing.T) {
	fp := newFakePortal(t)
	fp.rotateToken("ABC")
	s, _ := newPlainSession(t, fp, Credentials{})

	if _, err := s.OSInfo(context.Background()); err != nil {
		t.Fatalf("OSInfo() error = %v", err)
	}
	if err := s.Put(context.Background(), "api/test/put", nil, nil, nil); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	fp.mu.Lock()
	defer fp.mu.Unlock()
	if fp.putAttempts != 1 {
		t.Errorf("PUT attempts = %d, want 1", fp.putAttempts)
	}
	if fp.putHeaders[0] != "ABC" {
		t.Errorf("X-CSRF-Token = %q, want ABC", fp.putHeaders[0])
	}
}

func TestSession_CSRF_StalePutRetriedOnce(t *testing.T) {
	fp := newFakePortal(t)
	fp.rotateToken("ABC")
	s, _ := newPlainSession(t, fp, Credentials{})

	if _, err := s.OSInfo(context.Background()); err != nil {
		t.Fatalf("OSInfo() error = %v", err)
	}
	fp.rotateToken("DEF")

	if err := s.Put(context.Background(), "api/test/put", nil, nil, nil); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	fp.mu.Lock()
	defer fp.mu.Unlock()
	if fp.putAttempts != 2 {
		t.Fatalf("PUT attempts = %d, want 2", fp.putAttempts)
	}
	if fp.putHeaders[0] != "ABC" || fp.putHeaders[1] != "DEF" {
		t.Errorf("X-CSRF-Token sequence = %v, want [ABC DEF]", fp.putHeaders)
	}
	if s.csrf.Token() != "DEF" {
		t.Errorf("token after refresh = %q, want DEF", s.csrf.Token())
	}
}

func TestSession_CSRF_SecondRejectionSurfaced(t *testing.T) {
	fp := newFakePortal(t)
	fp.rejectAllPuts = true
	s, _ := newPlainSession(t, fp, Credentials{})

	if _, err := s.OSInfo(context.Background()); err != nil {
		t.Fatalf("OSInfo() error = %v", err)
	}

	err := s.Put(context.Background(), "api/test/put", nil, nil, nil)
	if !IsStatus(err, http.StatusForbidden) {
		t.Fatalf("Put() error = %v, want 403 PortalError", err)
	}

	fp.mu.Lock()
	defer fp.mu.Unlock()
	if fp.putAttempts != 2 {
		t.Errorf("PUT attempts = %d, want exactly 2", fp.putAttempts)
	}
}

func TestSession_CSRF_NoRetryForPostOrAutomation(t *testing.T) {
	t.Run("post", func(t *testing.T) {
		fp := newFakePortal(t)
		s, _ := newPlainSession(t, fp, Credentials{})
		if _, err := s.OSInfo(context.Background()); err != nil {
			t.Fatalf("OSInfo() error = %v", err)
		}
		fp.rotateToken("NEW")

		if err := s.Post(context.Background(), "api/test/post", nil, nil, nil); !IsStatus(err, http.StatusForbidden) {
			t.Fatalf("Post() error = %v, want 403", err)
		}
		fp.mu.Lock()
		defer fp.mu.Unlock()
		if fp.postAttempts != 1 {
			t.Errorf("POST attempts = %d, want 1", fp.postAttempts)
		}
	})

	t.Run("automation account", func(t *testing.T) {
		fp := newFakePortal(t)
		s, _ := newPlainSession(t, fp, Credentials{Username: "auto-build"})
		if _, err := s.OSInfo(context.Background()); err != nil {
			t.Fatalf("OSInfo() error = %v", err)
		}

		if err := s.Put(context.Background(), "api/test/put", nil, nil, nil); !IsStatus(err, http.StatusForbidden) {
			t.Fatalf("Put() error = %v, want 403", err)
		}
		fp.mu.Lock()
		defer fp.mu.Unlock()
		if fp.putAttempts != 1 {
			t.Errorf("PUT attempts = %d, want 1", fp.putAttempts)
		}
		if fp.putHeaders[0] != "" {
			t.Errorf("automation PUT carried X-CSRF-Token %q", fp.putHeaders[0])
		}
	})
}

func TestIsStaleCSRF(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		reason     string
		body       string
		sent       string
		automation bool
		want       bool
	}{
		{"reason mentions csrf", 403, "CSRF token invalid", "", "tok", false, true},
		{"body mentions csrf", 403, "Forbidden", `{"Error":"bad csrf"}`, "tok", false, true},
		{"no token sent", 403, "Forbidden", "", "", false, true},
		{"unrelated forbidden", 403, "Access denied", "", "tok", false, false},
		{"not forbidden", 401, "CSRF", "", "tok", false, false},
		{"automation exempt", 403, "CSRF", "", "", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isStaleCSRF(tt.status, tt.reason, []byte(tt.body), tt.sent, tt.automation); got != tt.want {
				t.Errorf("isStaleCSRF() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCSRFManager_InvalidateKeepsFreshToken(t *testing.T) {
	var m csrfManager
	m.token = "fresh"
	m.invalidate("stale")
	if m.Token() != "fresh" {
		t.Errorf("Token() = %q, a newer token must survive invalidation of an older one", m.Token())
	}
	m.invalidate("fresh")
	if m.Token() != "" {
		t.Errorf("Token() = %q, want cleared", m.Token())
	}
}
