package portal

import (
	"bytes"
	"net/http"
	"strings"
	"sync"
)

const (
	csrfCookieName     = "CSRF-Token"
	csrfHeader         = "CSRF-Token"
	csrfMutationHeader = "X-" + csrfCookieName
	csrfFetchValue     = "Fetch"
)

// csrfManager holds the anti-forgery token for one session.
type csrfManager struct {
	mu    sync.Mutex
	token string
}

// apply attaches the token to req and returns the value that was sent.
// GETs always carry the plain header, valued "Fetch" until a token exists.
// Mutations carry X-CSRF-Token once a token exists, except for automation
// accounts.
func (m *csrfManager) apply(req *http.Request, automation bool) string {
	token := m.Token()

	if req.Method == http.MethodGet {
		if token == "" {
			req.Header.Set(csrfHeader, csrfFetchValue)
		} else {
			req.Header.Set(csrfHeader, token)
		}
		return token
	}

	if token == "" || automation {
		return ""
	}
	req.Header.Set(csrfMutationHeader, token)
	return token
}

// capture stores the token from a GET response's Set-Cookie headers.
func (m *csrfManager) capture(resp *http.Response) {
	for _, c := range resp.Cookies() {
		if c.Name != csrfCookieName || c.Value == "" {
			continue
		}
		m.mu.Lock()
		m.token = c.Value
		m.mu.Unlock()
	}
}

// invalidate clears the token if it is still the stale value. A token that
// another request refreshed in the meantime is kept.
func (m *csrfManager) invalidate(stale string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == stale {
		m.token = ""
	}
}

// Token returns the current token, or "" before one is issued.
func (m *csrfManager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// isStaleCSRF reports whether a failed mutation was rejected for its
// anti-forgery token: a 403 whose reason or body mentions CSRF, or a 403 on a
// request that carried no token. Automation accounts are exempt from CSRF
// checks, so their 403s are never treated as stale tokens.
func isStaleCSRF(status int, reason string, body []byte, sentToken string, automation bool) bool {
	if automation || status != http.StatusForbidden {
		return false
	}
	if sentToken == "" {
		return true
	}
	if strings.Contains(strings.ToLower(reason), "csrf") {
		return true
	}
	return bytes.Contains(bytes.ToLower(body), []byte("csrf"))
}
