package portal

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"
)

// testPKI is a throwaway CA that issues server certificates.
type testPKI struct {
	ca    *x509.Certificate
	caKey *ecdsa.PrivateKey
}

var serialCounter int64 = 1

var serialMu sync.Mutex

func nextSerial() *big.Int {
	serialMu.Lock()
	defer serialMu.Unlock()
	serialCounter++
	return big.NewInt(serialCounter)
}

func newTestPKI(t *testing.T, issuerCN string) *testPKI {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating CA key: %v", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber:          nextSerial(),
		Subject:               pkix.Name{CommonName: issuerCN},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("creating CA certificate: %v", err)
	}
	ca, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parsing CA certificate: %v", err)
	}

	return &testPKI{ca: ca, caKey: key}
}

// issue creates a leaf for 127.0.0.1 signed by the CA.
func (p *testPKI) issue(t *testing.T) (tls.Certificate, *x509.Certificate) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating leaf key: %v", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: nextSerial(),
		Subject:      pkix.Name{CommonName: "portal-device"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		DNSNames:     []string{"localhost"},
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, p.ca, &key.PublicKey, p.caKey)
	if err != nil {
		t.Fatalf("creating leaf certificate: %v", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parsing leaf certificate: %v", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{der, p.ca.Raw},
		PrivateKey:  key,
		Leaf:        leaf,
	}, leaf
}

// fakePortal emulates the device endpoints used by the session layer.
type fakePortal struct {
	t *testing.T

	mu            sync.Mutex
	rootCert      []byte
	family        string
	osInfo        OSInfo
	osInfoStatus  int
	httpsRequired *bool
	httpsStatus   int
	ipConfig      IPConfiguration
	wifi          WiFiInterfaces
	wifiConnects  []url.Values
	csrfToken     string
	putAttempts   int
	postAttempts  int
	putHeaders    []string
	rejectAllPuts bool
	requests      []*http.Request
	extra         map[string]http.HandlerFunc
}

func newFakePortal(t *testing.T) *fakePortal {
	t.Helper()
	return &fakePortal{
		t:      t,
		family: "Windows.Desktop",
		osInfo: OSInfo{
			ComputerName: "PORTAL-01",
			Language:     "en-US",
			OsEdition:    "Enterprise",
			OsEditionID:  4,
			OsVersion:    "10.0.19041.1",
			Platform:     "Windows Desktop",
		},
		csrfToken: "token-1",
		extra:     map[string]http.HandlerFunc{},
	}
}

func (f *fakePortal) handle(path string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extra[path] = h
}

func (f *fakePortal) rotateToken(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.csrfToken = token
}

func (f *fakePortal) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r.Clone(r.Context()))
	token := f.csrfToken
	extra := f.extra[r.URL.Path]
	f.mu.Unlock()

	if r.Method == http.MethodGet {
		http.SetCookie(w, &http.Cookie{Name: "CSRF-Token", Value: token, Path: "/"})
	}

	if extra != nil {
		extra(w, r)
		return
	}

	switch r.URL.Path {
	case "/config/rootcertificate":
		f.mu.Lock()
		cert := f.rootCert
		f.mu.Unlock()
		if cert == nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/x-x509-ca-cert")
		_, _ = w.Write(cert)

	case "/api/os/devicefamily":
		f.writeJSON(w, map[string]string{"DeviceType": f.family})

	case "/api/os/info":
		f.mu.Lock()
		status := f.osInfoStatus
		info := f.osInfo
		f.mu.Unlock()
		if status != 0 {
			w.WriteHeader(status)
			f.writeJSON(w, map[string]any{"Reason": "os info denied", "Success": false})
			return
		}
		f.writeJSON(w, info)

	case "/api/os/machinename":
		f.writeJSON(w, map[string]string{"ComputerName": f.osInfo.ComputerName})

	case "/config/https":
		f.mu.Lock()
		required, status := f.httpsRequired, f.httpsStatus
		f.mu.Unlock()
		if status != 0 {
			w.WriteHeader(status)
			return
		}
		if required == nil {
			http.NotFound(w, r)
			return
		}
		f.writeJSON(w, map[string]bool{"HttpsRequired": *required})

	case "/api/networking/ipconfig":
		f.writeJSON(w, f.ipConfig)

	case "/api/wifi/interfaces":
		f.writeJSON(w, f.wifi)

	case "/api/wifi/network":
		f.mu.Lock()
		f.wifiConnects = append(f.wifiConnects, r.URL.Query())
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)

	case "/api/test/put":
		f.mu.Lock()
		f.putAttempts++
		f.putHeaders = append(f.putHeaders, r.Header.Get("X-CSRF-Token"))
		reject := f.rejectAllPuts || r.Header.Get("X-CSRF-Token") != f.csrfToken
		f.mu.Unlock()
		if reject {
			w.WriteHeader(http.StatusForbidden)
			f.writeJSON(w, map[string]any{"Reason": "CSRF token validation failed", "Success": false})
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case "/api/test/post":
		f.mu.Lock()
		f.postAttempts++
		reject := r.Header.Get("X-CSRF-Token") != f.csrfToken
		f.mu.Unlock()
		if reject {
			w.WriteHeader(http.StatusForbidden)
			f.writeJSON(w, map[string]any{"Reason": "CSRF token validation failed"})
			return
		}
		w.WriteHeader(http.StatusOK)

	default:
		http.NotFound(w, r)
	}
}

func (f *fakePortal) writeJSON(w http.ResponseWriter, v any) {
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		f.t.Errorf("encoding fake response: %v", err)
	}
}

func (f *fakePortal) lastRequest(path string) *http.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.requests) - 1; i >= 0; i-- {
		if f.requests[i].URL.Path == path {
			return f.requests[i]
		}
	}
	return nil
}

// newPlainSession starts an http fake Portal and a session against it.
func newPlainSession(t *testing.T, fp *fakePortal, creds Credentials) (*Session, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(fp)
	t.Cleanup(srv.Close)

	d, err := NewDescriptor(srv.URL, creds)
	if err != nil {
		t.Fatalf("NewDescriptor: %v", err)
	}
	s, err := NewSession(d, Options{})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s, srv
}

// newTLSPortal starts an https fake Portal presenting a leaf from pki.
func newTLSPortal(t *testing.T, fp *fakePortal, pki *testPKI) *httptest.Server {
	t.Helper()

	cert, _ := pki.issue(t)
	srv := httptest.NewUnstartedServer(fp)
	srv.TLS = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	srv.StartTLS()
	t.Cleanup(srv.Close)
	return srv
}

func boolPtr(b bool) *bool { return &b }
