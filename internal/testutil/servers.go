package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
)

// TokenServer is a stub OAuth2 token endpoint. By default it answers
// every jwt-bearer grant with {access_token, expires_in, token_type}.
type TokenServer struct {
	*httptest.Server

	requests atomic.Int64

	mu         sync.Mutex
	token      string
	expiresIn  int64
	status     int
	body       string
	gate       chan struct{}
	assertions []string
}

// NewTokenServer starts a TokenServer that issues token with the given
// lifetime in seconds. It is closed on test cleanup.
func NewTokenServer(t testing.TB, token string, expiresIn int64) *TokenServer {
	t.Helper()
	s := &TokenServer{token: token, expiresIn: expiresIn, status: http.StatusOK}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *TokenServer) serve(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)

	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}

	if err := r.ParseForm(); err != nil || r.Method != http.MethodPost ||
		r.PostForm.Get("grant_type") != "urn:ietf:params:oauth:grant-type:jwt-bearer" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = fmt.Fprint(w, `{"error":"unsupported_grant_type"}`)
		return
	}

	s.mu.Lock()
	s.assertions = append(s.assertions, r.PostForm.Get("assertion"))
	status, body, token, expiresIn := s.status, s.body, s.token, s.expiresIn
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != "" {
		_, _ = fmt.Fprint(w, body)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token": token,
		"expires_in":   expiresIn,
		"token_type":   "Bearer",
	})
}

// Requests returns how many requests the server has received.
func (s *TokenServer) Requests() int { return int(s.requests.Load()) }

// Assertions returns the assertion parameters received so far.
func (s *TokenServer) Assertions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.assertions...)
}

// SetToken changes the token and lifetime returned by later requests.
func (s *TokenServer) SetToken(token string, expiresIn int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token, s.expiresIn = token, expiresIn
}

// Respond makes later requests answer with a fixed status and raw body.
// An empty body restores the default token response with that status.
func (s *TokenServer) Respond(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status, s.body = status, body
}

// Hold makes later requests block until the returned release function is
// called. Use it to pile up concurrent callers behind one refresh.
func (s *TokenServer) Hold() (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.gate = gate
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.gate = nil
			s.mu.Unlock()
			close(gate)
		})
	}
}

// KeyServer is a stub key-set endpoint serving a JSON map of key id to
// PEM with a Cache-Control max-age header.
type KeyServer struct {
	*httptest.Server

	requests atomic.Int64

	mu           sync.Mutex
	keys         map[string]string
	cacheControl string
	status       int
	gate         chan struct{}
}

// NewKeyServer starts a KeyServer serving keys with the given
// Cache-Control header value. It is closed on test cleanup.
func NewKeyServer(t testing.TB, keys map[string]string, cacheControl string) *KeyServer {
	t.Helper()
	s := &KeyServer{keys: keys, cacheControl: cacheControl, status: http.StatusOK}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *KeyServer) serve(w http.ResponseWriter, _ *http.Request) {
	s.requests.Add(1)

	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	keys, cc, status := s.keys, s.cacheControl, s.status
	s.mu.Unlock()

	if cc != "" {
		w.Header().Set("Cache-Control", cc)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if status == http.StatusOK {
		_ = json.NewEncoder(w).Encode(keys)
	}
}

// Requests returns how many fetches the server has received.
func (s *KeyServer) Requests() int { return int(s.requests.Load()) }

// SetKeys replaces the served key set.
func (s *KeyServer) SetKeys(keys map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = keys
}

// SetStatus makes later fetches answer with status and no body.
func (s *KeyServer) SetStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// Hold makes later fetches block until release is called.
func (s *KeyServer) Hold() (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.gate = gate
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.gate = nil
			s.mu.Unlock()
			close(gate)
		})
	}
}
