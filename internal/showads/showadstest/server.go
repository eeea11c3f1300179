// Package showadstest provides an in-process ShowAds API double for tests.
// It issues tokens from /auth, verifies Bearer tokens on the bulk endpoint
// and can be scripted to answer with failure statuses.
package showadstest

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/vojhanzlik/showads-connector/internal/showads"
)

// Server is a fake ShowAds API backed by httptest.
type Server struct {
	srv *httptest.Server

	projectKey string

	mu         sync.Mutex
	authCalls  int
	bulkCalls  int
	authScript []int
	bulkScript []int
	retryAfter int
	tokens     map[string]bool
	received   [][]showads.BulkItem
}

// New starts a fake API that accepts the given project key.
// Callers must Close it.
func New(projectKey string) *Server {
	s := &Server{
		projectKey: projectKey,
		tokens:     make(map[string]bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/auth", s.handleAuth)
	mux.HandleFunc("/banners/show/bulk", s.handleBulk)
	s.srv = httptest.NewServer(mux)
	return s
}

// URL returns the base URL of the fake API.
func (s *Server) URL() string { return s.srv.URL }

// Close shuts the fake API down.
func (s *Server) Close() { s.srv.Close() }

// ScriptAuth queues statuses for upcoming /auth calls. Once the queue is
// drained, calls succeed again.
func (s *Server) ScriptAuth(codes ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authScript = append(s.authScript, codes...)
}

// ScriptBulk queues statuses for upcoming bulk calls. Once the queue is
// drained, calls succeed again.
func (s *Server) ScriptBulk(codes ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bulkScript = append(s.bulkScript, codes...)
}

// SetRetryAfter makes scripted 429 responses carry a Retry-After header.
func (s *Server) SetRetryAfter(seconds int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retryAfter = seconds
}

// RevokeTokens invalidates every issued token, so in-flight clients start
// receiving 401 until they re-authenticate.
func (s *Server) RevokeTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = make(map[string]bool)
}

// AuthCalls reports how many times /auth was hit.
func (s *Server) AuthCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authCalls
}

// BulkCalls reports how many times the bulk endpoint was hit.
func (s *Server) BulkCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bulkCalls
}

// Received returns the item lists of all accepted bulk requests, in
// arrival order.
func (s *Server) Received() [][]showads.BulkItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]showads.BulkItem, len(s.received))
	copy(out, s.received)
	return out
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.Lock()
	s.authCalls = s.authCalls + 1
	calls := s.authCalls
	scripted := popScript(&s.authScript)
	s.mu.Unlock()

	if scripted != 0 && scripted != http.StatusOK {
		http.Error(w, http.StatusText(scripted), scripted)
		return
	}

	var req showads.AuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.ProjectKey != s.projectKey {
		http.Error(w, "Unknown project key", http.StatusUnauthorized)
		return
	}

	token := fmt.Sprintf("token-%d", calls)
	s.mu.Lock()
	s.tokens[token] = true
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(showads.AuthResponse{AccessToken: token})
}

func (s *Server) handleBulk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.Lock()
	s.bulkCalls = s.bulkCalls + 1
	scripted := popScript(&s.bulkScript)
	retryAfter := s.retryAfter
	s.mu.Unlock()

	// Scripted statuses win over everything, so tests can force a 401
	// even while the presented token is valid.
	if scripted != 0 && scripted != http.StatusOK {
		if scripted == http.StatusTooManyRequests && retryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		}
		http.Error(w, http.StatusText(scripted), scripted)
		return
	}

	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || !s.validToken(token) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var body io.Reader = r.Body
	if r.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(r.Body)
		if err != nil {
			http.Error(w, "Invalid gzip body", http.StatusBadRequest)
			return
		}
		defer gz.Close()
		body = gz
	}

	var req showads.BulkRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if len(req.Data) == 0 {
		http.Error(w, "Data must not be empty", http.StatusBadRequest)
		return
	}

	items := make([]showads.BulkItem, len(req.Data))
	copy(items, req.Data)
	s.mu.Lock()
	s.received = append(s.received, items)
	s.mu.Unlock()

	w.WriteHeader(http.StatusOK)
}

func (s *Server) validToken(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens[token]
}

// popScript takes the next scripted status, or 0 when the queue is empty.
func popScript(script *[]int) int {
	if len(*script) == 0 {
		return 0
	}
	code := (*script)[0]
	*script = (*script)[1:]
	return code
}
