// Package shojitest serves canned shoji documents over http and records
// every request, so clients can be tested without a live api.
package shojitest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"scrunch/lib/shoji"
	"strings"
	"sync"
	"testing"
)

type Request struct {
	Method string
	URL    string
	Body   []byte
}

// JSON decodes the recorded request body.
func (r Request) JSON(t testing.TB) map[string]any {
	t.Helper()
	var out map[string]any
	err := json.Unmarshal(r.Body, &out)
	if err != nil {
		t.Fatalf("request body of %s %s is not json: %s", r.Method, r.URL, err)
	}
	return out
}

// Reply is a canned response for a non-GET request.
type Reply struct {
	Status   int
	Location string
	Body     any
}

type Server struct {
	*httptest.Server

	mu       sync.Mutex
	fixtures map[string]any
	replies  map[string][]Reply
	requests []Request
}

func NewServer(t testing.TB) *Server {
	s := &Server{
		fixtures: map[string]any{},
		replies:  map[string][]Reply{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// Abs turns a path into an absolute url on this server.
func (s *Server) Abs(path string) string {
	return s.Server.URL + path
}

func (s *Server) key(target string) string {
	return strings.TrimPrefix(target, s.Server.URL)
}

// AddFixture registers the document served on GET path. payload is
// marshalled on every request so later mutations are visible.
func (s *Server) AddFixture(path string, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fixtures[s.key(path)] = payload
}

func (s *Server) Fixture(path string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fixtures[s.key(path)]
}

// Reply queues a response for the next method request to path. Without
// a queued reply POST answers 201 and everything else 204.
func (s *Server) Reply(method, path string, reply Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := method + " " + s.key(path)
	s.replies[k] = append(s.replies[k], reply)
}

func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Last returns the most recent request with the given method.
func (s *Server) Last(t testing.TB, method string) Request {
	t.Helper()
	reqs := s.Requests()
	for i := len(reqs) - 1; i >= 0; i-- {
		if reqs[i].Method == method {
			return reqs[i]
		}
	}
	t.Fatalf("no %s request was made", method)
	return Request{}
}

// Filter returns the requests made with method.
func (s *Server) Filter(method string) []Request {
	var out []Request
	for _, r := range s.Requests() {
		if r.Method == method {
			out = append(out, r)
		}
	}
	return out
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	s.requests = append(s.requests, Request{
		Method: r.Method,
		URL:    s.Abs(r.URL.RequestURI()),
		Body:   body,
	})
	k := r.Method + " " + r.URL.Path
	var reply *Reply
	if queued := s.replies[k]; len(queued) > 0 {
		reply = &queued[0]
		s.replies[k] = queued[1:]
	}
	fixture, hasFixture := s.fixtures[r.URL.Path]
	s.mu.Unlock()

	if reply != nil {
		writeReply(w, *reply)
		return
	}

	switch r.Method {
	case http.MethodGet:
		if !hasFixture {
			http.Error(w, `{"message": "not found"}`, http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(fixture)
	case http.MethodPost:
		w.WriteHeader(http.StatusCreated)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeReply(w http.ResponseWriter, reply Reply) {
	if reply.Location != "" {
		w.Header().Set("Location", reply.Location)
	}
	if reply.Body != nil {
		w.Header().Set("Content-Type", "application/json")
	}
	status := reply.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if reply.Body != nil {
		_ = json.NewEncoder(w).Encode(reply.Body)
	}
}

// Session returns a session bound to the server's /api/ root without
// logging in.
func (s *Server) Session(t testing.TB) *shoji.Session {
	t.Helper()
	session, err := shoji.NewSession(context.Background(), shoji.SessionOptions{
		BaseUrl: s.Abs("/api/"),
	})
	if err != nil {
		t.Fatal(err)
	}
	session.SetFeatureFlags(map[string]bool{})
	return session
}
