// Package storetest runs an in-process job store that rejects duplicate job numbers.
package storetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/hellowork-crawler/internal/job"
)

// Server is a fake job store.
type Server struct {
	*httptest.Server

	APIKey string

	mu       sync.Mutex
	jobs     map[job.Number]job.Normalized
	order    []job.Number
	failWith int
	requests int
}

// NewServer starts a store requiring apiKey (empty disables the check). Close it when done.
func NewServer(apiKey string) *Server {
	s := &Server{APIKey: apiKey, jobs: make(map[job.Number]job.Normalized)}
	r := chi.NewRouter()
	r.Post("/jobs", s.create)
	s.Server = httptest.NewServer(r)
	return s
}

// FailWith makes every following request answer status. Zero restores normal behavior.
func (s *Server) FailWith(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = status
}

// Jobs returns the stored records in insertion order.
func (s *Server) Jobs() []job.Normalized {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]job.Normalized, 0, len(s.order))
	for _, n := range s.order {
		out = append(out, s.jobs[n])
	}
	return out
}

// Requests counts POSTs received.
func (s *Server) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++

	if s.APIKey != "" && r.Header.Get("X-API-Key") != s.APIKey {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	if s.failWith != 0 {
		http.Error(w, `{"error":"unavailable"}`, s.failWith)
		return
	}
	var rec job.Normalized
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		http.Error(w, `{"error":"bad json"}`, http.StatusBadRequest)
		return
	}
	if _, dup := s.jobs[rec.JobNumber]; dup {
		http.Error(w, `{"error":"duplicate"}`, http.StatusConflict)
		return
	}
	s.jobs[rec.JobNumber] = rec
	s.order = append(s.order, rec.JobNumber)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = fmt.Fprintf(w, `{"id":"job-%d","jobNumber":%q}`, len(s.order), rec.JobNumber)
}
