// ABOUTME: In-memory fake of the agent service's HTTP API for tests
// ABOUTME: Records every request and lets tests inject failures per endpoint

package memgpttest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
)

// Request is one recorded call.
type Request struct {
	Method string
	Path   string
	Query  string
	Auth   string
	Body   string
}

// Server fakes the agent service under the /api prefix.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	sources  map[string]string // name -> id
	agents   map[string]json.RawMessage
	attached map[string][]string // agent id -> source ids
	requests []Request
	nextID   int

	// Reply answers a message for an agent. Returning a status other than 200
	// fails the request with body as the error text. Default echoes a fixed reply.
	Reply func(agentID, message string) (status int, body string)

	// Attach decides the outcome of an attach call. Default succeeds when both ids exist.
	Attach func(agentID, sourceID string) (status int, body string)

	// CreateSource can override source creation; return 0 to fall through.
	CreateSource func(name string) (status int, body string)

	healthy bool
}

// New starts a fake server and registers cleanup on t.
func New(t testing.TB) *Server {
	s := &Server{
		sources:  make(map[string]string),
		agents:   make(map[string]json.RawMessage),
		attached: make(map[string][]string),
		healthy:  true,
	}

	r := chi.NewRouter()
	r.Use(s.record)
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.health)
		r.Get("/sources", s.listSources)
		r.Post("/sources", s.createSource)
		r.Post("/sources/{id}/attach", s.attachSource)
		r.Get("/agents", s.listAgents)
		r.Post("/agents", s.createAgent)
		r.Delete("/agents/{id}", s.deleteAgent)
		r.Post("/agents/{id}/messages", s.sendMessage)
	})

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Server.Close)
	return s
}

// BaseURL is the URL clients should be configured with.
func (s *Server) BaseURL() string {
	return s.URL + "/api"
}

// AddSource seeds a source and returns its id.
func (s *Server) AddSource(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addSourceLocked(name)
}

func (s *Server) addSourceLocked(name string) string {
	if id, ok := s.sources[name]; ok {
		return id
	}
	s.nextID++
	id := fmt.Sprintf("source-%d", s.nextID)
	s.sources[name] = id
	return id
}

// AddAgent seeds an agent with a fixed id.
func (s *Server) AddAgent(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[id] = json.RawMessage(`{}`)
}

// HasAgent reports whether the agent exists.
func (s *Server) HasAgent(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.agents[id]
	return ok
}

// AgentConfig returns the config an agent was created with.
func (s *Server) AgentConfig(id string) json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agents[id]
}

// Attached returns the source ids attached to an agent.
func (s *Server) Attached(agentID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.attached[agentID]...)
}

// Requests returns a copy of every recorded request.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Count returns how many requests matched method and path prefix.
func (s *Server) Count(method, pathPrefix string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Method == method && strings.HasPrefix(r.Path, pathPrefix) {
			n++
		}
	}
	return n
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(strings.NewReader(string(body)))

		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Auth:   r.Header.Get("Authorization"),
			Body:   string(body),
		})
		s.mu.Unlock()

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	ok := s.healthy
	s.mu.Unlock()
	if !ok {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// SetHealthy flips the health endpoint.
func (s *Server) SetHealthy(ok bool) {
	s.mu.Lock()
	s.healthy = ok
	s.mu.Unlock()
}

func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := make([]map[string]string, 0, len(s.sources))
	for name, id := range s.sources {
		out = append(out, map[string]string{"name": name, "id": id})
	}
	s.mu.Unlock()
	writeJSON(w, map[string]any{"sources": out})
}

func (s *Server) createSource(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if s.CreateSource != nil {
		if status, body := s.CreateSource(req.Name); status != 0 {
			http.Error(w, body, status)
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sources[req.Name]; ok {
		http.Error(w, fmt.Sprintf("source %s already exists", req.Name), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"id": s.addSourceLocked(req.Name), "name": req.Name})
}

func (s *Server) attachSource(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "id")
	agentID := r.URL.Query().Get("agent_id")

	if s.Attach != nil {
		if status, body := s.Attach(agentID, sourceID); status != http.StatusOK {
			http.Error(w, body, status)
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[agentID]; !ok {
		http.Error(w, fmt.Sprintf("agent_id %s does not exist", agentID), http.StatusInternalServerError)
		return
	}
	s.attached[agentID] = append(s.attached[agentID], sourceID)
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := make([]map[string]string, 0, len(s.agents))
	for id := range s.agents {
		out = append(out, map[string]string{"id": id})
	}
	s.mu.Unlock()
	writeJSON(w, map[string]any{"agents": out})
}

func (s *Server) createAgent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Config json.RawMessage `json:"config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Config) == 0 {
		http.Error(w, "missing config", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.nextID++
	id := fmt.Sprintf("agent-%d", s.nextID)
	s.agents[id] = req.Config
	s.mu.Unlock()

	writeJSON(w, map[string]any{"agent_state": map[string]string{"id": id}})
}

func (s *Server) deleteAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[id]; !ok {
		http.Error(w, "agent not found", http.StatusNotFound)
		return
	}
	delete(s.agents, id)
	writeJSON(w, map[string]string{"status": "deleted"})
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")
	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	status, reply := http.StatusOK, "ok"
	if s.Reply != nil {
		status, reply = s.Reply(agentID, req.Message)
	}
	if status != http.StatusOK {
		http.Error(w, reply, status)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	data, _ := json.Marshal(map[string]string{"assistant_message": reply})
	fmt.Fprintf(w, "data: {\"internal_monologue\":\"thinking\"}\n\n")
	fmt.Fprintf(w, "data: %s\n\n", data)
}
