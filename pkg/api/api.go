// Package api exposes a tiny JSON-over-HTTP API for the txtchatd daemon.
// It listens on a Unix domain socket (path comes from config) and delegates
// all query handling to internal/engine.Engine.
//
// Routes:
//
//	POST /v1/query     QueryRequest    → QueryResponse
//	POST /v1/sanitize  SanitizeRequest → SanitizeResponse
//	GET  /v1/logs      ?query=<id>     → []Attempt
//	POST /v1/logs/prune                → PruneResponse
//	GET  /v1/status                    → StatusResponse
//
// Failures are answered with an ErrorResponse.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/lc/txtchat/internal/buildinfo"
	"github.com/lc/txtchat/internal/chain"
	"github.com/lc/txtchat/internal/dnserr"
	"github.com/lc/txtchat/internal/engine"
	"github.com/lc/txtchat/internal/pipeline"
	"github.com/lc/txtchat/internal/query"
	"github.com/lc/txtchat/internal/socket"
	"github.com/lc/txtchat/internal/transport"
)

// QueryRequest asks the daemon to send a prompt.
type QueryRequest struct {
	Prompt string `json:"prompt"`
	// Server defaults to the configured default server.
	Server string `json:"server,omitempty"`
	// Transports overrides the fallback order, e.g. ["udp", "tcp"].
	Transports []string `json:"transports,omitempty"`
}

// QueryResponse is the answer to a prompt.
type QueryResponse struct {
	QueryID  string    `json:"query_id"`
	Name     string    `json:"name"`
	Server   string    `json:"server"`
	Zone     string    `json:"zone"`
	Answer   string    `json:"answer"`
	Attempts []Attempt `json:"attempts"`
}

// SanitizeRequest asks for the DNS label of a text.
type SanitizeRequest struct {
	Text string `json:"text"`
}

// SanitizeResponse carries the label.
type SanitizeResponse struct {
	Label string `json:"label"`
}

// Attempt is one transport try.
type Attempt struct {
	QueryID   string        `json:"query_id"`
	Transport string        `json:"transport"`
	Server    string        `json:"server"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	OK        bool          `json:"ok"`
	Error     string        `json:"error,omitempty"`
	Category  string        `json:"category,omitempty"`
}

// PruneResponse reports how many expired attempts were dropped.
type PruneResponse struct {
	Expired int `json:"expired"`
}

// TransportCounts is the number of attempts made on one transport.
type TransportCounts struct {
	Attempts int64 `json:"attempts"`
	Failures int64 `json:"failures"`
}

// StatusResponse represents the server status response.
type StatusResponse struct {
	Uptime     time.Duration              `json:"uptime"`
	Version    string                     `json:"version"`
	Commit     string                     `json:"commit"`
	Available  []string                   `json:"available"`
	Queries    int64                      `json:"queries"`
	Succeeded  int64                      `json:"succeeded"`
	Failed     int64                      `json:"failed"`
	Stored     int                        `json:"stored_attempts"`
	Recorded   int64                      `json:"recorded_attempts"`
	Dropped    int64                      `json:"dropped_notifications"`
	Transports map[string]TransportCounts `json:"transports"`
}

// ErrorResponse describes a failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	// Category is one of validation, transport, protocol, reassembly or internal.
	Category string `json:"category"`
	// Definitive is set for negative answers that asking again cannot change.
	Definitive bool `json:"definitive,omitempty"`
}

// NewAttempts converts chain attempts to their API form.
func NewAttempts(in []chain.Attempt) []Attempt {
	out := make([]Attempt, 0, len(in))
	for _, a := range in {
		v := Attempt{
			QueryID:   a.QueryID,
			Transport: string(a.Variant),
			Server:    a.Server,
			StartedAt: a.StartedAt,
			Duration:  a.Duration,
			OK:        a.OK(),
		}
		if a.Err != nil {
			v.Error = a.Err.Error()
			v.Category = dnserr.Name(a.Err)
		}
		out = append(out, v)
	}
	return out
}

// NewQueryResponse converts a pipeline result to its API form.
func NewQueryResponse(res *pipeline.Result) QueryResponse {
	return QueryResponse{
		QueryID:  res.QueryID,
		Name:     string(res.Name),
		Server:   res.Target.Server,
		Zone:     res.Target.Zone,
		Answer:   res.Answer,
		Attempts: NewAttempts(res.Attempts),
	}
}

// NewErrorResponse describes err.
func NewErrorResponse(err error) ErrorResponse {
	return ErrorResponse{
		Error:      err.Error(),
		Category:   dnserr.Name(err),
		Definitive: pipeline.IsDefinitive(err),
	}
}

// -------- server -----------------------------------------------------

// Server handles HTTP API requests over a Unix domain socket.
type Server struct {
	eng   *engine.Engine
	start time.Time
	mux   *http.ServeMux
	srv   *http.Server
}

// New creates a new API server with the given engine.
func New(eng *engine.Engine) *Server {
	s := &Server{
		eng:   eng,
		start: time.Now(),
		mux:   http.NewServeMux(),
	}

	s.mux.HandleFunc("/v1/query", s.handleQuery)
	s.mux.HandleFunc("/v1/sanitize", s.handleSanitize)
	s.mux.HandleFunc("/v1/logs", s.handleLogs)
	s.mux.HandleFunc("/v1/logs/prune", s.handlePrune)
	s.mux.HandleFunc("/v1/status", s.handleStatus)

	s.srv = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the route multiplexer.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe starts the Unix-socket HTTP server.
func (s *Server) ListenAndServe(path string) error {
	ln, err := socket.Listen(path)
	if err != nil {
		return err
	}
	return s.srv.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error { return s.srv.Shutdown(ctx) }

// handleQuery sends a prompt through the pipeline.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Category: "validation"})
		return
	}
	order, err := transport.ParseOrder(req.Transports)
	if err != nil {
		writeError(w, http.StatusBadRequest, NewErrorResponse(err))
		return
	}

	res, err := s.eng.Ask(r.Context(), req.Prompt, query.Target{Server: req.Server}, order)
	if err != nil {
		writeError(w, statusFor(err), NewErrorResponse(err))
		return
	}
	writeJSON(w, http.StatusOK, NewQueryResponse(res))
}

// handleSanitize returns the label of a text.
func (s *Server) handleSanitize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req SanitizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Category: "validation"})
		return
	}
	lbl, err := s.eng.Sanitize(req.Text)
	if err != nil {
		writeError(w, statusFor(err), NewErrorResponse(err))
		return
	}
	writeJSON(w, http.StatusOK, SanitizeResponse{Label: string(lbl)})
}

// handleLogs returns recorded attempts, optionally of one query.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, NewAttempts(s.eng.Logs(r.URL.Query().Get("query"))))
}

// handlePrune drops expired attempts now.
func (s *Server) handlePrune(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	n, err := s.eng.Prune(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, NewErrorResponse(err))
		return
	}
	writeJSON(w, http.StatusOK, PruneResponse{Expired: n})
}

// handleStatus returns the server status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	st := s.eng.Status()
	counts := make(map[string]TransportCounts, len(st.Variants))
	for v, c := range st.Variants {
		counts[string(v)] = TransportCounts{Attempts: c.Attempts, Failures: c.Failures}
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		Uptime:     time.Since(s.start),
		Version:    buildinfo.Version,
		Commit:     buildinfo.Commit,
		Available:  transport.Strings(st.Available),
		Queries:    st.Queries.Queries,
		Succeeded:  st.Queries.Succeeded,
		Failed:     st.Queries.Failed,
		Stored:     st.Log.Stored,
		Recorded:   st.Log.Total,
		Dropped:    st.Log.Dropped,
		Transports: counts,
	})
}

// statusFor maps a pipeline error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrRateLimited):
		return http.StatusTooManyRequests
	case pipeline.IsDefinitive(err):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	}
	switch dnserr.Category(err) {
	case dnserr.ErrValidation:
		return http.StatusBadRequest
	case dnserr.ErrReassembly:
		return http.StatusUnprocessableEntity
	case dnserr.ErrTransport, dnserr.ErrProtocol:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, e ErrorResponse) {
	writeJSON(w, status, e)
}
