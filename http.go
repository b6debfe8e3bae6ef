package colmena

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// maxBodyBytes bounds request and response bodies.
const maxBodyBytes = 10 << 20

// ServerConfig configures the pool HTTP server.
type ServerConfig struct {
	// Addr is the listen address, e.g. "127.0.0.1:8090".
	Addr string `json:"addr" yaml:"addr"`

	// ReadTimeout and WriteTimeout apply to the whole request cycle.
	ReadTimeout  Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout Duration `json:"write_timeout" yaml:"write_timeout"`
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         "127.0.0.1:8090",
		ReadTimeout:  Duration(15 * time.Second),
		WriteTimeout: Duration(15 * time.Second),
	}
}

// Server exposes the federation over HTTP.
type Server struct {
	federation *Federation
	config     ServerConfig
	srv        *http.Server
}

// NewServer creates a server for a running federation.
func NewServer(federation *Federation, config ServerConfig) *Server {
	if config.Addr == "" {
		config.Addr = "127.0.0.1:8090"
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = Duration(15 * time.Second)
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = Duration(15 * time.Second)
	}
	return &Server{federation: federation, config: config}
}

// Handler builds the route table. Exposed so tests and embedders can
// mount the API without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /federated/submit-model", s.handleSubmitModel)
	mux.HandleFunc("POST /federated/submit-metrics", s.handleSubmitMetrics)
	mux.HandleFunc("GET /federated/aggregated/{model_type}", s.handleAggregated)
	mux.HandleFunc("GET /federated/stats", s.handleStats)
	mux.HandleFunc("GET /federated/audit", s.handleAudit)
	mux.HandleFunc("GET /federated/stream", s.federation.hub.handleStream)
	mux.HandleFunc("GET /health", s.handleHealth)

	return mux
}

// Start begins serving. It returns once the listener is bound.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}

	s.srv = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  time.Duration(s.config.ReadTimeout),
		WriteTimeout: time.Duration(s.config.WriteTimeout),
	}

	go func() {
		if err := s.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	slog.Info("pool server listening", "addr", listener.Addr().String())
	return nil
}

// Close shuts the server down gracefully.
func (s *Server) Close() error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

// submitResponse is the envelope returned for accepted submissions.
type submitResponse struct {
	Status string       `json:"status"`
	Pool   SubmitStatus `json:"pool"`
}

// metricsResponse is the envelope returned for accepted metrics.
type metricsResponse struct {
	Status  string        `json:"status"`
	Metrics MetricsStatus `json:"metrics"`
}

func (s *Server) handleSubmitModel(w http.ResponseWriter, r *http.Request) {
	var contribution ModelContribution
	if err := decodeBody(w, r, &contribution); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	status, err := s.federation.SubmitContribution(&contribution)
	if err != nil {
		writeFederationError(w, err)
		return
	}

	writeJSONStatus(w, http.StatusAccepted, submitResponse{Status: "accepted", Pool: status})
}

func (s *Server) handleSubmitMetrics(w http.ResponseWriter, r *http.Request) {
	var metrics MetricsContribution
	if err := decodeBody(w, r, &metrics); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	status, err := s.federation.SubmitMetrics(&metrics)
	if err != nil {
		writeFederationError(w, err)
		return
	}

	writeJSONStatus(w, http.StatusAccepted, metricsResponse{Status: "accepted", Metrics: status})
}

func (s *Server) handleAggregated(w http.ResponseWriter, r *http.Request) {
	typ := ModelType(r.PathValue("model_type"))

	model, err := s.federation.Aggregated(typ)
	if err != nil {
		writeFederationError(w, err)
		return
	}

	writeJSON(w, model)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.federation.Stats())
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"entries": s.federation.AuditEntries()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// decodeBody parses a size-limited JSON request body.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// writeFederationError maps engine errors to HTTP statuses.
func writeFederationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, "no aggregated model available", http.StatusNotFound)
	case errors.Is(err, ErrClosed):
		writeError(w, "pool is shutting down", http.StatusServiceUnavailable)
	case errors.Is(err, ErrAnonymization), errors.Is(err, ErrInsufficientSamples):
		writeError(w, err.Error(), http.StatusBadRequest)
	default:
		writeError(w, err.Error(), http.StatusInternalServerError)
	}
}

// writeJSON encodes data as JSON and writes it to the response.
// Logs any encoding errors instead of silently ignoring them.
func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "err", err)
	}
}

// writeJSONStatus writes a JSON response with a specific status code.
func writeJSONStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "err", err)
	}
}

// writeError writes an error response with appropriate status code and logging.
func writeError(w http.ResponseWriter, message string, status int) {
	slog.Warn("HTTP error", "status", status, "message", message)
	http.Error(w, message, status)
}
