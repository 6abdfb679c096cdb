// Package server exposes the gateway's HTTP surface. Every response body is
// an api.Envelope.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"automation-gateway/api"
	"automation-gateway/internal/apperr"
	"automation-gateway/internal/desktop"
	"automation-gateway/internal/edit"
	"automation-gateway/internal/logging"
	"automation-gateway/internal/telemetry"
	"automation-gateway/internal/term"
)

const DefaultMaxBodyBytes int64 = 4 << 20

type Desktop interface {
	Perform(ctx context.Context, a desktop.Action) (api.Envelope, error)
}

type Editor interface {
	Apply(cmd edit.Command) (string, error)
}

type Shell interface {
	Execute(command string) (term.Result, error)
	Restart() (term.Status, error)
	Status() (term.Status, error)
}

type Deps struct {
	Desktop      Desktop
	Editor       Editor
	Shell        Shell
	Events       *EventHub
	Logger       *slog.Logger
	Metrics      *telemetry.Metrics
	MaxBodyBytes int64
}

type Server struct {
	deps Deps
	mux  *http.ServeMux
}

func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if deps.Metrics == nil {
		deps.Metrics = telemetry.Noop()
	}
	if deps.Events == nil {
		deps.Events = NewEventHub(deps.Logger)
	}
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = DefaultMaxBodyBytes
	}
	s := &Server{deps: deps, mux: http.NewServeMux()}
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/computer", s.handleComputer)
	s.mux.HandleFunc("/edit", s.handleEdit)
	s.mux.HandleFunc("/bash", s.handleBash)
	s.mux.HandleFunc("/bash/status", s.handleBashStatus)
	s.mux.HandleFunc("/events", s.deps.Events.HandleWS)
	s.mux.HandleFunc("/", s.handleNotFound)
	return s
}

// Handler returns the mux wrapped in request logging, metrics and panic
// recovery.
func (s *Server) Handler() http.Handler {
	return s.observe(s.recoverPanics(s.mux))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func respondOK(w http.ResponseWriter, data string) {
	writeJSON(w, http.StatusOK, api.Text(api.KindSuccess, data))
}

func respondError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, api.Text(api.KindError, msg))
}

// respondErr maps err to its status code and writes an error envelope.
func respondErr(w http.ResponseWriter, err error) {
	respondError(w, apperr.Status(err), err.Error())
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	respondError(w, http.StatusMethodNotAllowed, "Method not allowed: "+r.Method)
	return false
}

// decodeBody reads a JSON body of at most MaxBodyBytes into v. It writes the
// error response itself and reports whether decoding succeeded.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, s.deps.MaxBodyBytes)
	err := json.NewDecoder(body).Decode(v)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		respondError(w, http.StatusRequestEntityTooLarge, "Request body exceeds the limit")
	case errors.Is(err, io.EOF):
		respondError(w, http.StatusBadRequest, "Invalid request: empty body")
	default:
		respondError(w, http.StatusBadRequest, "Invalid request: "+err.Error())
	}
	return false
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusNotFound, "Not found: "+r.URL.Path)
}
