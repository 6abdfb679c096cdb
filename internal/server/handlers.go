package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"automation-gateway/api"
	"automation-gateway/internal/apperr"
	"automation-gateway/internal/desktop"
	"automation-gateway/internal/edit"
	"automation-gateway/internal/term"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	respondOK(w, "Service is running")
}

func (s *Server) handleComputer(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req api.ActionRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	action, err := desktop.Decode(req)
	if err != nil {
		respondErr(w, err)
		return
	}
	env, err := s.deps.Desktop.Perform(r.Context(), action)
	if err != nil {
		s.deps.Logger.Warn("computer action failed", "action", action.Name(), "err", err)
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, env)
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req api.EditRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	cmd, err := edit.Decode(req)
	if err != nil {
		respondErr(w, err)
		return
	}
	out, err := s.deps.Editor.Apply(cmd)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindExecution {
			s.deps.Logger.Warn("edit failed", "command", req.Command, "path", cmd.Target(), "err", err)
		}
		respondErr(w, err)
		return
	}
	respondOK(w, out)
}

func (s *Server) handleBash(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req api.BashRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Restart {
		if _, err := s.deps.Shell.Restart(); err != nil {
			s.deps.Logger.Error("bash restart failed", "err", err)
			respondErr(w, apperr.Execution(err, "Failed to restart bash session"))
			return
		}
		respondOK(w, "Bash session has been restarted")
		return
	}
	if req.Command == nil {
		respondError(w, http.StatusBadRequest, "Invalid request: command is required when not restarting")
		return
	}

	res, err := s.deps.Shell.Execute(*req.Command)
	if err != nil {
		outcome := "error"
		if apperr.Is(err, apperr.KindSessionTimeout) {
			outcome = "timeout"
		}
		s.deps.Metrics.RecordCommand(r.Context(), outcome)
		respondErr(w, err)
		return
	}
	s.deps.Metrics.RecordCommand(r.Context(), "ok")
	w.Header().Set(api.HeaderExitCode, strconv.Itoa(res.ExitCode))
	respondOK(w, renderResult(res))
}

// renderResult shows stdout alone, or both streams labelled when stderr has
// content.
func renderResult(res term.Result) string {
	if res.Stderr == "" {
		return res.Stdout
	}
	return fmt.Sprintf("stdout:\n%s\nstderr:\n%s", res.Stdout, res.Stderr)
}

func (s *Server) handleBashStatus(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	st, err := s.deps.Shell.Status()
	if err != nil {
		respondErr(w, err)
		return
	}
	b, err := json.Marshal(statusToAPI(st))
	if err != nil {
		respondErr(w, apperr.Execution(err, "Failed to encode status"))
		return
	}
	writeJSON(w, http.StatusOK, api.Envelope{Kind: api.KindSuccess, MediaType: api.MediaJSON, Data: string(b)})
}

func statusToAPI(st term.Status) api.BashStatus {
	out := api.BashStatus{
		Token:    st.Token,
		State:    string(st.State),
		Pid:      st.Pid,
		Shell:    st.Shell,
		Mode:     string(st.Mode),
		Commands: st.Commands,
	}
	if !st.StartedAt.IsZero() {
		out.StartedAt = st.StartedAt.UTC().Format(time.RFC3339)
	}
	return out
}
