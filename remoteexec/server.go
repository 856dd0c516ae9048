package remoteexec

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// Server exposes a Worker over HTTP. The wire contract is a single POST
// /execute endpoint exchanging ExecRequest/ExecResponse as JSON.
type Server struct {
	worker *Worker
	log    *slog.Logger
	mux    *http.ServeMux
}

func NewServer(worker *Worker, log *slog.Logger) *Server {
	s := &Server{worker: worker, log: log, mux: http.NewServeMux()}
	s.mux.HandleFunc("/execute", s.handleExecute)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ExecRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := s.worker.Execute(r.Context(), req)
	if err != nil {
		s.log.Error("execution failed", "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, ErrRemoteExecution) {
			status = http.StatusUnprocessableEntity
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Error("failed to encode response", "error", err)
	}
}
