// internal/transport/httpapi/server.go
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/user/databridge/internal/gateway"
	"github.com/user/databridge/internal/state"
	"github.com/user/databridge/internal/transport/querydto"
	"github.com/user/databridge/internal/types"
)

const (
	maxBodyBytes      = 1 << 20
	defaultEntryLimit = 200
)

// Service answers queries and resets. *gateway.Gateway implements it.
type Service interface {
	HandleQuery(ctx context.Context, q gateway.Query) (*gateway.Response, error)
	HandleReset(ctx context.Context, id types.SessionID)
	Sessions(ctx context.Context) []state.SessionInfo
	History(ctx context.Context, id types.SessionID) []state.ConversationTurn
}

// Transcripts serves recorded transcript entries.
type Transcripts interface {
	Tail(ctx context.Context, id types.SessionID, limit int) ([]*state.TranscriptEntry, error)
}

// Server is the HTTP boundary of the bridge.
type Server struct {
	svc         Service
	transcripts Transcripts
	staticDir   string
	logger      *slog.Logger
	mux         *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithTranscripts exposes GET /api/sessions/{id}/transcript.
func WithTranscripts(t Transcripts) Option {
	return func(s *Server) { s.transcripts = t }
}

// WithStaticDir serves the files in dir on GET requests not matched by the API.
func WithStaticDir(dir string) Option {
	return func(s *Server) { s.staticDir = dir }
}

// WithLogger sets the server's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewServer creates a Server backed by svc.
func NewServer(svc Service, opts ...Option) *Server {
	s := &Server{
		svc:    svc,
		logger: slog.Default(),
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /query", s.handleQuery)
	s.mux.HandleFunc("POST /reset", s.handleReset)
	s.mux.HandleFunc("OPTIONS /", s.handlePreflight)
	s.mux.HandleFunc("GET /api/sessions", s.handleSessions)
	s.mux.HandleFunc("GET /api/sessions/{id}/turns", s.handleTurns)
	s.mux.HandleFunc("GET /api/sessions/{id}/transcript", s.handleTranscript)
	s.mux.HandleFunc("POST /", s.handleNotFound)
	if s.staticDir != "" {
		s.mux.Handle("GET /", http.FileServer(http.Dir(s.staticDir)))
	} else {
		s.mux.HandleFunc("GET /", s.handleNotFound)
	}
	return s
}

// ServeHTTP adds the CORS headers and delegates to the internal mux.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	for k, v := range querydto.CORSHeaders {
		w.Header().Set(k, v)
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePreflight(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusNotFound, querydto.ErrorResponse{Error: querydto.MsgNotFound})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, querydto.ErrorResponse{Error: querydto.MsgInvalidJSON})
		return
	}
	q, status, errResp := querydto.DecodeQuery(body)
	if errResp != nil {
		s.writeJSON(w, status, errResp)
		return
	}

	resp, err := s.svc.HandleQuery(r.Context(), q)
	if err != nil {
		status, errResp := querydto.ErrorStatus(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("query failed", "session_id", string(q.SessionID), "error", err)
		}
		s.writeJSON(w, status, errResp)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	s.svc.HandleReset(r.Context(), querydto.DecodeReset(body))
	s.writeJSON(w, http.StatusOK, querydto.ResetResponse{Success: true, Message: querydto.MsgReset})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.svc.Sessions(r.Context())
	if sessions == nil {
		sessions = []state.SessionInfo{}
	}
	s.writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleTurns(w http.ResponseWriter, r *http.Request) {
	id := types.SessionID(r.PathValue("id"))
	turns := s.svc.History(r.Context(), id)
	if n := limitParam(r, 0); n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	if turns == nil {
		turns = []state.ConversationTurn{}
	}
	s.writeJSON(w, http.StatusOK, turns)
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if s.transcripts == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, querydto.ErrorResponse{Error: "transcripts not configured"})
		return
	}
	id := types.SessionID(r.PathValue("id"))
	entries, err := s.transcripts.Tail(r.Context(), id, limitParam(r, defaultEntryLimit))
	if err != nil {
		s.logger.Error("tail transcript failed", "session_id", string(id), "error", err)
		s.writeJSON(w, http.StatusInternalServerError, querydto.ErrorResponse{Error: "internal server error"})
		return
	}
	if entries == nil {
		entries = []*state.TranscriptEntry{}
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func limitParam(r *http.Request, fallback int) int {
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(body); err != nil {
		s.logger.Error("write response failed", "error", err)
	}
}
