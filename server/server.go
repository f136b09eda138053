// Package server exposes the chat service over HTTP.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sweetpotato0/adaptiverag/chat"
	"github.com/sweetpotato0/adaptiverag/pkg/logging"
)

// maxUploadBytes caps multipart request bodies.
const maxUploadBytes = 16 << 20

// maxInlineExtract caps how much extracted file text is inlined into the
// effective question.
const maxInlineExtract = 1000

func clipText(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// Server is the HTTP front end.
type Server struct {
	service    *chat.Service
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a server listening on addr.
func New(addr string, service *chat.Service) *Server {
	s := &Server{
		service: service,
		logger:  logging.WithComponent("server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/chat", s.handleChat)
	mux.HandleFunc("/chat/upload", s.handleUpload)
	mux.HandleFunc("/sessions/sentiment", s.handleSentiment)
	mux.HandleFunc("/healthz", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start blocks serving requests until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type chatRequest struct {
	Input     string `json:"input"`
	SessionID string `json:"session_id"`
}

type chatResponse struct {
	Output string `json:"output"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "only POST is supported")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Input) == "" {
		s.writeError(w, http.StatusBadRequest, "input is required")
		return
	}

	output := s.service.GenerateResponse(r.Context(), req.Input, req.SessionID)
	s.writeJSON(w, http.StatusOK, chatResponse{Output: output})
}

// handleUpload accepts a multipart form with a "file" part and an optional
// "input" text field. The extracted file text is concatenated with the user
// text to form the effective question.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "only POST is supported")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid multipart request: "+err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	extracted, kind, err := ExtractText(header.Filename, file)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "could not extract file content: "+err.Error())
		return
	}

	question := strings.TrimSpace(r.FormValue("input"))
	var effective string
	if question != "" {
		effective = fmt.Sprintf("Based on the uploaded %s content: %s... Please answer: %s",
			kind, clipText(extracted, maxInlineExtract), question)
	} else {
		effective = fmt.Sprintf("Please analyze and summarize this %s content: %s...",
			kind, clipText(extracted, maxInlineExtract))
	}

	output := s.service.GenerateResponse(r.Context(), effective, r.FormValue("session_id"))
	s.writeJSON(w, http.StatusOK, chatResponse{Output: output})
}

func (s *Server) handleSentiment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "only GET is supported")
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = chat.DefaultSessionID
	}
	s.writeJSON(w, http.StatusOK, s.service.SentimentSummary(sessionID))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
