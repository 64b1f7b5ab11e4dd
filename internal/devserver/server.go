// Package devserver implements a stub NeuroClima backend for local
// development and integration testing. It mimics the conversation endpoints
// and the per-session push channel with a server-side countdown.
package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/kravishan/neuroclimabot-docker-sub001/internal/api"
	"github.com/kravishan/neuroclimabot-docker-sub001/internal/middleware"
)

// Config tunes the stub backend.
type Config struct {
	SessionTTL     time.Duration // countdown granted per session
	PushInterval   time.Duration // how often status pushes go out
	Streaming      bool          // answer with SSE when the client accepts it
	AllowedOrigins []string
}

func (c Config) withDefaults() Config {
	if c.SessionTTL == 0 {
		c.SessionTTL = 10 * time.Minute
	}
	if c.PushInterval == 0 {
		c.PushInterval = time.Second
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	return c
}

type stubSession struct {
	mu           sync.Mutex
	id           string
	deadline     time.Time
	lastActivity time.Time
	messageCount int
	expired      bool
}

func (s *stubSession) touch(ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.deadline = now.Add(ttl)
	s.lastActivity = now
}

func (s *stubSession) snapshot() (remainingMS int64, lastActivity time.Time, expired bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	remainingMS = time.Until(s.deadline).Milliseconds()
	if remainingMS <= 0 {
		remainingMS = 0
		s.expired = true
	}
	return remainingMS, s.lastActivity, s.expired
}

// Server is the stub backend.
type Server struct {
	cfg Config

	mu       sync.Mutex
	sessions map[string]*stubSession
}

// New creates a stub backend server.
func New(cfg Config) *Server {
	return &Server{
		cfg:      cfg.withDefaults(),
		sessions: make(map[string]*stubSession),
	}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(s.cfg.AllowedOrigins))

	r.Post("/api/conversation/start", s.handleStart)
	r.Post("/api/conversation/{sessionID}/continue", s.handleContinue)
	r.Delete("/api/session/{sessionID}", s.handleDelete)
	r.Get("/api/session/{sessionID}/ws", s.handleWebSocket)
	return r
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req api.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.Query == "" {
		http.Error(w, `{"error": "query is required"}`, http.StatusBadRequest)
		return
	}

	sess := &stubSession{
		id:           uuid.NewString(),
		deadline:     time.Now().Add(s.cfg.SessionTTL),
		lastActivity: time.Now(),
		messageCount: 1,
	}
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	slog.Info("Stub session created", "session_id", sess.id)

	s.respond(w, r, cannedResult(sess.id, req.Query))
}

func (s *Server) handleContinue(w http.ResponseWriter, r *http.Request) {
	sess := s.lookup(chi.URLParam(r, "sessionID"))
	if sess == nil {
		http.Error(w, `{"error": "session not found"}`, http.StatusNotFound)
		return
	}

	var req api.ContinueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		http.Error(w, `{"error": "message is required"}`, http.StatusBadRequest)
		return
	}

	sess.mu.Lock()
	sess.messageCount++
	sess.mu.Unlock()

	s.respond(w, r, cannedResult(sess.id, req.Message))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	s.mu.Lock()
	_, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	if !ok {
		http.Error(w, `{"error": "session not found"}`, http.StatusNotFound)
		return
	}
	slog.Info("Stub session deleted", "session_id", sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// handleWebSocket serves the push channel: a status push every PushInterval,
// activity messages reset the countdown, expiry closes the connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sess := s.lookup(chi.URLParam(r, "sessionID"))
	if sess == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := s.writePush(ctx, ws, api.PushMessage{Type: api.MessageConnected}); err != nil {
		return
	}

	// Inbound loop: activity messages reset the server-side timer.
	go func() {
		defer cancel()
		for {
			_, data, err := ws.Read(ctx)
			if err != nil {
				return
			}
			var msg api.PushMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				slog.Debug("Ignoring malformed inbound message", "error", err)
				continue
			}
			if msg.Type != api.MessageActivity {
				slog.Debug("Ignoring inbound message", "type", msg.Type)
				continue
			}
			sess.touch(s.cfg.SessionTTL)
			if err := s.writePush(ctx, ws, api.PushMessage{Type: api.MessageActivityAck}); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.cfg.PushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			remainingMS, lastActivity, expired := sess.snapshot()
			if expired {
				s.mu.Lock()
				delete(s.sessions, sess.id)
				s.mu.Unlock()
				_ = s.writePush(ctx, ws, api.PushMessage{Type: api.MessageSessionExpired})
				slog.Info("Stub session expired", "session_id", sess.id)
				return
			}
			msg := api.PushMessage{
				Type:         api.MessageStatus,
				RemainingMS:  remainingMS,
				LastActivity: lastActivity.UnixMilli(),
			}
			if err := s.writePush(ctx, ws, msg); err != nil {
				return
			}
		}
	}
}

func (s *Server) lookup(sessionID string) *stubSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[sessionID]
}

func (s *Server) writePush(ctx context.Context, ws *websocket.Conn, msg api.PushMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Debug("Push write failed", "error", err)
		return err
	}
	return nil
}

// respond writes the result as SSE when streaming is on and the client
// accepts event streams, plain JSON otherwise.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, result *api.ConversationResult) {
	if s.cfg.Streaming && strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		s.respondStream(w, result)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}

func (s *Server) respondStream(w http.ResponseWriter, result *api.ConversationResult) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error": "streaming not supported"}`, http.StatusInternalServerError)
		return
	}

	for _, chunk := range splitChunks(result.Response.Content, 3) {
		if err := writeSSE(w, "chunk", chunk); err != nil {
			slog.Warn("Failed to write SSE chunk", "error", err)
			return
		}
		flusher.Flush()
	}

	data, err := json.Marshal(result)
	if err != nil {
		_ = writeSSE(w, "error", "failed to serialize result")
		flusher.Flush()
		return
	}
	if err := writeSSE(w, "result", string(data)); err != nil {
		slog.Warn("Failed to write SSE result", "error", err)
		return
	}
	flusher.Flush()
}

func writeSSE(w http.ResponseWriter, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

// splitChunks cuts the content into n roughly equal word groups so streaming
// looks plausible.
func splitChunks(content string, n int) []string {
	words := strings.Fields(content)
	if len(words) == 0 || n <= 1 {
		return []string{content}
	}
	if n > len(words) {
		n = len(words)
	}
	per := (len(words) + n - 1) / n
	var chunks []string
	for i := 0; i < len(words); i += per {
		end := i + per
		if end > len(words) {
			end = len(words)
		}
		chunk := strings.Join(words[i:end], " ")
		if i+per < len(words) {
			chunk += " "
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

func cannedResult(sessionID, query string) *api.ConversationResult {
	return &api.ConversationResult{
		SessionID: sessionID,
		Response: api.Answer{
			Title:   "NeuroClima stub answer",
			Content: fmt.Sprintf("Stub answer for %q: regional climate projections depend on emission scenarios and model ensembles.", query),
		},
		Sources: []api.Source{
			{Title: "IPCC AR6 WG1 Summary", URL: "https://example.org/ipcc-ar6", Snippet: "Assessment of the physical science basis.", Score: 0.92},
			{Title: "Regional climate atlas", URL: "https://example.org/atlas", Snippet: "Downscaled projections by region.", Score: 0.81},
		},
	}
}
