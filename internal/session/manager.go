// Package session owns the conversational session lifecycle: creating and
// ending sessions, mirroring the server-authoritative countdown, the push
// channel with bounded reconnection, activity debouncing, and teardown
// notification on process exit.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kravishan/neuroclimabot-docker-sub001/internal/api"
)

// Service is the slice of the RAG API the session manager consumes.
// *api.Client satisfies it.
type Service interface {
	StartConversation(ctx context.Context, req api.StartRequest, onChunk func(string)) (*api.ConversationResult, error)
	ContinueConversation(ctx context.Context, sessionID string, req api.ContinueRequest, onChunk func(string)) (*api.ConversationResult, error)
	DeleteSession(ctx context.Context, sessionID string) error
	SendBeacon(sessionID string) error
	WebSocketURL(sessionID string) string
}

// Recorder persists conversation exchanges locally. Optional; a nil Recorder
// disables persistence.
type Recorder interface {
	RecordExchange(ctx context.Context, sessionID, role, content string, sources []api.Source) error
}

// Session is the server-assigned conversational context. Only the Manager
// mutates it.
type Session struct {
	ID           string
	MessageCount int
	Active       bool
}

// Config tunes the session manager. Zero values fall back to the defaults
// from the product requirements.
type Config struct {
	Thresholds        Thresholds
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	DebounceWindow    time.Duration

	// dial overrides WebSocket dialing, for tests.
	dial dialFunc
}

func (c Config) withDefaults() Config {
	if c.Thresholds.Warning == 0 {
		c.Thresholds.Warning = 60 * time.Second
	}
	if c.Thresholds.Critical == 0 {
		c.Thresholds.Critical = 15 * time.Second
	}
	if c.ReconnectAttempts == 0 {
		c.ReconnectAttempts = 3
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.DebounceWindow == 0 {
		c.DebounceWindow = time.Second
	}
	return c
}

// Manager is the session lifecycle controller. It is the only component with
// write access to the session identity and processing flag; everything else
// observes through subscriptions or the Status snapshot.
type Manager struct {
	svc      Service
	recorder Recorder
	cfg      Config

	mirror      *countdownMirror
	statusSubs  *registry[CountdownStatus]
	chunkSubs   *registry[string]
	expiredSubs *registry[struct{}]
	debouncer   *activityDebouncer

	mu         sync.Mutex
	session    Session
	processing bool
	epoch      uint64
	channel    *connectionChannel
}

// NewManager creates a session manager talking to svc. recorder may be nil.
func NewManager(svc Service, recorder Recorder, cfg Config) *Manager {
	cfg = cfg.withDefaults()
	m := &Manager{
		svc:         svc,
		recorder:    recorder,
		cfg:         cfg,
		mirror:      newCountdownMirror(cfg.Thresholds),
		statusSubs:  newRegistry[CountdownStatus](),
		chunkSubs:   newRegistry[string](),
		expiredSubs: newRegistry[struct{}](),
	}
	m.debouncer = newActivityDebouncer(cfg.DebounceWindow, m.sendActivity)
	return m
}

// StartConversation creates a fresh session. Any existing session is ended
// first. On success the push channel is opened in the background and the
// generated answer is returned; on failure no session is left active.
func (m *Manager) StartConversation(ctx context.Context, query, language, difficulty string) (*api.ConversationResult, error) {
	m.EndSession(ctx)

	res, err := m.svc.StartConversation(ctx, api.StartRequest{
		Query:      query,
		Language:   language,
		Difficulty: difficulty,
	}, m.emitChunk)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.session = Session{ID: res.SessionID, MessageCount: 1, Active: true}
	m.epoch++
	ch := newConnectionChannel(
		m.svc.WebSocketURL(res.SessionID),
		m.cfg.ReconnectAttempts,
		m.cfg.ReconnectDelay,
		m.cfg.dial,
		channelHooks{
			onStatus:  m.applyStatusPush,
			onExpired: m.handleExpired,
			onExhausted: func() {
				slog.Warn("Live countdown unavailable, session continues over request/response",
					"session_id", res.SessionID, "error", ErrChannelExhausted)
			},
		},
	)
	m.channel = ch
	m.mu.Unlock()

	// The channel outlives this call; its lifetime is bound to the session,
	// not to the start request.
	ch.Open(context.Background())
	slog.Info("Session started", "session_id", res.SessionID)

	m.record(ctx, res.SessionID, "user", query, nil)
	m.record(ctx, res.SessionID, "assistant", res.Response.Content, res.Sources)
	return res, nil
}

// ContinueConversation sends a follow-up message in the active session. The
// visible countdown is frozen for the duration of the call. A session-not-
// found response tears local state down immediately; transient failures keep
// the session alive.
func (m *Manager) ContinueConversation(ctx context.Context, message, language, difficulty string) (*api.ConversationResult, error) {
	m.mu.Lock()
	if !m.session.Active {
		m.mu.Unlock()
		return nil, ErrNoActiveSession
	}
	sessionID := m.session.ID
	epoch := m.epoch
	m.processing = true
	m.mu.Unlock()

	m.mirror.Freeze()

	// The user is clearly active; let the server reset its inactivity timer.
	m.debouncer.Signal()

	res, err := m.svc.ContinueConversation(ctx, sessionID, api.ContinueRequest{
		Message:    message,
		Language:   language,
		Difficulty: difficulty,
	}, m.chunkEmitter(epoch))

	m.finishProcessing(epoch)

	if err != nil {
		if errors.Is(err, api.ErrSessionNotFound) {
			slog.Warn("Server no longer tracks session, clearing local state", "session_id", sessionID)
			m.teardown(epoch)
		}
		return nil, err
	}

	m.mu.Lock()
	if m.epoch != epoch || !m.session.Active {
		// Session was destroyed while the call was in flight; the stale
		// response must not be applied.
		m.mu.Unlock()
		return nil, ErrNoActiveSession
	}
	m.session.MessageCount++
	m.mu.Unlock()

	m.record(ctx, sessionID, "user", message, nil)
	m.record(ctx, sessionID, "assistant", res.Response.Content, res.Sources)
	return res, nil
}

// EndSession closes the push channel, issues a best-effort server-side
// deletion, and unconditionally clears local state. Calling it without an
// active session is a no-op. It never fails.
func (m *Manager) EndSession(ctx context.Context) {
	m.mu.Lock()
	sessionID := m.session.ID
	if sessionID == "" {
		m.mu.Unlock()
		return
	}
	ch := m.channel
	m.clearSessionLocked()
	m.mu.Unlock()

	if ch != nil {
		ch.Close()
	}
	m.mirror.Reset()

	if err := m.svc.DeleteSession(ctx, sessionID); err != nil {
		slog.Warn("Best-effort session deletion failed", "session_id", sessionID, "error", err)
	}
	slog.Info("Session ended", "session_id", sessionID)
}

// OnUserActivity forwards a raw user-interaction event to the debouncer.
// It has no effect without an active session.
func (m *Manager) OnUserActivity() {
	m.mu.Lock()
	active := m.session.Active
	m.mu.Unlock()
	if !active {
		return
	}
	m.debouncer.Signal()
}

// Status returns the externally visible countdown snapshot: frozen while a
// request is in flight, live otherwise.
func (m *Manager) Status() CountdownStatus {
	return m.mirror.Current()
}

// HasActiveSession reports whether a session is currently active.
func (m *Manager) HasActiveSession() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Active
}

// ActiveSessionID returns the current session identifier, or "".
func (m *Manager) ActiveSessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.ID
}

// MessageCount returns the number of messages in the active session.
func (m *Manager) MessageCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.MessageCount
}

// ChannelState returns the push channel state, StateDisconnected when no
// channel exists.
func (m *Manager) ChannelState() ConnectionState {
	m.mu.Lock()
	ch := m.channel
	m.mu.Unlock()
	if ch == nil {
		return StateDisconnected
	}
	return ch.State()
}

// OnStatusUpdate subscribes to countdown updates. The returned unsubscribe
// closure is idempotent.
func (m *Manager) OnStatusUpdate(fn func(CountdownStatus)) func() {
	return m.statusSubs.add(fn)
}

// OnStreamingChunk subscribes to streamed answer fragments.
func (m *Manager) OnStreamingChunk(fn func(string)) func() {
	return m.chunkSubs.add(fn)
}

// OnSessionExpired subscribes to server-driven session expiry.
func (m *Manager) OnSessionExpired(fn func()) func() {
	return m.expiredSubs.add(func(struct{}) { fn() })
}

// Close releases the manager's timers and channel without notifying the
// server. Use EndSession for a user-initiated end.
func (m *Manager) Close() {
	m.debouncer.Stop()
	m.mu.Lock()
	ch := m.channel
	m.channel = nil
	m.mu.Unlock()
	if ch != nil {
		ch.Close()
	}
}

// applyStatusPush stores a pushed countdown value. While a request is in
// flight the stored value is not surfaced; subscribers see it once the
// freeze lifts.
func (m *Manager) applyStatusPush(remainingMS int64, lastActivity time.Time) {
	m.mirror.Apply(remainingMS, lastActivity)

	m.mu.Lock()
	processing := m.processing
	m.mu.Unlock()
	if processing {
		return
	}
	m.statusSubs.notify(m.mirror.Current())
}

// handleExpired reacts to a server-pushed session expiry: reconnection stops,
// local state is cleared even with a continue call outstanding, and expiry
// subscribers are notified.
func (m *Manager) handleExpired() {
	m.mu.Lock()
	if !m.session.Active {
		m.mu.Unlock()
		return
	}
	sessionID := m.session.ID
	ch := m.channel
	m.clearSessionLocked()
	m.mu.Unlock()

	if ch != nil {
		ch.Close()
	}
	m.mirror.Reset()

	slog.Info("Session expired by server", "session_id", sessionID)
	m.expiredSubs.notify(struct{}{})
}

// teardown clears local session state after the server reported the session
// gone. No deletion call is issued; there is nothing left to delete.
func (m *Manager) teardown(epoch uint64) {
	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		return
	}
	ch := m.channel
	m.clearSessionLocked()
	m.mu.Unlock()

	if ch != nil {
		ch.Close()
	}
	m.mirror.Reset()
}

// finishProcessing lifts the countdown freeze and pushes a fresh render,
// unless the session was torn down mid-flight.
func (m *Manager) finishProcessing(epoch uint64) {
	m.mu.Lock()
	stale := m.epoch != epoch
	if !stale {
		m.processing = false
	}
	m.mu.Unlock()
	if stale {
		return
	}
	m.mirror.Unfreeze()
	m.statusSubs.notify(m.mirror.Current())
}

// clearSessionLocked wipes session identity. Callers hold m.mu.
func (m *Manager) clearSessionLocked() {
	m.session = Session{}
	m.processing = false
	m.epoch++
	m.channel = nil
}

func (m *Manager) sendActivity() {
	m.mu.Lock()
	ch := m.channel
	m.mu.Unlock()
	if ch == nil {
		return
	}
	ch.SendActivity()
}

func (m *Manager) emitChunk(chunk string) {
	m.chunkSubs.notify(chunk)
}

// chunkEmitter drops fragments that arrive after the session they belong to
// was destroyed.
func (m *Manager) chunkEmitter(epoch uint64) func(string) {
	return func(chunk string) {
		m.mu.Lock()
		stale := m.epoch != epoch
		m.mu.Unlock()
		if stale {
			return
		}
		m.chunkSubs.notify(chunk)
	}
}

func (m *Manager) record(ctx context.Context, sessionID, role, content string, sources []api.Source) {
	if m.recorder == nil || content == "" {
		return
	}
	if err := m.recorder.RecordExchange(ctx, sessionID, role, content, sources); err != nil {
		slog.Warn("Failed to record exchange", "session_id", sessionID, "role", role, "error", err)
	}
}
