package session

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

const (
	beaconGrace     = 250 * time.Millisecond
	fallbackTimeout = 3 * time.Second
)

// UnloadGuard guarantees a best-effort session-termination notice when the
// process is going away. The primary path is a fire-and-forget beacon; if the
// beacon cannot be confirmed in time or fails outright, a blocking deletion
// call is made so the notice leaves the process before teardown completes.
// The guard never reports errors upward.
type UnloadGuard struct {
	manager *Manager
	svc     Service

	installOnce sync.Once
	triggerOnce sync.Once
}

// NewUnloadGuard creates a guard for the given manager.
func NewUnloadGuard(manager *Manager, svc Service) *UnloadGuard {
	return &UnloadGuard{manager: manager, svc: svc}
}

// Install registers the process-wide termination hook. Safe to call more
// than once; only the first call takes effect.
func (g *UnloadGuard) Install() {
	g.installOnce.Do(func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigCh
			signal.Stop(sigCh)
			g.Trigger()
		}()
	})
}

// Trigger delivers the termination notice for the active session, if any.
// Runs at most once.
func (g *UnloadGuard) Trigger() {
	g.triggerOnce.Do(g.deliver)
}

func (g *UnloadGuard) deliver() {
	sessionID := g.manager.ActiveSessionID()
	if sessionID == "" {
		return
	}

	done := make(chan error, 1)
	go func() {
		done <- g.svc.SendBeacon(sessionID)
	}()

	select {
	case err := <-done:
		if err == nil {
			slog.Debug("Unload beacon delivered", "session_id", sessionID)
			return
		}
		slog.Debug("Unload beacon failed, falling back to blocking delete", "error", err)
	case <-time.After(beaconGrace):
		slog.Debug("Unload beacon not confirmed in time, falling back to blocking delete")
	}

	ctx, cancel := context.WithTimeout(context.Background(), fallbackTimeout)
	defer cancel()
	if err := g.svc.DeleteSession(ctx, sessionID); err != nil {
		slog.Warn("Unload fallback deletion failed", "session_id", sessionID, "error", err)
	}
}
