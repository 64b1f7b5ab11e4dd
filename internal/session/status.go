package session

import (
	"sync"
	"time"
)

// CountdownStatus is the client-side view of the server-authoritative session
// timer. Remaining time only ever comes from server pushes; the warning flags
// are derived locally from the configured thresholds.
type CountdownStatus struct {
	RemainingMS  int64
	Minutes      int
	Seconds      int
	IsWarning    bool
	IsCritical   bool
	LastActivity time.Time
}

// Thresholds configure when a countdown is flagged as warning or critical.
type Thresholds struct {
	Warning  time.Duration
	Critical time.Duration
}

// countdownMirror keeps two snapshots of the pushed countdown: live, updated
// on every push, and frozen, captured when a request starts. While frozen,
// Current returns the frozen snapshot so the visible countdown cannot jump
// mid-request; pushes keep landing in the live snapshot underneath.
type countdownMirror struct {
	mu         sync.Mutex
	thresholds Thresholds
	live       CountdownStatus
	frozen     CountdownStatus
	isFrozen   bool
}

func newCountdownMirror(t Thresholds) *countdownMirror {
	return &countdownMirror{thresholds: t}
}

// Apply records a pushed remaining-time value into the live snapshot.
func (m *countdownMirror) Apply(remainingMS int64, lastActivity time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.live = statusFromRemaining(remainingMS, lastActivity, m.thresholds)
}

// Freeze captures the live snapshot; Current serves it until Unfreeze.
func (m *countdownMirror) Freeze() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frozen = m.live
	m.isFrozen = true
}

// Unfreeze discards the frozen snapshot. Safe to call when not frozen.
func (m *countdownMirror) Unfreeze() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frozen = CountdownStatus{}
	m.isFrozen = false
}

// Current returns the externally visible status.
func (m *countdownMirror) Current() CountdownStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isFrozen {
		return m.frozen
	}
	return m.live
}

// Frozen reports whether the mirror is serving the frozen snapshot.
func (m *countdownMirror) Frozen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isFrozen
}

// Reset clears both snapshots, for session teardown.
func (m *countdownMirror) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.live = CountdownStatus{}
	m.frozen = CountdownStatus{}
	m.isFrozen = false
}

func statusFromRemaining(remainingMS int64, lastActivity time.Time, t Thresholds) CountdownStatus {
	if remainingMS < 0 {
		remainingMS = 0
	}
	remaining := time.Duration(remainingMS) * time.Millisecond
	totalSeconds := remainingMS / 1000
	return CountdownStatus{
		RemainingMS:  remainingMS,
		Minutes:      int(totalSeconds / 60),
		Seconds:      int(totalSeconds % 60),
		IsWarning:    remaining <= t.Warning,
		IsCritical:   remaining <= t.Critical,
		LastActivity: lastActivity,
	}
}
