package session

import (
	"sync"
	"time"
)

// activityDebouncer collapses bursts of user-activity signals into at most
// one downstream send per window. The first signal fires immediately so the
// server-side inactivity timer resets promptly; signals arriving during the
// quiet window are dropped.
type activityDebouncer struct {
	mu      sync.Mutex
	window  time.Duration
	send    func()
	pending bool
	stopped bool
	timer   *time.Timer
}

func newActivityDebouncer(window time.Duration, send func()) *activityDebouncer {
	return &activityDebouncer{window: window, send: send}
}

// Signal requests an activity notification. At most one send happens per
// window regardless of how many raw events arrive.
func (d *activityDebouncer) Signal() {
	d.mu.Lock()
	if d.stopped || d.pending {
		d.mu.Unlock()
		return
	}
	d.pending = true
	d.timer = time.AfterFunc(d.window, d.expireWindow)
	d.mu.Unlock()

	d.send()
}

func (d *activityDebouncer) expireWindow() {
	d.mu.Lock()
	d.pending = false
	d.mu.Unlock()
}

// Stop cancels any pending quiet-window timer and disables further sends.
func (d *activityDebouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
