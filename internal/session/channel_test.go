package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kravishan/neuroclimabot-docker-sub001/internal/api"
)

// fakeConn is a scripted wire connection. Tests push inbound frames through
// Inject and observe outbound writes.
type fakeConn struct {
	inbound chan []byte

	mu     sync.Mutex
	writes [][]byte
	closed bool
	done   chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		done:    make(chan struct{}),
	}
}

func (f *fakeConn) Inject(t *testing.T, msg api.PushMessage) {
	t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal push message: %v", err)
	}
	f.inbound <- data
}

func (f *fakeConn) InjectRaw(data []byte) {
	f.inbound <- data
}

func (f *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-f.inbound:
		return data, nil
	case <-f.done:
		return nil, errors.New("connection closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeConn) Write(_ context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("connection closed")
	}
	f.writes = append(f.writes, data)
	return nil
}

func (f *fakeConn) Close(string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.done)
	}
	return nil
}

// Drop simulates an unexpected server-side close.
func (f *fakeConn) Drop() {
	_ = f.Close("")
}

func (f *fakeConn) Writes() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.writes))
	copy(out, f.writes)
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestChannel_ReconnectBudgetExhausted(t *testing.T) {
	var dials atomic.Int64
	dial := func(context.Context, string) (wireConn, error) {
		dials.Add(1)
		return nil, errors.New("connection refused")
	}

	exhausted := make(chan struct{})
	ch := newConnectionChannel("ws://test", 3, 5*time.Millisecond, dial, channelHooks{
		onExhausted: func() { close(exhausted) },
	})
	ch.Open(context.Background())

	select {
	case <-exhausted:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected exhaustion notification")
	}
	<-ch.Done()

	if got := ch.State(); got != StateClosedFinal {
		t.Errorf("Expected state %q, got %q", StateClosedFinal, got)
	}
	// Initial attempt plus the three budgeted retries.
	if got := dials.Load(); got != 4 {
		t.Errorf("Expected 4 dial attempts, got %d", got)
	}

	// No further retry timers may be scheduled.
	time.Sleep(30 * time.Millisecond)
	if got := dials.Load(); got != 4 {
		t.Errorf("Expected no additional dials after closed-final, got %d", got)
	}
}

func TestChannel_CounterResetsOnOpen(t *testing.T) {
	var dials atomic.Int64
	conns := make(chan *fakeConn, 8)
	dial := func(context.Context, string) (wireConn, error) {
		n := dials.Add(1)
		if n == 1 || n == 3 {
			conn := newFakeConn()
			conns <- conn
			return conn, nil
		}
		return nil, errors.New("connection refused")
	}

	ch := newConnectionChannel("ws://test", 3, 5*time.Millisecond, dial, channelHooks{})
	ch.Open(context.Background())
	defer ch.Close()

	first := <-conns
	waitFor(t, time.Second, func() bool { return ch.State() == StateConnected }, "first connect")

	// Unexpected drop; dial 2 fails, dial 3 succeeds.
	first.Drop()
	second := <-conns
	waitFor(t, time.Second, func() bool { return ch.State() == StateConnected }, "reconnect")

	ch.mu.Lock()
	attempts := ch.attempts
	ch.mu.Unlock()
	if attempts != 0 {
		t.Errorf("Expected attempt counter reset on open, got %d", attempts)
	}
	second.Drop()
}

func TestChannel_ExplicitCloseBypassesRetry(t *testing.T) {
	var dials atomic.Int64
	conn := newFakeConn()
	dial := func(context.Context, string) (wireConn, error) {
		dials.Add(1)
		return conn, nil
	}

	ch := newConnectionChannel("ws://test", 3, 5*time.Millisecond, dial, channelHooks{})
	ch.Open(context.Background())
	waitFor(t, time.Second, func() bool { return ch.State() == StateConnected }, "connect")

	ch.Close()
	<-ch.Done()

	if got := ch.State(); got != StateDisconnected {
		t.Errorf("Expected state %q after explicit close, got %q", StateDisconnected, got)
	}
	time.Sleep(30 * time.Millisecond)
	if got := dials.Load(); got != 1 {
		t.Errorf("Expected no reconnection after explicit close, got %d dials", got)
	}
}

func TestChannel_DispatchesStatusAndToleratesUnknown(t *testing.T) {
	conn := newFakeConn()
	dial := func(context.Context, string) (wireConn, error) { return conn, nil }

	var mu sync.Mutex
	var received []int64
	ch := newConnectionChannel("ws://test", 3, 5*time.Millisecond, dial, channelHooks{
		onStatus: func(remainingMS int64, _ time.Time) {
			mu.Lock()
			received = append(received, remainingMS)
			mu.Unlock()
		},
	})
	ch.Open(context.Background())
	defer ch.Close()
	waitFor(t, time.Second, func() bool { return ch.State() == StateConnected }, "connect")

	conn.Inject(t, api.PushMessage{Type: api.MessageConnected})
	conn.InjectRaw([]byte(`{"type":"some_future_thing","payload":42}`))
	conn.InjectRaw([]byte(`not even json`))
	conn.Inject(t, api.PushMessage{Type: api.MessageStatus, RemainingMS: 90000})
	conn.Inject(t, api.PushMessage{Type: api.MessageActivityAck})
	conn.Inject(t, api.PushMessage{Type: api.MessageStatus, RemainingMS: 80000})

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 2
	}, "expected 2 status messages")

	mu.Lock()
	defer mu.Unlock()
	if received[0] != 90000 || received[1] != 80000 {
		t.Errorf("Expected [90000 80000], got %v", received)
	}
}

func TestChannel_SessionExpiredStopsReconnection(t *testing.T) {
	var dials atomic.Int64
	conn := newFakeConn()
	dial := func(context.Context, string) (wireConn, error) {
		dials.Add(1)
		return conn, nil
	}

	var ch *connectionChannel
	expired := make(chan struct{})
	ch = newConnectionChannel("ws://test", 3, 5*time.Millisecond, dial, channelHooks{
		onExpired: func() {
			// Mirrors what the lifecycle controller does on expiry.
			ch.Close()
			close(expired)
		},
	})
	ch.Open(context.Background())
	waitFor(t, time.Second, func() bool { return ch.State() == StateConnected }, "connect")

	conn.Inject(t, api.PushMessage{Type: api.MessageSessionExpired})

	<-expired
	<-ch.Done()
	time.Sleep(30 * time.Millisecond)
	if got := dials.Load(); got != 1 {
		t.Errorf("Expected no reconnection after expiry, got %d dials", got)
	}
}

func TestChannel_SendActivity(t *testing.T) {
	conn := newFakeConn()
	dial := func(context.Context, string) (wireConn, error) { return conn, nil }

	ch := newConnectionChannel("ws://test", 3, 5*time.Millisecond, dial, channelHooks{})

	// Disconnected: dropped silently.
	ch.SendActivity()
	if len(conn.Writes()) != 0 {
		t.Error("Expected no write while disconnected")
	}

	ch.Open(context.Background())
	defer ch.Close()
	waitFor(t, time.Second, func() bool { return ch.State() == StateConnected }, "connect")

	ch.SendActivity()
	writes := conn.Writes()
	if len(writes) != 1 {
		t.Fatalf("Expected 1 write, got %d", len(writes))
	}
	var msg api.PushMessage
	if err := json.Unmarshal(writes[0], &msg); err != nil {
		t.Fatalf("unmarshal outbound message: %v", err)
	}
	if msg.Type != api.MessageActivity {
		t.Errorf("Expected %q message, got %q", api.MessageActivity, msg.Type)
	}
}
