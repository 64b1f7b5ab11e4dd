package session

import (
	"errors"
	"testing"
	"time"
)

func activeManager(svc *fakeService) *Manager {
	m, _ := newTestManager(svc)
	m.mu.Lock()
	m.session = Session{ID: "abc", MessageCount: 1, Active: true}
	m.mu.Unlock()
	return m
}

func TestUnloadGuard_BeaconDelivers(t *testing.T) {
	svc := newTestService()
	m := activeManager(svc)
	defer m.Close()

	g := NewUnloadGuard(m, svc)
	g.Trigger()

	svc.mu.Lock()
	defer svc.mu.Unlock()
	if len(svc.beaconCalls) != 1 || svc.beaconCalls[0] != "abc" {
		t.Errorf("Expected 1 beacon for abc, got %v", svc.beaconCalls)
	}
	if len(svc.deleteCalls) != 0 {
		t.Errorf("Expected no fallback delete when the beacon succeeds, got %v", svc.deleteCalls)
	}
}

func TestUnloadGuard_FallsBackToBlockingDelete(t *testing.T) {
	svc := newTestService()
	svc.beaconErr = errors.New("transport gone")
	m := activeManager(svc)
	defer m.Close()

	g := NewUnloadGuard(m, svc)
	g.Trigger()

	deleted := svc.deleted()
	if len(deleted) != 1 || deleted[0] != "abc" {
		t.Errorf("Expected fallback delete for abc, got %v", deleted)
	}
}

func TestUnloadGuard_NoSessionIsNoOp(t *testing.T) {
	svc := newTestService()
	m, _ := newTestManager(svc)
	defer m.Close()

	g := NewUnloadGuard(m, svc)
	g.Trigger()

	svc.mu.Lock()
	defer svc.mu.Unlock()
	if len(svc.beaconCalls) != 0 || len(svc.deleteCalls) != 0 {
		t.Error("Expected no traffic without an active session")
	}
}

func TestUnloadGuard_TriggerRunsOnce(t *testing.T) {
	svc := newTestService()
	m := activeManager(svc)
	defer m.Close()

	g := NewUnloadGuard(m, svc)
	g.Trigger()
	g.Trigger()
	g.Trigger()

	// Allow any stray goroutines to settle.
	time.Sleep(10 * time.Millisecond)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	if len(svc.beaconCalls) != 1 {
		t.Errorf("Expected a single beacon across repeated triggers, got %d", len(svc.beaconCalls))
	}
}
