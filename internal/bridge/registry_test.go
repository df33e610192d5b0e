package bridge

import (
	"context"
	"testing"
	"time"
)

func TestRegistry_LastConnectionWins(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	a := newHandle(1, newFakeConn("a"))
	b := newHandle(2, newFakeConn("b"))

	if prev := r.Set(a); prev != nil {
		t.Fatalf("Set(a) previous = %v, want nil", prev)
	}
	if prev := r.Set(b); prev != a {
		t.Fatalf("Set(b) previous = %v, want a", prev)
	}
	if got := r.Get(); got != b {
		t.Fatalf("Get = %v, want b", got)
	}

	select {
	case <-a.Done():
	default:
		t.Error("superseded handle was not invalidated")
	}
	select {
	case <-b.Done():
		t.Error("active handle was invalidated")
	default:
	}
}

func TestRegistry_ClearIfOnlyClearsActive(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	a := newHandle(1, newFakeConn("a"))
	b := newHandle(2, newFakeConn("b"))
	r.Set(a)
	r.Set(b)

	if r.ClearIf(a) {
		t.Error("ClearIf(superseded) = true, want false")
	}
	if r.Get() != b {
		t.Fatal("superseded handle cleared its successor")
	}
	if !r.ClearIf(b) {
		t.Error("ClearIf(active) = false, want true")
	}
	if r.Get() != nil {
		t.Error("registry not empty after clearing active handle")
	}
	if r.ClearIf(b) {
		t.Error("second ClearIf = true, want false")
	}
}

func TestRegistry_ConnectedSignal(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	before := r.Connected()
	select {
	case <-before:
		t.Fatal("connected closed while empty")
	default:
	}

	h := newHandle(1, newFakeConn("a"))
	r.Set(h)
	select {
	case <-before:
	default:
		t.Fatal("connected not closed after Set")
	}

	r.ClearIf(h)
	select {
	case <-r.Connected():
		t.Fatal("connected still closed after clearing")
	default:
	}
}

func TestRegistry_WaitConnected(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := r.WaitConnected(ctx); err == nil {
		t.Fatal("WaitConnected on empty registry returned nil error")
	}

	h := newHandle(1, newFakeConn("a"))
	got := make(chan *Handle, 1)
	go func() {
		h, _ := r.WaitConnected(context.Background())
		got <- h
	}()
	time.Sleep(10 * time.Millisecond)
	r.Set(h)

	select {
	case g := <-got:
		if g != h {
			t.Errorf("WaitConnected = %v, want h", g)
		}
	case <-time.After(waitTimeout):
		t.Fatal("WaitConnected did not wake")
	}
}

func TestRegistry_IsActive(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	h := newHandle(1, newFakeConn("a"))
	if r.IsActive(h) || r.IsActive(nil) {
		t.Fatal("IsActive true on empty registry")
	}
	r.Set(h)
	if !r.IsActive(h) {
		t.Error("IsActive(h) = false after Set")
	}
}
