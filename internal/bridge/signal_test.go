package bridge

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSignal_WaitReturnsWhenAlreadySet(t *testing.T) {
	t.Parallel()
	s := NewSignal()
	s.Set()
	s.Set()
	if !s.IsSet() {
		t.Fatal("IsSet = false after Set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestSignal_ClearDiscardsEarlierSet(t *testing.T) {
	t.Parallel()
	s := NewSignal()
	s.Set()
	s.Clear()
	s.Clear()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait after Clear = %v, want DeadlineExceeded", err)
	}
}

func TestSignal_SetWakesAllWaiters(t *testing.T) {
	t.Parallel()
	s := NewSignal()
	const waiters = 4
	done := make(chan error, waiters)
	for range waiters {
		go func() { done <- s.Wait(context.Background()) }()
	}
	time.Sleep(10 * time.Millisecond)
	s.Set()

	for range waiters {
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Wait: %v", err)
			}
		case <-time.After(waitTimeout):
			t.Fatal("waiter not woken")
		}
	}
}

func TestSignal_WaitCancelled(t *testing.T) {
	t.Parallel()
	s := NewSignal()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Wait(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Wait = %v, want Canceled", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("Wait ignored cancellation")
	}
}
