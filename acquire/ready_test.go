package acquire

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSignal(t *testing.T) {
	s := NewSignal("runtime")
	if s.Fired() {
		t.Fatal("new signal already fired")
	}

	go s.Fire()
	if err := s.Wait(context.Background(), 5*time.Second); err != nil {
		t.Fatal(err)
	}
	s.Fire() // no-op
	if !s.Fired() {
		t.Fatal("signal not fired")
	}
}

func TestSignalTimeout(t *testing.T) {
	s := NewSignal("runtime")
	err := s.Wait(context.Background(), 20*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Wait() error = %v, want ErrTimeout", err)
	}
}

func TestSignalCancel(t *testing.T) {
	s := NewSignal("runtime")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Wait(ctx, time.Minute); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait() error = %v, want context.Canceled", err)
	}
}
