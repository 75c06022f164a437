package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRunReturnsFirstRequiredComponentError(t *testing.T) {
	s := New()
	wantErr := errors.New("boom")

	s.Add(Component{Name: "a", Run: func(ctx context.Context) error {
		time.Sleep(10 * time.Millisecond)
		return wantErr
	}})
	s.Add(Component{Name: "b", Run: func(ctx context.Context) error {
		<-ctx.Done() // unblocks once "a"'s failure cancels the derived context
		return nil
	}})

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	select {
	case err := <-done:
		if !errors.Is(err, wantErr) {
			t.Fatalf("expected %v, got %v", wantErr, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after a required component failed")
	}
}

func TestOptionalComponentFailureDoesNotFailGroup(t *testing.T) {
	s := New()
	done := make(chan struct{})

	s.Add(Component{Name: "telemetry", Optional: true, Run: func(ctx context.Context) error {
		return errors.New("broker unreachable")
	}})
	s.Add(Component{Name: "core", Run: func(ctx context.Context) error {
		close(done)
		return nil
	}})

	err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("expected nil error when only optional components fail, got %v", err)
	}
	select {
	case <-done:
	default:
		t.Fatal("expected core component to have run")
	}
}
