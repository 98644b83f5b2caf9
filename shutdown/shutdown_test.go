package shutdown

import (
	"context"
	"testing"
	"time"
)

func TestWaitReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan any)
	go func() { done <- Wait(ctx) }()
	cancel()
	select {
	case sig := <-done:
		if sig != nil {
			t.Errorf("Wait = %v, want nil after cancel", sig)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after cancel")
	}
}
