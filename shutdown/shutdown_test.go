package shutdown

import (
	"context"
	"testing"
)

func TestContextStop(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctx, stop := Context(parent)
	if ctx.Err() != nil {
		t.Fatal("context done before any signal")
	}
	stop()
	if ctx.Err() == nil {
		t.Error("stop did not cancel the context")
	}
}

func TestContextFollowsParent(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	ctx, stop := Context(parent)
	defer stop()

	cancel()
	<-ctx.Done()
	if len(signals) == 0 {
		t.Error("no termination signals registered")
	}
}
