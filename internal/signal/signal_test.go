package signal

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWatchInterruptCancelsOnSignal(t *testing.T) {
	ctx := WatchInterrupt(context.Background(), time.Hour)

	assert.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGTERM))

	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("context not cancelled after SIGTERM")
	}
}

func TestWatchInterruptFollowsParent(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	ctx := WatchInterrupt(parent, time.Hour)

	cancel()

	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("context not cancelled with parent")
	}
}
