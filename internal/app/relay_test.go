package app

import (
	"context"
	"testing"
	"time"

	"cloudlink/internal/dashboard"
	"cloudlink/internal/logging"
)

func relayLogger() *logging.Logger {
	l := logging.New(false)
	l.SetTerminalOutputEnabled(false)
	return l
}

func TestRelaySnapshots_ForwardsUntilInputCloses(t *testing.T) {
	in := make(chan dashboard.Dashboard, 2)
	out := make(chan dashboard.Dashboard)
	go relaySnapshots(context.Background(), relayLogger(), in, out)

	in <- dashboard.Dashboard{}
	select {
	case <-out:
	case <-time.After(time.Second):
		t.Fatal("snapshot not forwarded")
	}

	close(in)
	select {
	case _, ok := <-out:
		if ok {
			t.Fatal("out delivered a value after input closed")
		}
	case <-time.After(time.Second):
		t.Fatal("out not closed after input closed")
	}
}

func TestRelaySnapshots_StopsOnCancelWithPendingDelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan dashboard.Dashboard, 1)
	out := make(chan dashboard.Dashboard)
	done := make(chan struct{})
	go func() {
		defer close(done)
		relaySnapshots(ctx, relayLogger(), in, out)
	}()

	in <- dashboard.Dashboard{}
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay blocked on an unread delivery after cancel")
	}
	if _, ok := <-out; ok {
		t.Fatal("out delivered a value after cancel")
	}
}
