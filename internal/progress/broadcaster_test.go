package progress

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestBroadcasterFanOut(t *testing.T) {
	b := NewBroadcaster(nil, nil)

	ch1, cancel1 := b.Subscribe("t1")
	defer cancel1()
	ch2, cancel2 := b.Subscribe("t1")
	defer cancel2()
	other, cancelOther := b.Subscribe("t2")
	defer cancelOther()

	b.Publish(context.Background(), Event{TaskID: "t1", Stage: "coding", ProgressPct: 50})

	for _, ch := range []<-chan Event{ch1, ch2} {
		ev := recvEvent(t, ch)
		assert.Equal(t, "t1", ev.TaskID)
		assert.Equal(t, 50, ev.ProgressPct)
		assert.False(t, ev.Timestamp.IsZero())
	}

	select {
	case ev := <-other:
		t.Fatalf("unexpected event on other task: %+v", ev)
	default:
	}
}

func TestBroadcasterCancelIdempotent(t *testing.T) {
	b := NewBroadcaster(nil, nil)

	ch, cancel := b.Subscribe("t1")
	require.Equal(t, 1, b.SubscriberCount("t1"))

	cancel()
	cancel() // second call must not panic

	assert.Equal(t, 0, b.SubscriberCount("t1"))

	// Channel is closed after cancel.
	_, ok := <-ch
	assert.False(t, ok)
}

func TestBroadcasterPrunesFullSubscribers(t *testing.T) {
	b := NewBroadcaster(nil, nil)

	stalled, cancelStalled := b.Subscribe("t1")
	defer cancelStalled()
	draining, cancelDraining := b.Subscribe("t1")
	defer cancelDraining()

	// Fill the stalled subscriber past its buffer.
	for i := 0; i <= subscriberBuffer; i++ {
		b.Publish(context.Background(), Event{TaskID: "t1", ProgressPct: i})
		recvEvent(t, draining)
	}

	assert.Equal(t, 1, b.SubscriberCount("t1"))

	// The pruned channel is closed after draining its buffered events.
	drained := 0
	for range stalled {
		drained++
	}
	assert.Equal(t, subscriberBuffer, drained)
}

func TestBroadcasterPublishWithoutSubscribers(t *testing.T) {
	b := NewBroadcaster(nil, nil)
	b.Publish(context.Background(), Event{TaskID: "nobody", ProgressPct: 10})
}
