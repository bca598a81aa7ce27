// Package progress provides per-task progress fan-out to live subscribers.
//
// Events are ephemeral: they exist only on the wire. Each task has its own
// subscriber registry; subscribers that stop draining are pruned. When a
// NATS connection is configured, every event is additionally published to
// taskd.progress.<task_id> for cross-process observers.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Event is one progress update for a task.
type Event struct {
	TaskID      string    `json:"task_id"`
	Stage       string    `json:"stage"`
	Message     string    `json:"message"`
	ProgressPct int       `json:"progress_pct"`
	Timestamp   time.Time `json:"timestamp"`
}

// subscriberBuffer bounds how far a subscriber may lag before being pruned.
const subscriberBuffer = 16

// Broadcaster maintains per-task subscriber registries.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[string]map[int]chan Event
	nextID int

	nc     *nats.Conn
	logger *zap.Logger
}

// NewBroadcaster creates a broadcaster. nc may be nil to disable the NATS
// fan-out.
func NewBroadcaster(nc *nats.Conn, logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		subs:   make(map[string]map[int]chan Event),
		nc:     nc,
		logger: logger,
	}
}

// Subscribe attaches a subscriber to a task's event stream. The returned
// cancel function detaches the subscriber and closes the channel; it is
// safe to call more than once.
func (b *Broadcaster) Subscribe(taskID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[taskID] == nil {
		b.subs[taskID] = make(map[int]chan Event)
	}
	id := b.nextID
	b.nextID++

	ch := make(chan Event, subscriberBuffer)
	b.subs[taskID][id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.removeLocked(taskID, id)
		})
	}
	return ch, cancel
}

// Publish pushes an event to every subscriber of the task. Subscribers
// whose buffer is full are pruned rather than blocking the pipeline.
func (b *Broadcaster) Publish(ctx context.Context, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	for id, ch := range b.subs[ev.TaskID] {
		select {
		case ch <- ev:
		default:
			b.logger.Debug("pruning slow progress subscriber",
				zap.String("task_id", ev.TaskID),
				zap.Int("subscriber", id))
			b.removeLocked(ev.TaskID, id)
		}
	}
	b.mu.Unlock()

	b.publishNATS(ev)
}

// SubscriberCount returns the number of live subscribers for a task.
func (b *Broadcaster) SubscriberCount(taskID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[taskID])
}

// removeLocked detaches and closes one subscriber. Caller holds the lock.
func (b *Broadcaster) removeLocked(taskID string, id int) {
	if chans, ok := b.subs[taskID]; ok {
		if ch, ok := chans[id]; ok {
			delete(chans, id)
			close(ch)
		}
		if len(chans) == 0 {
			delete(b.subs, taskID)
		}
	}
}

// publishNATS mirrors the event onto NATS, best-effort.
func (b *Broadcaster) publishNATS(ev Event) {
	if b.nc == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		b.logger.Warn("failed to marshal progress event", zap.Error(err))
		return
	}
	subject := fmt.Sprintf("taskd.progress.%s", ev.TaskID)
	if err := b.nc.Publish(subject, data); err != nil {
		b.logger.Warn("failed to publish progress event",
			zap.String("subject", subject),
			zap.Error(err))
	}
}
