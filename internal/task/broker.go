// ABOUTME: In-process fan-out of task state snapshots to SSE subscribers.
// ABOUTME: Slow subscribers drop events rather than block the engine.

package task

import (
	"sync"

	"github.com/quarrydev/quarry/internal/store"
)

// subscriberBuffer bounds each subscriber's pending events. A task only
// moves through a handful of states, so a small buffer suffices.
const subscriberBuffer = 8

// Broker fans task snapshots out to per-task subscribers. Publishing
// never blocks; a subscriber whose buffer is full misses that snapshot.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan *store.Task]struct{}
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[chan *store.Task]struct{})}
}

// Subscribe registers for snapshots of one task. The returned channel
// receives the snapshot argument immediately so subscribers always
// observe the current state. Cancel must be called when done; it is
// idempotent and safe after the broker closed the channel.
func (b *Broker) Subscribe(taskID string, snapshot *store.Task) (<-chan *store.Task, func()) {
	ch := make(chan *store.Task, subscriberBuffer)
	ch <- snapshot

	b.mu.Lock()
	set, ok := b.subs[taskID]
	if !ok {
		set = make(map[chan *store.Task]struct{})
		b.subs[taskID] = set
	}
	set[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if set, ok := b.subs[taskID]; ok {
			if _, present := set[ch]; present {
				delete(set, ch)
				close(ch)
				if len(set) == 0 {
					delete(b.subs, taskID)
				}
			}
		}
	}
	return ch, cancel
}

// Publish delivers a snapshot to every subscriber of the task. Full
// buffers are skipped.
func (b *Broker) Publish(task *store.Task) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[task.ID] {
		select {
		case ch <- task:
		default:
		}
	}
}

// CloseTask publishes a final snapshot and closes all subscriber
// channels for the task. Called once when the task reaches a terminal
// state.
func (b *Broker) CloseTask(task *store.Task) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[task.ID]
	if !ok {
		return
	}
	delete(b.subs, task.ID)
	for ch := range set {
		select {
		case ch <- task:
		default:
		}
		close(ch)
	}
}
