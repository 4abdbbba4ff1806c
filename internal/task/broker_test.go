// ABOUTME: Tests for the task event broker.
// ABOUTME: Covers immediate snapshots, fan-out, close semantics, and overflow.

package task

import (
	"testing"

	"github.com/quarrydev/quarry/internal/store"
)

func snapshotFor(id string, state store.TaskState) *store.Task {
	return &store.Task{ID: id, State: state}
}

func TestSubscribeDeliversInitialSnapshot(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe("t1", snapshotFor("t1", store.TaskStatePending))
	defer cancel()

	select {
	case snap := <-ch:
		if snap.State != store.TaskStatePending {
			t.Errorf("initial snapshot state = %s, want pending", snap.State)
		}
	default:
		t.Fatal("initial snapshot should be buffered immediately")
	}
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := NewBroker()
	ch1, cancel1 := b.Subscribe("t1", snapshotFor("t1", store.TaskStatePending))
	ch2, cancel2 := b.Subscribe("t1", snapshotFor("t1", store.TaskStatePending))
	defer cancel1()
	defer cancel2()

	<-ch1
	<-ch2

	b.Publish(snapshotFor("t1", store.TaskStateRunning))

	for i, ch := range []<-chan *store.Task{ch1, ch2} {
		snap := <-ch
		if snap.State != store.TaskStateRunning {
			t.Errorf("subscriber %d got state %s, want running", i, snap.State)
		}
	}
}

func TestPublishDoesNotCrossTasks(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe("t1", snapshotFor("t1", store.TaskStatePending))
	defer cancel()
	<-ch

	b.Publish(snapshotFor("t2", store.TaskStateRunning))

	select {
	case snap := <-ch:
		t.Errorf("unexpected snapshot for other task: %+v", snap)
	default:
	}
}

func TestCloseTaskDeliversFinalAndCloses(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe("t1", snapshotFor("t1", store.TaskStateRunning))
	defer cancel()
	<-ch

	b.CloseTask(snapshotFor("t1", store.TaskStateCompleted))

	snap, ok := <-ch
	if !ok {
		t.Fatal("terminal snapshot should arrive before close")
	}
	if snap.State != store.TaskStateCompleted {
		t.Errorf("terminal state = %s, want completed", snap.State)
	}
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after the terminal snapshot")
	}
}

func TestCancelAfterCloseIsSafe(t *testing.T) {
	b := NewBroker()
	_, cancel := b.Subscribe("t1", snapshotFor("t1", store.TaskStateRunning))

	b.CloseTask(snapshotFor("t1", store.TaskStateCompleted))
	cancel()
	cancel()
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := NewBroker()
	_, cancel := b.Subscribe("t1", snapshotFor("t1", store.TaskStatePending))
	defer cancel()

	// Never read; publishing past the buffer must not block.
	for i := 0; i < subscriberBuffer*2; i++ {
		b.Publish(snapshotFor("t1", store.TaskStateRunning))
	}
}
