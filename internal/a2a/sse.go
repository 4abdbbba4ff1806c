// ABOUTME: Server-sent events stream of task state snapshots.
// ABOUTME: The stream ends after the terminal snapshot is delivered.

package a2a

import (
	"encoding/json"
	"net/http"

	"github.com/quarrydev/quarry/internal/store"
)

// handleTaskEvents streams task state snapshots as SSE until the task
// reaches a terminal state or the client disconnects. The first event
// always carries the current state, so late subscribers to a terminal
// task get exactly one event.
func (s *Server) handleTaskEvents(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")

	// Check streaming support before subscribing (fail fast)
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.logger.Error("streaming not supported")
		s.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	snapshot, err := s.store.GetTask(r.Context(), taskID)
	if err != nil {
		s.writeTaskError(w, err)
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	if snapshot.State.IsTerminal() {
		s.writeSSEEvent(w, "state", snapshot)
		flusher.Flush()
		return
	}

	events, cancel := s.engine.Broker().Subscribe(taskID, snapshot)
	defer cancel()

	// The task may have finished between the snapshot read and the
	// subscription, in which case the broker will never publish again.
	// Re-check so the client cannot hang on a finished task.
	if current, err := s.store.GetTask(r.Context(), taskID); err == nil && current.State.IsTerminal() {
		s.writeSSEEvent(w, "state", current)
		flusher.Flush()
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case snap, ok := <-events:
			if !ok {
				// The broker closed between our snapshot read and the
				// subscription. Emit the terminal state so the client
				// never hangs on a finished task.
				if final, err := s.store.GetTask(r.Context(), taskID); err == nil {
					s.writeSSEEvent(w, "state", final)
					flusher.Flush()
				}
				return
			}
			s.writeSSEEvent(w, "state", snap)
			flusher.Flush()
			if snap.State.IsTerminal() {
				return
			}
		}
	}
}

// writeSSEEvent writes one SSE event with a JSON-encoded task snapshot.
func (s *Server) writeSSEEvent(w http.ResponseWriter, event string, task *store.Task) {
	data, err := json.Marshal(task)
	if err != nil {
		s.logger.Warn("failed to encode SSE event", "error", err)
		return
	}
	if _, err := w.Write([]byte("event: " + event + "\ndata: " + string(data) + "\n\n")); err != nil {
		s.logger.Debug("SSE write failed, client likely gone", "error", err)
	}
}
