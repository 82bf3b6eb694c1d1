package events

import "sync"

// Recorder retains the most recent events emitted by the engine so the RPC
// surface can serve them to pollers. The buffer is bounded; old entries are
// dropped first.
type Recorder struct {
	mu     sync.Mutex
	limit  int
	events []Event
}

// NewRecorder builds a recorder keeping at most limit events. A non-positive
// limit falls back to 256.
func NewRecorder(limit int) *Recorder {
	if limit <= 0 {
		limit = 256
	}
	return &Recorder{limit: limit}
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(evt Event) {
	if r == nil || evt == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	if len(r.events) > r.limit {
		r.events = r.events[len(r.events)-r.limit:]
	}
}

// Recent returns a copy of the buffered events, oldest first.
func (r *Recorder) Recent() []Event {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
