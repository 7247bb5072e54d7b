package retry

import "sync"

// Tracker is a host-driven Visibility implementation. The embedding
// application reports focus/visibility transitions via SetVisible; the engine
// reads them through the Visibility interface. A new Tracker starts visible.
type Tracker struct {
	mu      sync.Mutex
	visible bool
	resumed chan struct{}
}

// NewTracker returns a Tracker in the visible state.
func NewTracker() *Tracker {
	return &Tracker{
		visible: true,
		resumed: make(chan struct{}),
	}
}

// Visible reports the current visibility.
func (t *Tracker) Visible() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.visible
}

// Resumed returns a channel closed the next time the tracker transitions
// from hidden to visible.
func (t *Tracker) Resumed() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resumed
}

// SetVisible records a visibility transition. Regaining visibility releases
// every waiter parked on Resumed.
func (t *Tracker) SetVisible(visible bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if visible && !t.visible {
		close(t.resumed)
		t.resumed = make(chan struct{})
	}
	t.visible = visible
}

var _ Visibility = (*Tracker)(nil)
