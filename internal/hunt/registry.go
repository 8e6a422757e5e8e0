package hunt

import "sync"

// Registry holds the trackers of the hunts currently open on this device.
type Registry struct {
	mu       sync.Mutex
	trackers map[string]*Tracker
}

func NewRegistry() *Registry {
	return &Registry{trackers: make(map[string]*Tracker)}
}

// Add registers t, closing any tracker it replaces.
func (r *Registry) Add(t *Tracker) {
	r.mu.Lock()
	old := r.trackers[t.HuntID()]
	r.trackers[t.HuntID()] = t
	r.mu.Unlock()

	if old != nil && old != t {
		old.Close()
	}
}

func (r *Registry) Get(huntID string) (*Tracker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trackers[huntID]
	return t, ok
}

// Remove unregisters and closes the tracker for huntID.
func (r *Registry) Remove(huntID string) bool {
	r.mu.Lock()
	t, ok := r.trackers[huntID]
	delete(r.trackers, huntID)
	r.mu.Unlock()

	if ok {
		t.Close()
	}
	return ok
}

// CloseAll closes every tracker.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	ts := r.trackers
	r.trackers = make(map[string]*Tracker)
	r.mu.Unlock()

	for _, t := range ts {
		t.Close()
	}
}

// Release unregisters t if it is still the registered tracker for its hunt.
// It does not close t.
func (r *Registry) Release(t *Tracker) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.trackers[t.HuntID()] != t {
		return false
	}
	delete(r.trackers, t.HuntID())
	return true
}
