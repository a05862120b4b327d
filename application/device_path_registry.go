package application

import "sync"

// DevicePathRegistry tracks which device paths have a session outside the
// Closed state. One registry is shared by every session a supervisor creates.
type DevicePathRegistry struct {
	mu    sync.Mutex
	inUse map[string]struct{}
}

func NewDevicePathRegistry() *DevicePathRegistry {
	return &DevicePathRegistry{inUse: map[string]struct{}{}}
}

func (r *DevicePathRegistry) Acquire(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.inUse[path]; ok {
		return false
	}
	r.inUse[path] = struct{}{}
	return true
}

func (r *DevicePathRegistry) Release(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.inUse, path)
}
