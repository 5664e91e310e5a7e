package registry

import "sync/atomic"

// atomicSnapshot is a lock-free copy-on-write holder for a flags snapshot.
type atomicSnapshot struct {
	ptr atomic.Pointer[snapshot]
}

func (a *atomicSnapshot) load() *snapshot {
	return a.ptr.Load()
}

func (a *atomicSnapshot) store(s *snapshot) {
	a.ptr.Store(s)
}
