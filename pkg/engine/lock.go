package engine

import "sync"

// locks maps every instance in use to the mutex serialising calls into it.
var locks sync.Map

// Lock returns the mutex guarding inst. Every caller that drives an
// alloc/write/invoke/read/dealloc sequence must hold it for the whole
// sequence, so that bridges sharing one instance never interleave.
//
// inst must be comparable, as pointer implementations are.
func Lock(inst Instance) *sync.Mutex {
	mu, _ := locks.LoadOrStore(inst, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// forget drops the mutex of a closed instance.
func forget(inst Instance) {
	locks.Delete(inst)
}
