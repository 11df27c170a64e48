// Package atexit runs cleanup callbacks registered during a run (in
// cmd/kde-builder, the lock release) in registration order once the build
// loop finishes, whether it succeeded or failed. Grounded on the
// teacher's top-level RegisterAtExit/RunAtExit (atexit.go) and its use from
// cmd/distri/distri.go's funcmain, which always ends by returning
// distri.RunAtExit() regardless of how the rest of the function fared.
package atexit

import (
	"sync"
	"sync/atomic"
)

var state struct {
	sync.Mutex
	fns    []func() error
	closed uint32
}

// Register queues fn to run when Run is called. Panics if called after Run
// has already started, the same invariant the teacher enforced.
func Register(fn func() error) {
	if atomic.LoadUint32(&state.closed) != 0 {
		panic("BUG: atexit.Register must not be called from a registered func")
	}
	state.Lock()
	defer state.Unlock()
	state.fns = append(state.fns, fn)
}

// Run executes every registered callback in registration order, returning
// the first error encountered. Subsequent registrations panic.
func Run() error {
	atomic.StoreUint32(&state.closed, 1)
	state.Lock()
	fns := state.fns
	state.Unlock()

	var first error
	for _, fn := range fns {
		if err := fn(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
