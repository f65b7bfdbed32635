package gpu

import (
	"fmt"
	"sync/atomic"
)

// refCount is shared ownership of a native handle: the holder dropping the
// last reference runs free.
type refCount struct {
	refs atomic.Int64
	free func()
}

func (r *refCount) init(free func()) {
	r.free = free
	r.refs.Store(1)
}

func (r *refCount) retain() {
	if r.refs.Add(1) <= 1 {
		panic("gpu: retain of a released handle")
	}
}

func (r *refCount) release() {
	n := r.refs.Add(-1)
	switch {
	case n == 0:
		r.free()
	case n < 0:
		panic(fmt.Sprintf("gpu: handle released %d times too often", -n))
	}
}

func (r *refCount) count() int64 {
	return r.refs.Load()
}
