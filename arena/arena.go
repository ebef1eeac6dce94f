// Package arena provides pooled byte buffers for packet payloads. Small
// payloads are served from a sync.Pool bucketed by size class; payloads
// above the configured heap-alloc threshold are allocated directly and
// registered with a background Reclaimer (see reclaimer.go) instead of being
// returned to a pool.
package arena

import "sync"

// DefaultHeapAllocThreshold is the payload size above which Acquire bypasses
// the pool and allocates directly.
const DefaultHeapAllocThreshold = 1024

// sizeClasses are the bucketed pool sizes, smallest first. Acquire rounds a
// request up to the first class that fits.
var sizeClasses = []int{64, 256, 512, 1024}

// Arena is a thread-safe source of payload byte slices.
type Arena struct {
	threshold int
	pools     []*sync.Pool
	reclaimer *Reclaimer
}

// New builds an Arena. heapAllocThreshold <= 0 selects DefaultHeapAllocThreshold.
func New(heapAllocThreshold int) *Arena {
	if heapAllocThreshold <= 0 {
		heapAllocThreshold = DefaultHeapAllocThreshold
	}
	a := &Arena{threshold: heapAllocThreshold}
	a.pools = make([]*sync.Pool, len(sizeClasses))
	for i, class := range sizeClasses {
		class := class
		a.pools[i] = &sync.Pool{
			New: func() interface{} {
				buf := make([]byte, class)
				return &buf
			},
		}
	}
	a.reclaimer = NewReclaimer()
	return a
}

// Reclaimer returns the arena's background sweeper, for callers that want to
// control its lifecycle (Start/Stop) explicitly.
func (a *Arena) Reclaimer() *Reclaimer { return a.reclaimer }

// classFor returns the pool index serving size, or -1 if size exceeds every
// pooled class (i.e. it belongs on the direct-heap path).
func (a *Arena) classFor(size int) int {
	for i, class := range sizeClasses {
		if size <= class {
			return i
		}
	}
	return -1
}

// Acquire returns an owned byte slice of length size. Sizes at or below both
// the heap-alloc threshold and the largest size class (1024) come from a
// pooled bucket; any other size is allocated directly and registered with
// the reclaimer so a leaked holder is still eventually swept.
func (a *Arena) Acquire(size int) []byte {
	if size <= a.threshold {
		if idx := a.classFor(size); idx >= 0 {
			bufPtr := a.pools[idx].Get().(*[]byte)
			buf := (*bufPtr)[:size]
			return buf
		}
	}
	buf := make([]byte, size)
	a.reclaimer.register(buf)
	return buf
}

// Release returns buf to its pooled bucket. A direct-heap allocation is
// marked released in the reclaimer, whose next sweep drops it for the
// garbage collector; Release on a direct-heap-sized buffer the reclaimer
// never registered is a safe no-op.
func (a *Arena) Release(buf []byte) {
	if buf == nil {
		return
	}
	capLen := cap(buf)
	idx := a.classFor(capLen)
	if idx < 0 || capLen > a.threshold {
		a.reclaimer.release(buf)
		return
	}
	full := buf[:0:capLen]
	full = full[:capLen]
	a.pools[idx].Put(&full)
}
