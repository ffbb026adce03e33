package layer

import (
	"sync"
)

// float64 scratch slabs, keyed by length. Borrowed slabs come back dirty, so
// callers must overwrite every element.
var (
	scratchLock sync.Mutex
	scratchPool = make(map[int]*sync.Pool)
)

func borrowF64(n int) []float64 {
	scratchLock.Lock()
	d, ok := scratchPool[n]
	scratchLock.Unlock()
	if ok {
		return d.Get().([]float64)
	}
	return make([]float64, n)
}

func returnF64(buf []float64) {
	n := len(buf)
	scratchLock.Lock()
	defer scratchLock.Unlock()
	if d, ok := scratchPool[n]; ok {
		d.Put(buf)
		return
	}
	scratchPool[n] = &sync.Pool{
		New: func() interface{} {
			return make([]float64, n)
		},
	}
	scratchPool[n].Put(buf)
}
