package lib

/* thread.go contains functions useful for multi-threading. */

import (
	"runtime"
	"sync"
)

// SetThreads sets the number of OS threads that krill will use. Setting
// n = -1 uses every core on the node.
func SetThreads(n int) {
	if n == -1 {
		n = runtime.NumCPU()
	}
	if n > runtime.NumCPU() {
		ExternalErrorf("%d threads requested, but your system only has %d cores per node. If you want krill to use the maximum number of threads per node, set Threads=-1.", n, runtime.NumCPU())
	}

	runtime.GOMAXPROCS(n)
}

// ParFor calls f on every index in [lo, hi], splitting the range across
// worker goroutines. It does not return until every call to f has finished,
// so writes made inside f are visible to the caller afterwards. f must be
// safe to call concurrently for distinct indices.
//
// Ranges with hi < lo are no-ops.
func ParFor(lo, hi int, f func(i int)) {
	n := hi - lo + 1
	if n <= 0 { return }

	workers := runtime.GOMAXPROCS(0)
	if workers > n { workers = n }
	if workers <= 1 {
		for i := lo; i <= hi; i++ { f(i) }
		return
	}

	wg := &sync.WaitGroup{ }
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(w int) {
			defer wg.Done()
			for i := lo + w; i <= hi; i += workers { f(i) }
		}(w)
	}
	wg.Wait()
}
