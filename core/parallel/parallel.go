package parallel

import (
	"runtime"
	"sync"
)

// Rows splits [0, n) into contiguous ranges of at least minRows rows, one
// per CPU at most, and calls fn once per range. Small inputs run inline on
// the calling goroutine. fn must only write rows inside its own range.
func Rows(n, minRows int, fn func(start, end int)) {
	if n <= 0 {
		return
	}
	if minRows < 1 {
		minRows = 1
	}
	chunks := n / minRows
	if cpu := runtime.NumCPU(); chunks > cpu {
		chunks = cpu
	}
	if chunks <= 1 {
		fn(0, n)
		return
	}

	size := (n + chunks - 1) / chunks
	var wg sync.WaitGroup
	for start := 0; start < n; start += size {
		end := min(start+size, n)
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(start, end)
		}()
	}
	wg.Wait()
}

// ForEach runs fn(i) for every i in [0, items) on at most workers goroutines
// and returns the error of the lowest index that failed. workers <= 0 means
// runtime.NumCPU(). Results written by fn should be stored by index so the
// outcome does not depend on scheduling.
func ForEach(items, workers int, fn func(i int) error) error {
	if items <= 0 {
		return nil
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > items {
		workers = items
	}

	errs := make([]error, items)
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				errs[i] = fn(i)
			}
		}()
	}
	for i := 0; i < items; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
