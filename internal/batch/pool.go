package batch

import (
	"context"
	"runtime"
	"sync"
)

// Process calls fn for every input on up to workers goroutines and returns
// the results in input order. Inputs not yet started when ctx is cancelled
// are passed to fn with the cancelled context, so fn decides how to report
// them.
func Process[T any](ctx context.Context, inputs []string, workers int, fn func(context.Context, string) T) []T {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	workers = min(workers, len(inputs))

	results := make([]T, len(inputs))
	jobs := make(chan int, workers*2)

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = fn(ctx, inputs[i])
			}
		}()
	}
	for i := range inputs {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return results
}
