// Package parallel fans independent work items out across a bounded
// pool of workers. The pipeline uses it for per-partition uploads,
// which are I/O bound and dominate wall-clock time once the event
// table is computed.
package parallel

import (
	"errors"
	"sync"
)

const DefaultWorkers = 5

// Map runs fn over items with at most workers goroutines. Results
// are returned in input order. All items are attempted even if some
// fail; the errors are joined.
func Map[T, R any](items []T, workers int, fn func(T) (R, error)) ([]R, error) {
	if workers <= 0 {
		workers = DefaultWorkers
	}

	results := make([]R, len(items))
	errs := make([]error, len(items))

	sem := make(chan struct{}, workers)
	wg := sync.WaitGroup{}
	for i := range items {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i], errs[i] = fn(items[i])
		}(i)
	}
	wg.Wait()

	return results, errors.Join(errs...)
}

// ForEach is Map without results.
func ForEach[T any](items []T, workers int, fn func(T) error) error {
	_, err := Map(items, workers, func(item T) (struct{}, error) {
		return struct{}{}, fn(item)
	})
	return err
}
