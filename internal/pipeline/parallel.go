package pipeline

import (
	"context"
	"runtime"
	"sync"
)

type job struct {
	index int
}

type jobResult[T any] struct {
	index int
	value T
	err   error
}

// runOrdered calls fn for every index in [0, n) on a worker pool and returns
// the values and errors in index order. Indices not processed because ctx
// was cancelled carry ctx.Err().
func runOrdered[T any](ctx context.Context, n int, config ParallelConfig,
	fn func(ctx context.Context, i int) (T, error),
) ([]T, []error) {
	values := make([]T, n)
	errs := make([]error, n)
	if n == 0 {
		return values, errs
	}

	workers := config.MaxWorkers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	workers = min(workers, n)

	if config.ProgressCallback != nil {
		config.ProgressCallback.OnStart(n)
		defer config.ProgressCallback.OnComplete()
	}

	jobs := make(chan job, n)
	results := make(chan jobResult[T], n)

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go worker(ctx, jobs, results, &wg, fn)
	}

	go func() {
		defer close(jobs)
		for i := range n {
			select {
			case jobs <- job{index: i}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	done := make([]bool, n)
	processed := 0
	for r := range results {
		values[r.index] = r.value
		errs[r.index] = r.err
		done[r.index] = true
		processed++
		if config.ProgressCallback != nil {
			config.ProgressCallback.OnProgress(processed, n)
		}
	}

	if err := ctx.Err(); err != nil {
		for i := range done {
			if !done[i] {
				errs[i] = err
			}
		}
	}
	return values, errs
}

func worker[T any](
	ctx context.Context,
	jobs <-chan job,
	results chan<- jobResult[T],
	wg *sync.WaitGroup,
	fn func(ctx context.Context, i int) (T, error),
) {
	defer wg.Done()

	for {
		select {
		case j, ok := <-jobs:
			if !ok {
				return
			}
			value, err := fn(ctx, j.index)
			results <- jobResult[T]{index: j.index, value: value, err: err}
		case <-ctx.Done():
			return
		}
	}
}
