package utils

import (
	"context"
	"sync"
)

type CompletedTask[In any, Out any] struct {
	Input  In
	Result Out
	Error  error
}

// RunInPool applies worker to every item with at most maxWorkers goroutines
// and streams the outcomes on the returned channel, which is closed once all
// items are done. Items not yet started when ctx is cancelled complete with
// ctx.Err().
func RunInPool[In any, Out any](ctx context.Context, items []In, maxWorkers int, worker func(context.Context, In) (Out, error)) <-chan CompletedTask[In, Out] {
	completed := make(chan CompletedTask[In, Out], len(items))

	queue := make(chan In, len(items))
	for _, item := range items {
		queue <- item
	}
	close(queue)

	workers := min(len(items), max(maxWorkers, 1))

	wg := sync.WaitGroup{}
	wg.Add(workers)

	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()

			for next := range queue {
				if err := ctx.Err(); err != nil {
					completed <- CompletedTask[In, Out]{Input: next, Error: err}
					continue
				}

				res, err := worker(ctx, next)
				completed <- CompletedTask[In, Out]{Input: next, Result: res, Error: err}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(completed)
	}()

	return completed
}
