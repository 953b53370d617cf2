package runtime

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// AsyncResult carries the outcome of CallAsync.
type AsyncResult struct {
	Result
	Err error
}

// CallAsync runs req on its own goroutine. The channel receives exactly
// one value and is then closed.
func (r *Runtime) CallAsync(ctx context.Context, req CallRequest) <-chan AsyncResult {
	ch := make(chan AsyncResult, 1)
	go func() {
		defer close(ch)
		res, err := r.Call(ctx, req)
		ch <- AsyncResult{Result: res, Err: err}
	}()
	return ch
}

// CallAll runs reqs concurrently, at most the configured concurrency at a
// time, and returns results in request order. The first failure stops
// calls that have not started yet and is returned.
func (r *Runtime) CallAll(ctx context.Context, reqs []CallRequest) ([]Result, error) {
	results := make([]Result, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i := range reqs {
		g.Go(func() error {
			res, err := r.Call(gctx, reqs[i])
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
