package directory

import "golang.org/x/sync/errgroup"

// runBounded calls fn for every index in [0,n) with at most limit calls in flight and
// returns once all have finished. fn reports outcomes itself and never aborts the batch.
func runBounded(limit, n int, fn func(i int)) {
	var g errgroup.Group
	g.SetLimit(limit)

	for i := 0; i < n; i++ {
		g.Go(func() error {
			fn(i)
			return nil
		})
	}
	_ = g.Wait()
}
