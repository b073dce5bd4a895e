// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package fetch

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// ParallelPageLimit bounds the page total FetchAllParallel trusts from
// the API. Pages past it are fetched sequentially.
var ParallelPageLimit = 1000

// FetchAllParallel retrieves page 1, reads the page total it reports, and
// fetches the remaining pages with at most workers requests in flight.
// Pages are reassembled in page order, so the result equals FetchAll's:
// on failure Records holds every page before the earliest failing page.
// When the API reports no total, or still reports a next page after the
// last counted one, the fetch continues sequentially.
func (f *Fetcher) FetchAllParallel(ctx context.Context, workers int) (Result, error) {
	if workers <= 1 {
		return f.FetchAll(ctx)
	}

	first, err := f.fetchPage(ctx, 1)
	if err != nil {
		return f.abort(Result{}, err)
	}
	acc := Result{Records: first.records, Pages: 1}
	if !first.hasNext {
		acc.Complete = true
		return acc, nil
	}
	total := first.pages
	if total <= 1 {
		return f.fetchFrom(ctx, acc, 2)
	}
	if total > ParallelPageLimit {
		f.Logger.Warn().Int("reported", total).Int("limit", ParallelPageLimit).Msg("page total exceeds parallel limit")
		total = ParallelPageLimit
	}

	results := make([]page, total+1)
	errs := make([]error, total+1)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for n := 2; n <= total; n++ {
		g.Go(func() error {
			p, err := f.fetchPage(gctx, n)
			if err != nil {
				errs[n] = err
				return err
			}
			results[n] = p
			return nil
		})
	}
	_ = g.Wait()

	hasNext := true
	for n := 2; n <= total; n++ {
		p, err := results[n], errs[n]
		if err != nil {
			if !cancelledByGroup(ctx, err) {
				return f.abort(acc, err)
			}
			// Another page failed first; refetch this one so the
			// reported failure is the earliest page's.
			p, err = f.fetchPage(ctx, n)
			if err != nil {
				return f.abort(acc, err)
			}
		}
		acc.Records = append(acc.Records, p.records...)
		acc.Pages = n
		hasNext = p.hasNext
		if !hasNext {
			break
		}
	}

	if hasNext {
		return f.fetchFrom(ctx, acc, total+1)
	}
	acc.Complete = true
	f.Logger.Info().Int("pages", acc.Pages).Int("records", len(acc.Records)).Int("workers", workers).Msg("fetch complete")
	return acc, nil
}

// cancelledByGroup reports whether err came from the errgroup cancelling
// its context after a sibling page failed, rather than from the caller.
func cancelledByGroup(parent context.Context, err error) bool {
	return parent.Err() == nil && errors.Is(err, context.Canceled)
}
