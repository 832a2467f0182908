// Package paginate walks a paginated result listing and streams the job numbers on each page.
package paginate

import (
	"context"
	"errors"
	"iter"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/hellowork-crawler/internal/job"
	"github.com/JakeFAU/hellowork-crawler/internal/metrics"
	"github.com/JakeFAU/hellowork-crawler/internal/page"
)

// ErrConsumed is yielded when a sequence is ranged over a second time.
var ErrConsumed = errors.New("listing sequence already consumed")

// Engine enumerates job numbers across listing pages.
type Engine struct {
	// RoughMaxCount is a soft cap honored at page granularity: the page that reaches it is emitted in
	// full and no further page is loaded.
	RoughMaxCount int
	// NextPageDelay is the minimum time between two page loads.
	NextPageDelay time.Duration
	Logger        *zap.Logger
}

// Batches returns the job numbers of each listing page, starting with first, in site order. An error
// is yielded at most once and ends the sequence. The sequence drives the browser and can be ranged
// over only once.
func (e *Engine) Batches(ctx context.Context, first page.ListPage) iter.Seq2[[]job.Number, error] {
	logger := e.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var used atomic.Bool
	return func(yield func([]job.Number, error) bool) {
		if !used.CompareAndSwap(false, true) {
			yield(nil, ErrConsumed)
			return
		}

		pacer := rate.NewLimiter(rate.Every(e.NextPageDelay), 1)
		pacer.Allow() // the first page is already loaded

		current := first
		total := 0
		for pageNo := 1; ; pageNo++ {
			numbers, err := page.JobNumbers(ctx, current)
			if err != nil {
				yield(nil, err)
				return
			}
			total += len(numbers)
			if url, err := current.URL(ctx); err == nil {
				metrics.ObserveListingPage(url, len(numbers))
			}
			logger.Debug("listing page read", zap.Int("page", pageNo), zap.Int("count", len(numbers)), zap.Int("total", total))
			if !yield(numbers, nil) {
				return
			}

			if e.RoughMaxCount > 0 && total >= e.RoughMaxCount {
				logger.Info("soft cap reached", zap.Int("total", total), zap.Int("rough_max_count", e.RoughMaxCount))
				return
			}
			more, err := page.HasNextPage(ctx, current)
			if err != nil {
				yield(nil, err)
				return
			}
			if !more {
				return
			}

			start := time.Now()
			if err := pacer.Wait(ctx); err != nil {
				yield(nil, err)
				return
			}
			metrics.ObservePaginationDelay(time.Since(start))

			current, err = page.AdvanceToNextPage(ctx, current)
			if err != nil {
				yield(nil, err)
				return
			}
		}
	}
}

// Collect drains seq into one slice, stopping at the first error.
func Collect(seq iter.Seq2[[]job.Number, error]) ([]job.Number, error) {
	var out []job.Number
	for batch, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, batch...)
	}
	return out, nil
}
