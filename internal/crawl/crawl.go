// Package crawl runs the listing crawl: one browser session walks the criteria search results and
// every job number found is enqueued for its own ETL run.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/hellowork-crawler/internal/browser"
	"github.com/JakeFAU/hellowork-crawler/internal/failure"
	"github.com/JakeFAU/hellowork-crawler/internal/job"
	"github.com/JakeFAU/hellowork-crawler/internal/metrics"
	"github.com/JakeFAU/hellowork-crawler/internal/page"
	"github.com/JakeFAU/hellowork-crawler/internal/paginate"
	"github.com/JakeFAU/hellowork-crawler/internal/queue"
)

// Config controls a crawl run.
type Config struct {
	SearchURL     string
	Criteria      job.Criteria
	RoughMaxCount int
	NextPageDelay time.Duration
	// Timeout bounds the whole run. Zero means no limit beyond the caller's context.
	Timeout time.Duration
}

// Deps are the runner's collaborators.
type Deps struct {
	Launcher browser.Launcher
	Producer queue.Producer
	Logger   *zap.Logger
}

// Result summarizes a run.
type Result struct {
	Pages      int
	Discovered int
	Enqueued   int
	Failed     int
	Duration   time.Duration
}

// Runner executes crawl runs.
type Runner struct {
	cfg  Config
	deps Deps
}

// New validates deps.
func New(cfg Config, deps Deps) (*Runner, error) {
	if deps.Launcher == nil {
		return nil, errors.New("crawl: browser launcher is required")
	}
	if deps.Producer == nil {
		return nil, errors.New("crawl: producer is required")
	}
	if cfg.RoughMaxCount <= 0 {
		return nil, fmt.Errorf("crawl: rough max count must be positive, got %d", cfg.RoughMaxCount)
	}
	if cfg.SearchURL == "" {
		cfg.SearchURL = page.DefaultSearchURL
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	deps.Logger = deps.Logger.Named("crawl")
	return &Runner{cfg: cfg, deps: deps}, nil
}

// Run searches, paginates and enqueues. Enqueue failures do not stop the run; the first one is
// returned once every discovered number has been attempted. Any other failure ends the run at once.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}
	start := time.Now()
	var res Result
	err := failure.WithStage(r.run(ctx, &res), failure.StageCrawling)
	res.Duration = time.Since(start)

	fields := []zap.Field{
		zap.Int("pages", res.Pages),
		zap.Int("discovered", res.Discovered),
		zap.Int("enqueued", res.Enqueued),
		zap.Int("enqueue_failures", res.Failed),
		zap.Duration("duration", res.Duration),
	}
	if err != nil {
		r.deps.Logger.Error("crawl run failed", append(fields, failure.LogFields(err)...)...)
		return res, err
	}
	r.deps.Logger.Info("crawl run finished", fields...)
	return res, nil
}

func (r *Runner) run(ctx context.Context, res *Result) error {
	session, err := r.deps.Launcher.Launch(ctx)
	if err != nil {
		return failure.New(failure.KindBrowser, "launch", "could not start browser session", failure.WithCause(err))
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			r.deps.Logger.Warn("browser session close failed", zap.Error(cerr))
		}
	}()

	search, err := page.OpenSearchPage(ctx, session, r.cfg.SearchURL)
	if err != nil {
		return err
	}
	list, err := page.SearchByCriteria(ctx, search, r.cfg.Criteria)
	if err != nil {
		return err
	}

	engine := paginate.Engine{
		RoughMaxCount: r.cfg.RoughMaxCount,
		NextPageDelay: r.cfg.NextPageDelay,
		Logger:        r.deps.Logger,
	}
	var firstEnqueueErr error
	for batch, err := range engine.Batches(ctx, list) {
		if err != nil {
			return err
		}
		res.Pages++
		res.Discovered += len(batch)
		for _, n := range batch {
			if err := r.deps.Producer.Enqueue(ctx, job.QueueMessage{JobNumber: n}); err != nil {
				metrics.ObserveEnqueueFailure()
				res.Failed++
				r.deps.Logger.Warn("enqueue failed", zap.String("job_number", n.String()), zap.Error(err))
				if firstEnqueueErr == nil {
					firstEnqueueErr = failure.New(failure.KindEnqueue, "enqueue", "could not enqueue job number",
						failure.WithField("jobNumber"), failure.WithRaw(n.String()), failure.WithCause(err))
				}
				continue
			}
			res.Enqueued++
		}
	}
	return firstEnqueueErr
}
