// Package etl runs the per-job Extract → Transform → Load state machine.
//
// One Run drives one fresh browser session from the search form to the job's detail screen, captures
// the rendered HTML, normalizes it offline, and posts the record to the job store. Every failure is
// returned as a *failure.Failure attributed to the stage it surfaced in; nothing is retried here.
package etl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/hellowork-crawler/internal/browser"
	"github.com/JakeFAU/hellowork-crawler/internal/extract"
	"github.com/JakeFAU/hellowork-crawler/internal/failure"
	"github.com/JakeFAU/hellowork-crawler/internal/job"
	"github.com/JakeFAU/hellowork-crawler/internal/metrics"
	"github.com/JakeFAU/hellowork-crawler/internal/page"
	"github.com/JakeFAU/hellowork-crawler/internal/store"
)

// State is a node of the orchestration state machine.
type State string

// States in the order a successful run passes through them.
const (
	StateExtracting   State = "extracting"
	StateTransforming State = "transforming"
	StateLoading      State = "loading"
	StateDone         State = "done"
	StateFailed       State = "failed"
)

var stageOf = map[State]failure.Stage{
	StateExtracting:   failure.StageExtracting,
	StateTransforming: failure.StageTransforming,
	StateLoading:      failure.StageLoading,
}

// Loader persists normalized jobs.
type Loader interface {
	Create(ctx context.Context, rec job.Normalized) (store.Record, error)
}

// Snapshotter archives captured detail screens.
type Snapshotter interface {
	Save(ctx context.Context, number job.Number, runID, sourceURL string, html []byte) (string, error)
}

// IDGenerator mints run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Clock supplies timestamps.
type Clock interface {
	Now() time.Time
}

// Config holds the orchestrator's settings.
type Config struct {
	SearchURL string
}

// Deps are the orchestrator's collaborators. Snapshots is optional.
type Deps struct {
	Launcher  browser.Launcher
	Loader    Loader
	Snapshots Snapshotter
	IDs       IDGenerator
	Clock     Clock
	Logger    *zap.Logger
}

// Result describes one run.
type Result struct {
	RunID     string
	JobNumber job.Number
	State     State
	// FailedStage is set when State is StateFailed.
	FailedStage failure.Stage
	Job         *job.Normalized
	Record      store.Record
	SnapshotURI string
	StartedAt   time.Time
	Duration    time.Duration
}

// Orchestrator executes ETL runs. It is safe for concurrent use; each Run owns its own session.
type Orchestrator struct {
	cfg  Config
	deps Deps
}

// New validates deps and builds an Orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Launcher == nil:
		return nil, errors.New("etl: browser launcher is required")
	case deps.Loader == nil:
		return nil, errors.New("etl: loader is required")
	case deps.IDs == nil:
		return nil, errors.New("etl: id generator is required")
	case deps.Clock == nil:
		return nil, errors.New("etl: clock is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.SearchURL == "" {
		cfg.SearchURL = page.DefaultSearchURL
	}
	deps.Logger = deps.Logger.Named("etl")
	return &Orchestrator{cfg: cfg, deps: deps}, nil
}

type capture struct {
	html string
	url  string
}

// Run executes Extracting → Transforming → Loading for n. The returned error, when non-nil, is a
// *failure.Failure naming the stage that failed.
func (o *Orchestrator) Run(ctx context.Context, n job.Number) (Result, error) {
	res := Result{JobNumber: n, StartedAt: o.deps.Clock.Now(), State: StateExtracting}
	runID, err := o.deps.IDs.NewID()
	if err != nil {
		runID = fmt.Sprintf("%s-%d", n, res.StartedAt.UnixNano())
		o.deps.Logger.Warn("run id generation failed; using fallback", zap.String("run_id", runID), zap.Error(err))
	}
	res.RunID = runID
	logger := o.deps.Logger.With(zap.String("run_id", runID), zap.String("job_number", n.String()))

	c, err := o.extract(ctx, logger, n)
	if err != nil {
		return o.finish(logger, res, err)
	}
	res.SnapshotURI = o.snapshot(ctx, logger, runID, n, c)

	res.State = StateTransforming
	rec, err := extract.FromHTML(ctx, c.html, c.url, n)
	if err != nil {
		return o.finish(logger, res, err)
	}
	res.Job = &rec

	res.State = StateLoading
	stored, err := o.deps.Loader.Create(ctx, rec)
	if err != nil {
		return o.finish(logger, res, err)
	}
	res.Record = stored
	res.State = StateDone
	return o.finish(logger, res, nil)
}

func (o *Orchestrator) extract(ctx context.Context, logger *zap.Logger, n job.Number) (capture, error) {
	session, err := o.deps.Launcher.Launch(ctx)
	if err != nil {
		return capture{}, failure.New(failure.KindBrowser, "launch", "could not start browser session", failure.WithCause(err))
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			logger.Warn("browser session close failed", zap.Error(cerr))
		}
	}()

	search, err := page.OpenSearchPage(ctx, session, o.cfg.SearchURL)
	if err != nil {
		return capture{}, err
	}
	list, err := page.SearchByJobNumber(ctx, search, n)
	if err != nil {
		return capture{}, err
	}
	if err := page.AssertSingleResult(ctx, list); err != nil {
		return capture{}, err
	}
	detail, err := page.OpenDetailFromList(ctx, list)
	if err != nil {
		return capture{}, err
	}
	html, err := detail.HTML(ctx)
	if err != nil {
		return capture{}, err
	}
	url, err := detail.URL(ctx)
	if err != nil {
		return capture{}, failure.New(failure.KindQuery, "capture_url", "could not read detail page URL", failure.WithCause(err))
	}
	return capture{html: html, url: url}, nil
}

func (o *Orchestrator) snapshot(ctx context.Context, logger *zap.Logger, runID string, n job.Number, c capture) string {
	if o.deps.Snapshots == nil {
		return ""
	}
	uri, err := o.deps.Snapshots.Save(ctx, n, runID, c.url, []byte(c.html))
	if err != nil {
		logger.Warn("snapshot not stored", zap.Error(err))
		return ""
	}
	return uri
}

func (o *Orchestrator) finish(logger *zap.Logger, res Result, err error) (Result, error) {
	res.Duration = o.deps.Clock.Now().Sub(res.StartedAt)
	if err == nil {
		metrics.ObserveETL(string(StateDone), "", res.Duration)
		logger.Info("job loaded",
			zap.String("record_id", res.Record.ID),
			zap.String("snapshot", res.SnapshotURI),
			zap.Duration("duration", res.Duration))
		return res, nil
	}

	stage := stageOf[res.State]
	err = failure.WithStage(err, stage)
	res.FailedStage = stage
	res.State = StateFailed
	kind := failure.KindOf(err)
	metrics.ObserveETL(string(StateFailed), string(kind), res.Duration)

	fields := append(failure.LogFields(err), zap.Duration("duration", res.Duration))
	if kind == failure.KindLoadDuplicate {
		logger.Warn("job already stored", fields...)
	} else {
		logger.Error("etl run failed", fields...)
	}
	return res, err
}
