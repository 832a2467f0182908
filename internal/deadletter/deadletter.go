// Package deadletter inspects the dead-letter queue and files one aggregated report per run.
package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/hellowork-crawler/internal/metrics"
	"github.com/JakeFAU/hellowork-crawler/internal/queue"
)

const defaultMaxDrain = 50

var failurePrefix = regexp.MustCompile(`^(?:stage=(\S+) )?kind=(\S+)`)

// Diagnosis is the structured failure recovered from a dead letter, when there is one.
type Diagnosis struct {
	Stage  string `json:"stage,omitempty"`
	Kind   string `json:"kind,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Entry is one dead letter in a report.
type Entry struct {
	queue.DeadLetter
	Diagnosis Diagnosis `json:"diagnosis"`
}

// Report aggregates one inspector run.
type Report struct {
	ID          string    `json:"id"`
	GeneratedAt time.Time `json:"generatedAt"`
	// Depth is the queue depth before draining, or queue.DepthUnknown.
	Depth   int     `json:"depth"`
	Entries []Entry `json:"entries"`
	// Link points at the filed report, when the reporter returns one.
	Link string `json:"link,omitempty"`
}

// Reporter files a report somewhere a human will see it and returns a link, if any.
type Reporter interface {
	Name() string
	File(ctx context.Context, r Report) (string, error)
}

// Archive keeps drained dead letters after they leave the queue.
type Archive interface {
	Store(ctx context.Context, r Report) error
}

// IDGenerator mints report IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Clock supplies timestamps.
type Clock interface {
	Now() time.Time
}

// Config controls an inspector run.
type Config struct {
	MaxDrain int
}

// Deps are the inspector's collaborators. Archive is optional.
type Deps struct {
	Queue    queue.DeadLetterQueue
	Reporter Reporter
	Archive  Archive
	IDs      IDGenerator
	Clock    Clock
	Logger   *zap.Logger
}

// Inspector drains the dead-letter queue.
type Inspector struct {
	cfg  Config
	deps Deps
}

// NewInspector validates deps.
func NewInspector(cfg Config, deps Deps) (*Inspector, error) {
	switch {
	case deps.Queue == nil:
		return nil, errors.New("deadletter: queue is required")
	case deps.Reporter == nil:
		return nil, errors.New("deadletter: reporter is required")
	case deps.IDs == nil:
		return nil, errors.New("deadletter: id generator is required")
	case deps.Clock == nil:
		return nil, errors.New("deadletter: clock is required")
	}
	if cfg.MaxDrain <= 0 {
		cfg.MaxDrain = defaultMaxDrain
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	deps.Logger = deps.Logger.Named("deadletter")
	return &Inspector{cfg: cfg, deps: deps}, nil
}

// Run checks the queue depth and, when anything may be waiting, drains up to MaxDrain dead letters and
// files one report. It returns nil when there was nothing to report. Dead letters leave the queue only
// once the report is filed; when filing fails they stay queued for the next run and the unfiled
// report is returned with the error.
func (i *Inspector) Run(ctx context.Context) (*Report, error) {
	logger := i.deps.Logger
	depth, err := i.deps.Queue.Depth(ctx)
	if err != nil {
		return nil, fmt.Errorf("dead-letter depth: %w", err)
	}
	if depth != queue.DepthUnknown {
		metrics.SetDeadLetterDepth(depth)
	}
	if depth == 0 {
		logger.Info("dead-letter queue empty")
		return nil, nil
	}

	var (
		report *Report
		filed  bool
	)
	err = i.deps.Queue.Drain(ctx, i.cfg.MaxDrain, func(ctx context.Context, drained []queue.DeadLetter) error {
		rep, err := i.file(ctx, depth, drained)
		report = rep
		if err != nil {
			return err
		}
		filed = true
		return nil
	})
	switch {
	case report == nil && err != nil:
		return nil, fmt.Errorf("drain dead letters: %w", err)
	case report == nil:
		logger.Info("dead-letter queue empty", zap.Int("depth", depth))
		return nil, nil
	case !filed:
		for _, e := range report.Entries {
			logger.Error("dead letter kept in queue, report not filed", entryFields(report.ID, e)...)
		}
		return report, err
	case err != nil:
		logger.Warn("dead-letter report filed but drain did not finish cleanly",
			zap.String("report_id", report.ID), zap.Error(err))
	}
	metrics.ObserveDeadLetterReport(i.deps.Reporter.Name())
	logger.Info("dead-letter report filed",
		zap.String("report_id", report.ID),
		zap.Int("depth", depth),
		zap.Int("entries", len(report.Entries)),
		zap.String("link", report.Link))
	return report, nil
}

// file builds, archives and files one report. The returned report is non-nil whenever an ID could
// be minted, even when filing fails.
func (i *Inspector) file(ctx context.Context, depth int, drained []queue.DeadLetter) (*Report, error) {
	id, err := i.deps.IDs.NewID()
	if err != nil {
		return nil, fmt.Errorf("report id: %w", err)
	}
	report := &Report{ID: id, GeneratedAt: i.deps.Clock.Now(), Depth: depth, Entries: make([]Entry, 0, len(drained))}
	for _, dl := range drained {
		report.Entries = append(report.Entries, Entry{DeadLetter: dl, Diagnosis: diagnose(dl)})
	}

	if i.deps.Archive != nil {
		if err := i.deps.Archive.Store(ctx, *report); err != nil {
			i.deps.Logger.Error("dead-letter archive failed", zap.String("report_id", report.ID), zap.Error(err))
		}
	}

	link, err := i.deps.Reporter.File(ctx, *report)
	if err != nil {
		return report, fmt.Errorf("file report via %s: %w", i.deps.Reporter.Name(), err)
	}
	report.Link = link
	return report, nil
}

func entryFields(reportID string, e Entry) []zap.Field {
	return []zap.Field{
		zap.String("report_id", reportID),
		zap.String("message_id", e.ID),
		zap.String("job_number", e.JobNumber),
		zap.Int("retry_count", e.RetryCount),
		zap.Time("enqueued_at", e.EnqueuedAt),
		zap.Time("failed_at", e.FailedAt),
		zap.String("failure_stage", e.Diagnosis.Stage),
		zap.String("failure_kind", e.Diagnosis.Kind),
		zap.String("last_error", e.LastError),
	}
}

// diagnose prefers a structured "error" object in the body and falls back to the key=value prefix
// of the last error.
func diagnose(dl queue.DeadLetter) Diagnosis {
	var body struct {
		Error *Diagnosis `json:"error"`
	}
	if json.Unmarshal([]byte(dl.Body), &body) == nil && body.Error != nil {
		return *body.Error
	}
	m := failurePrefix.FindStringSubmatch(dl.LastError)
	if m == nil {
		return Diagnosis{Reason: dl.LastError}
	}
	return Diagnosis{Stage: m[1], Kind: m[2], Reason: dl.LastError}
}

// LogReporter writes reports to the log. It is used when no issue tracker is configured.
type LogReporter struct {
	Logger *zap.Logger
}

// Name implements Reporter.
func (LogReporter) Name() string { return "log" }

// File implements Reporter.
func (r LogReporter) File(_ context.Context, rep Report) (string, error) {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, e := range rep.Entries {
		logger.Warn("dead letter", entryFields(rep.ID, e)...)
	}
	return "", nil
}
