// Package worker turns one queue delivery into one ETL run.
package worker

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/hellowork-crawler/internal/etl"
	"github.com/JakeFAU/hellowork-crawler/internal/failure"
	"github.com/JakeFAU/hellowork-crawler/internal/job"
	"github.com/JakeFAU/hellowork-crawler/internal/metrics"
	"github.com/JakeFAU/hellowork-crawler/internal/queue"
)

const maxRawBody = 256

// Runner executes one ETL run.
type Runner interface {
	Run(ctx context.Context, n job.Number) (etl.Result, error)
}

// Config controls Worker behavior.
type Config struct {
	// Timeout bounds one message. Zero leaves the delivery context alone.
	Timeout time.Duration
}

// Worker handles queue deliveries.
type Worker struct {
	runner Runner
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(runner Runner, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{runner: runner, cfg: cfg, logger: logger.Named("worker")}
}

// Handle implements queue.Handler. It returns nil when the message should be acknowledged: the job
// was loaded, or the store already had it. Every other failure is returned so the queue redelivers
// the message and eventually dead-letters it. Undecodable bodies are returned too.
func (w *Worker) Handle(ctx context.Context, d queue.Delivery) error {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	logger := w.logger.With(zap.String("message_id", d.ID), zap.Int("attempt", d.Attempt))
	msg, err := job.DecodeQueueMessage(d.Body)
	if err != nil {
		raw := string(d.Body)
		if len(raw) > maxRawBody {
			raw = strings.ToValidUTF8(raw[:maxRawBody], "")
		}
		err = failure.WithStage(failure.New(failure.KindDecode, "decode_message", "malformed queue message",
			failure.WithRaw(raw), failure.WithCause(err)), failure.StageQueue)
		logger.Error("message rejected", failure.LogFields(err)...)
		return err
	}

	if w.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.Timeout)
		defer cancel()
	}

	logger = logger.With(zap.String("job_number", msg.JobNumber.String()))
	res, err := w.runner.Run(ctx, msg.JobNumber)
	if err == nil {
		logger.Debug("message acknowledged", zap.String("run_id", res.RunID))
		return nil
	}
	if !failure.Retryable(err) {
		logger.Info("duplicate job dropped", zap.String("run_id", res.RunID))
		return nil
	}
	logger.Warn("message left for redelivery", append(failure.LogFields(err), zap.String("run_id", res.RunID))...)
	return err
}
