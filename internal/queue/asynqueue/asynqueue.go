// Package asynqueue implements the queue contracts on top of asynq and Redis.
//
// The receive budget maps onto asynq's retry count: a task is delivered MaxReceiveCount times in
// total, spaced by the visibility delay, after which asynq archives it. Archived tasks are the
// dead-letter queue.
package asynqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/JakeFAU/hellowork-crawler/internal/job"
	"github.com/JakeFAU/hellowork-crawler/internal/queue"
)

// TaskType names the ETL task.
const TaskType = "hellowork:etl"

// Config describes the Redis connection and delivery policy.
type Config struct {
	Addr            string
	Password        string
	DB              int
	Queue           string
	MaxReceiveCount int
	VisibilityDelay time.Duration
	// Timeout bounds one task execution. Zero uses asynq's default.
	Timeout     time.Duration
	Concurrency int
}

// RedisOpt returns the asynq connection options.
func (c Config) RedisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: c.Addr, Password: c.Password, DB: c.DB}
}

func (c Config) queueName() string {
	if c.Queue == "" {
		return "default"
	}
	return c.Queue
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Producer enqueues ETL tasks.
type Producer struct {
	client enqueuer
	cfg    Config
}

var _ queue.Producer = (*Producer)(nil)

// NewProducer connects an asynq client.
func NewProducer(cfg Config) *Producer {
	return &Producer{client: asynq.NewClient(cfg.RedisOpt()), cfg: cfg}
}

// Enqueue implements queue.Producer.
func (p *Producer) Enqueue(ctx context.Context, msg job.QueueMessage) error {
	body, err := msg.Encode()
	if err != nil {
		return err
	}
	if _, err := p.client.EnqueueContext(ctx, asynq.NewTask(TaskType, body), p.options()...); err != nil {
		return fmt.Errorf("asynq enqueue %s: %w", msg.JobNumber, err)
	}
	return nil
}

func (p *Producer) options() []asynq.Option {
	opts := []asynq.Option{
		asynq.Queue(p.cfg.queueName()),
		asynq.MaxRetry(max(p.cfg.MaxReceiveCount-1, 0)),
	}
	if p.cfg.Timeout > 0 {
		opts = append(opts, asynq.Timeout(p.cfg.Timeout))
	}
	return opts
}

// Close releases the Redis connection.
func (p *Producer) Close() error {
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close asynq client: %w", err)
	}
	return nil
}

type server interface {
	Start(handler asynq.Handler) error
	Shutdown()
}

// Consumer runs an asynq server for ETL tasks.
type Consumer struct {
	srv server
}

var _ queue.Consumer = (*Consumer)(nil)

// NewConsumer builds the asynq server. Failed tasks are retried after a fixed visibility delay.
func NewConsumer(cfg Config, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	delay := cfg.VisibilityDelay
	srv := asynq.NewServer(cfg.RedisOpt(), asynq.Config{
		Concurrency: max(cfg.Concurrency, 1),
		Queues:      map[string]int{cfg.queueName(): 1},
		RetryDelayFunc: func(int, error, *asynq.Task) time.Duration {
			return delay
		},
		Logger: logger.Named("asynq").Sugar(),
	})
	return &Consumer{srv: srv}
}

// Consume starts the server and blocks until ctx is done, then shuts it down gracefully.
func (c *Consumer) Consume(ctx context.Context, h queue.Handler) error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskType, taskHandler(h))
	if err := c.srv.Start(mux); err != nil {
		return fmt.Errorf("start asynq server: %w", err)
	}
	<-ctx.Done()
	c.srv.Shutdown()
	return nil
}

func taskHandler(h queue.Handler) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, task *asynq.Task) error {
		id, _ := asynq.GetTaskID(ctx)
		retried, _ := asynq.GetRetryCount(ctx)
		return h(ctx, queue.Delivery{ID: id, Body: task.Payload(), Attempt: retried + 1})
	}
}

type inspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	ListArchivedTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	DeleteTask(queue, id string) error
	Close() error
}

// DeadLetters exposes archived tasks as a dead-letter queue.
type DeadLetters struct {
	insp  inspector
	queue string
}

var _ queue.DeadLetterQueue = (*DeadLetters)(nil)

// NewDeadLetters connects an asynq inspector.
func NewDeadLetters(cfg Config) *DeadLetters {
	return &DeadLetters{insp: asynq.NewInspector(cfg.RedisOpt()), queue: cfg.queueName()}
}

// Depth returns the archived task count. A queue that was never written to has none.
func (d *DeadLetters) Depth(context.Context) (int, error) {
	info, err := d.insp.GetQueueInfo(d.queue)
	if errors.Is(err, asynq.ErrQueueNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("asynq queue info: %w", err)
	}
	return info.Archived, nil
}

// Drain lists up to limit archived tasks, hands them to commit and deletes them once it succeeds.
// asynq does not keep the enqueue time, so EnqueuedAt is zero.
func (d *DeadLetters) Drain(ctx context.Context, limit int, commit queue.Commit) error {
	if limit <= 0 {
		return nil
	}
	tasks, err := d.insp.ListArchivedTasks(d.queue, asynq.PageSize(limit))
	if errors.Is(err, asynq.ErrQueueNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("list archived tasks: %w", err)
	}
	if len(tasks) == 0 {
		return nil
	}
	held := make([]queue.DeadLetter, 0, len(tasks))
	for _, t := range tasks {
		held = append(held, queue.NewDeadLetter(t.ID, t.Payload, t.Retried+1, time.Time{}, t.LastFailedAt, t.LastErr))
	}
	if err := commit(ctx, held); err != nil {
		return err
	}
	var errs []error
	for _, t := range tasks {
		if err := d.insp.DeleteTask(d.queue, t.ID); err != nil {
			errs = append(errs, fmt.Errorf("delete archived task %s: %w", t.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Close releases the inspector's Redis connection.
func (d *DeadLetters) Close() error {
	if err := d.insp.Close(); err != nil {
		return fmt.Errorf("close asynq inspector: %w", err)
	}
	return nil
}
