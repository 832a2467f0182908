// Package memory provides an in-process queue with redelivery and a dead-letter list, for local runs
// and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/hellowork-crawler/internal/job"
	"github.com/JakeFAU/hellowork-crawler/internal/queue"
)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("queue closed")

// Config controls redelivery.
type Config struct {
	// Capacity bounds the number of messages waiting for a receiver.
	Capacity int
	// MaxReceiveCount is the number of receipts after which a failing message is dead-lettered.
	MaxReceiveCount int
	// VisibilityDelay is how long a failed message stays invisible before it is redelivered.
	VisibilityDelay time.Duration
}

type message struct {
	id         string
	body       []byte
	receives   int
	enqueuedAt time.Time
}

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	cfg Config
	ch  chan *message
	now func() time.Time
	seq atomic.Int64

	mu     sync.Mutex
	dead   []queue.DeadLetter
	closed bool
}

var (
	_ queue.Producer        = (*Queue)(nil)
	_ queue.Consumer        = (*Queue)(nil)
	_ queue.DeadLetterQueue = (*Queue)(nil)
)

// NewQueue constructs a queue.
func NewQueue(cfg Config) *Queue {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1024
	}
	if cfg.MaxReceiveCount <= 0 {
		cfg.MaxReceiveCount = 1
	}
	return &Queue{
		cfg: cfg,
		ch:  make(chan *message, cfg.Capacity),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue pushes a message into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, msg job.QueueMessage) error {
	body, err := msg.Encode()
	if err != nil {
		return err
	}
	return q.EnqueueRaw(ctx, body)
}

// EnqueueRaw pushes an arbitrary body, which is how a malformed message reaches a worker.
func (q *Queue) EnqueueRaw(ctx context.Context, body []byte) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return ErrClosed
	}
	m := &message{
		id:         "mem-" + strconv.FormatInt(q.seq.Add(1), 10),
		body:       body,
		enqueuedAt: q.now(),
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- m:
		return nil
	}
}

// Consume hands messages to h until ctx ends. A failed message is redelivered after the visibility
// delay until it has been received MaxReceiveCount times, then it moves to the dead-letter list.
func (q *Queue) Consume(ctx context.Context, h queue.Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-q.ch:
			m.receives++
			err := h(ctx, queue.Delivery{ID: m.id, Body: m.body, Attempt: m.receives, EnqueuedAt: m.enqueuedAt})
			if err == nil {
				continue
			}
			if m.receives >= q.cfg.MaxReceiveCount {
				q.deadLetter(m, err)
				continue
			}
			q.redeliver(ctx, m)
		}
	}
}

func (q *Queue) redeliver(ctx context.Context, m *message) {
	go func() {
		timer := time.NewTimer(q.cfg.VisibilityDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		select {
		case <-ctx.Done():
		case q.ch <- m:
		}
	}()
}

func (q *Queue) deadLetter(m *message, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead = append(q.dead, queue.NewDeadLetter(m.id, m.body, m.receives, m.enqueuedAt, q.now(), err.Error()))
}

// Depth returns the number of dead letters.
func (q *Queue) Depth(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.dead), nil
}

// Drain hands up to limit dead letters, oldest first, to commit and drops them once it succeeds.
func (q *Queue) Drain(ctx context.Context, limit int, commit queue.Commit) error {
	q.mu.Lock()
	n := min(limit, len(q.dead))
	if n <= 0 {
		q.mu.Unlock()
		return nil
	}
	held := append([]queue.DeadLetter(nil), q.dead[:n]...)
	q.mu.Unlock()

	if err := commit(ctx, held); err != nil {
		return err
	}

	done := make(map[string]struct{}, len(held))
	for _, dl := range held {
		done[dl.ID] = struct{}{}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.dead[:0]
	for _, dl := range q.dead {
		if _, ok := done[dl.ID]; !ok {
			kept = append(kept, dl)
		}
	}
	q.dead = kept
	return nil
}

// Pending returns the number of messages waiting for a receiver.
func (q *Queue) Pending() int { return len(q.ch) }

// Close rejects further enqueues. Messages already queued stay available to consumers.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
