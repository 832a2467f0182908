// Package pubsub implements the queue contracts on Google Cloud Pub/Sub.
//
// Redelivery and dead-lettering are subscription settings owned by infrastructure: the work
// subscription carries a retry policy (the visibility delay) and a dead-letter policy with
// max_delivery_attempts (the receive budget). Nacked messages come back until Pub/Sub forwards them
// to the dead-letter topic, whose subscription this package drains.
package pubsub

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"google.golang.org/api/option"

	"github.com/JakeFAU/hellowork-crawler/internal/job"
	"github.com/JakeFAU/hellowork-crawler/internal/queue"
)

// Message attributes.
const (
	JobNumberAttr     = "jobNumber"
	EnqueuedAtAttr    = "enqueuedAt"
	DeliveryCountAttr = "CloudPubSubDeadLetterSourceDeliveryCount"
)

const defaultIdleTimeout = 5 * time.Second

// Config names the Pub/Sub resources.
type Config struct {
	ProjectID                string
	TopicID                  string
	SubscriptionID           string
	DeadLetterSubscriptionID string
	// Concurrency bounds the messages handled at once.
	Concurrency int
	// IdleTimeout ends a drain once the dead-letter subscription has been quiet this long.
	IdleTimeout time.Duration
}

// Queue publishes to the work topic, consumes the work subscription and drains the dead-letter
// subscription.
type Queue struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
	sub       *pubsub.Subscriber
	dead      *pubsub.Subscriber
	idle      time.Duration
	now       func() time.Time
}

var (
	_ queue.Producer        = (*Queue)(nil)
	_ queue.Consumer        = (*Queue)(nil)
	_ queue.DeadLetterQueue = (*Queue)(nil)
)

// New creates a Pub/Sub client using Application Default Credentials unless opts override them.
func New(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Queue, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return NewFromClient(client, cfg), nil
}

// NewFromClient wraps an existing client. The Queue owns it from then on.
func NewFromClient(client *pubsub.Client, cfg Config) *Queue {
	sub := client.Subscriber(cfg.SubscriptionID)
	sub.ReceiveSettings.MaxOutstandingMessages = max(cfg.Concurrency, 1)
	idle := cfg.IdleTimeout
	if idle <= 0 {
		idle = defaultIdleTimeout
	}
	q := &Queue{
		client:    client,
		publisher: client.Publisher(cfg.TopicID),
		sub:       sub,
		idle:      idle,
		now:       func() time.Time { return time.Now().UTC() },
	}
	if cfg.DeadLetterSubscriptionID != "" {
		q.dead = client.Subscriber(cfg.DeadLetterSubscriptionID)
	}
	return q
}

// Enqueue publishes one message and waits for the server to accept it.
func (q *Queue) Enqueue(ctx context.Context, msg job.QueueMessage) error {
	body, err := msg.Encode()
	if err != nil {
		return err
	}
	result := q.publisher.Publish(ctx, &pubsub.Message{
		Data: body,
		Attributes: map[string]string{
			JobNumberAttr:  msg.JobNumber.String(),
			EnqueuedAtAttr: q.now().Format(time.RFC3339Nano),
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish %s: %w", msg.JobNumber, err)
	}
	return nil
}

// Consume receives from the work subscription until ctx is done. A handler error nacks the message.
func (q *Queue) Consume(ctx context.Context, h queue.Handler) error {
	err := q.sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		attempt := 1
		if m.DeliveryAttempt != nil {
			attempt = *m.DeliveryAttempt
		}
		d := queue.Delivery{ID: m.ID, Body: m.Data, Attempt: attempt, EnqueuedAt: m.PublishTime}
		if err := h(ctx, d); err != nil {
			m.Nack()
			return
		}
		m.Ack()
	})
	if err != nil {
		return fmt.Errorf("receive: %w", err)
	}
	return nil
}

// Depth is always queue.DepthUnknown: the subscriber API cannot count backlog.
func (q *Queue) Depth(context.Context) (int, error) {
	return queue.DepthUnknown, nil
}

// Drain pulls up to limit messages from the dead-letter subscription and holds them while commit
// runs. They are acked when commit succeeds and nacked otherwise, so Pub/Sub redelivers them to the
// next drain. Collection ends once limit is reached or the subscription stays idle for the
// configured timeout.
func (q *Queue) Drain(ctx context.Context, limit int, commit queue.Commit) error {
	if q.dead == nil {
		return fmt.Errorf("no dead-letter subscription configured")
	}
	if limit <= 0 {
		return nil
	}
	q.dead.ReceiveSettings.MaxOutstandingMessages = limit

	rctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu      sync.Mutex
		held    []*pubsub.Message
		closed  bool
		ack     bool
		full    = make(chan struct{})
		decided = make(chan struct{})
		stop    sync.Once
	)
	collected := func() { stop.Do(func() { close(full) }) }
	idle := time.AfterFunc(q.idle, collected)
	defer idle.Stop()

	received := make(chan error, 1)
	go func() {
		received <- q.dead.Receive(rctx, func(_ context.Context, m *pubsub.Message) {
			mu.Lock()
			if closed || len(held) >= limit {
				mu.Unlock()
				m.Nack()
				return
			}
			held = append(held, m)
			n := len(held)
			mu.Unlock()
			if n >= limit {
				collected()
			} else {
				idle.Reset(q.idle)
			}
			<-decided
			if ack {
				m.Ack()
			} else {
				m.Nack()
			}
		})
	}()

	var recvErr error
	finished := false
	select {
	case <-full:
	case <-ctx.Done():
	case recvErr = <-received:
		finished = true
	}

	mu.Lock()
	closed = true
	msgs := held
	mu.Unlock()

	var commitErr error
	if len(msgs) > 0 {
		out := make([]queue.DeadLetter, 0, len(msgs))
		for _, m := range msgs {
			out = append(out, deadLetter(m))
		}
		commitErr = commit(ctx, out)
		ack = commitErr == nil
	}
	close(decided)
	cancel()
	if !finished {
		recvErr = <-received
	}

	if commitErr != nil {
		return commitErr
	}
	if recvErr != nil {
		return fmt.Errorf("drain dead letters: %w", recvErr)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("drain canceled: %w", err)
	}
	return nil
}

func deadLetter(m *pubsub.Message) queue.DeadLetter {
	retries, _ := strconv.Atoi(m.Attributes[DeliveryCountAttr])
	var enqueuedAt time.Time
	if v, ok := m.Attributes[EnqueuedAtAttr]; ok {
		enqueuedAt, _ = time.Parse(time.RFC3339Nano, v)
	}
	dl := queue.NewDeadLetter(m.ID, m.Data, retries, enqueuedAt, m.PublishTime, "")
	if dl.JobNumber == "" {
		dl.JobNumber = m.Attributes[JobNumberAttr]
	}
	return dl
}

// Close flushes the publisher and closes the client.
func (q *Queue) Close() error {
	q.publisher.Stop()
	if err := q.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
