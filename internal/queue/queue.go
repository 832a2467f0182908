// Package queue defines the message queue contract between the crawl run and the ETL workers.
//
// The crawl run enqueues one job.QueueMessage per discovered job number through a Producer. Workers
// receive one Delivery at a time through a Consumer and report the outcome by returning an error: nil
// acknowledges the message, anything else leaves it to the backend's redelivery, which moves it to a
// dead-letter queue once the receive budget is spent. Backends live in the memory, asynqueue and
// pubsub subpackages.
package queue

import (
	"context"
	"time"

	"github.com/JakeFAU/hellowork-crawler/internal/job"
)

// DepthUnknown is returned by DeadLetterQueue.Depth when the backend cannot count without draining.
const DepthUnknown = -1

// Producer publishes queue messages.
type Producer interface {
	// Enqueue publishes one message and returns once the backend has accepted it.
	Enqueue(ctx context.Context, msg job.QueueMessage) error
	// Close cleans up any client connections and resources.
	Close() error
}

// Delivery is one receipt of a message.
type Delivery struct {
	ID   string
	Body []byte
	// Attempt is 1 on the first receipt.
	Attempt int
	// EnqueuedAt is zero when the backend does not report it.
	EnqueuedAt time.Time
}

// Handler processes one delivery. Returning nil acknowledges it.
type Handler func(ctx context.Context, d Delivery) error

// Consumer feeds deliveries to a Handler until ctx is done.
type Consumer interface {
	Consume(ctx context.Context, h Handler) error
}

// DeadLetter is a message that exhausted its receive budget.
type DeadLetter struct {
	ID         string    `json:"id"`
	Body       string    `json:"body"`
	JobNumber  string    `json:"jobNumber,omitempty"`
	RetryCount int       `json:"retryCount"`
	EnqueuedAt time.Time `json:"enqueuedAt,omitzero"`
	FailedAt   time.Time `json:"failedAt,omitzero"`
	LastError  string    `json:"lastError,omitempty"`
}

// NewDeadLetter builds a DeadLetter and recovers the job number from body when it decodes.
func NewDeadLetter(id string, body []byte, retryCount int, enqueuedAt, failedAt time.Time, lastError string) DeadLetter {
	dl := DeadLetter{
		ID:         id,
		Body:       string(body),
		RetryCount: retryCount,
		EnqueuedAt: enqueuedAt,
		FailedAt:   failedAt,
		LastError:  lastError,
	}
	if msg, err := job.DecodeQueueMessage(body); err == nil {
		dl.JobNumber = msg.JobNumber.String()
	}
	return dl
}

// Commit receives drained dead letters while the backend still holds them.
type Commit func(ctx context.Context, dead []DeadLetter) error

// DeadLetterQueue exposes the messages that exhausted redelivery.
type DeadLetterQueue interface {
	// Depth returns the approximate number of dead letters, or DepthUnknown.
	Depth(ctx context.Context) (int, error)
	// Drain hands up to limit dead letters to commit and removes them only when commit returns
	// nil. commit is not called when nothing is waiting. A commit error is returned unchanged. When
	// collecting fails partway, commit still sees what was collected and the collection error is
	// returned after it.
	Drain(ctx context.Context, limit int, commit Commit) error
}

// NoOpProducer is a Producer that discards every message.
type NoOpProducer struct{}

// Enqueue for NoOpProducer does nothing and returns nil.
func (NoOpProducer) Enqueue(context.Context, job.QueueMessage) error { return nil }

// Close for NoOpProducer does nothing and returns nil.
func (NoOpProducer) Close() error { return nil }
