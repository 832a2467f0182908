package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/hellowork-crawler/internal/job"
	"github.com/JakeFAU/hellowork-crawler/internal/queue"
)

func consume(t *testing.T, q *Queue, h queue.Handler) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, q.Consume(ctx, h))
	}()
	return func() {
		cancel()
		<-done
	}
}

func TestQueueDeliversAndAcks(t *testing.T) {
	t.Parallel()

	q := NewQueue(Config{MaxReceiveCount: 3})
	got := make(chan queue.Delivery, 1)
	stop := consume(t, q, func(_ context.Context, d queue.Delivery) error {
		got <- d
		return nil
	})
	defer stop()

	require.NoError(t, q.Enqueue(context.Background(), job.QueueMessage{JobNumber: "13010-00000001"}))
	select {
	case d := <-got:
		assert.Equal(t, 1, d.Attempt)
		assert.JSONEq(t, `{"jobNumber":"13010-00000001"}`, string(d.Body))
		assert.False(t, d.EnqueuedAt.IsZero())
	case <-time.After(time.Second):
		t.Fatal("message was not delivered")
	}

	depth, err := q.Depth(context.Background())
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestQueueRedeliversThenDeadLetters(t *testing.T) {
	t.Parallel()

	q := NewQueue(Config{MaxReceiveCount: 3, VisibilityDelay: 5 * time.Millisecond})
	var mu sync.Mutex
	var attempts []int
	stop := consume(t, q, func(_ context.Context, d queue.Delivery) error {
		mu.Lock()
		attempts = append(attempts, d.Attempt)
		mu.Unlock()
		return errors.New("stage=loading kind=load_store: store responded 503")
	})
	defer stop()

	require.NoError(t, q.Enqueue(context.Background(), job.QueueMessage{JobNumber: "13010-00000001"}))
	require.Eventually(t, func() bool {
		depth, _ := q.Depth(context.Background())
		return depth == 1
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []int{1, 2, 3}, attempts)
	mu.Unlock()

	dead, err := drain(q, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "13010-00000001", dead[0].JobNumber)
	assert.Equal(t, 3, dead[0].RetryCount)
	assert.Contains(t, dead[0].LastError, "load_store")
	assert.False(t, dead[0].FailedAt.IsZero())

	depth, err := q.Depth(context.Background())
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestQueueRecoversOnRetry(t *testing.T) {
	t.Parallel()

	q := NewQueue(Config{MaxReceiveCount: 3})
	done := make(chan int, 1)
	stop := consume(t, q, func(_ context.Context, d queue.Delivery) error {
		if d.Attempt < 2 {
			return errors.New("flaky")
		}
		done <- d.Attempt
		return nil
	})
	defer stop()

	require.NoError(t, q.Enqueue(context.Background(), job.QueueMessage{JobNumber: "13010-00000001"}))
	select {
	case attempt := <-done:
		assert.Equal(t, 2, attempt)
	case <-time.After(time.Second):
		t.Fatal("message was not redelivered")
	}
	depth, err := q.Depth(context.Background())
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func drain(q *Queue, limit int) ([]queue.DeadLetter, error) {
	var out []queue.DeadLetter
	err := q.Drain(context.Background(), limit, func(_ context.Context, dead []queue.DeadLetter) error {
		out = dead
		return nil
	})
	return out, err
}

func TestDrainRespectsMax(t *testing.T) {
	t.Parallel()

	q := NewQueue(Config{MaxReceiveCount: 1})
	stop := consume(t, q, func(context.Context, queue.Delivery) error { return errors.New("boom") })
	defer stop()

	for i := range 5 {
		require.NoError(t, q.EnqueueRaw(context.Background(), []byte{byte('a' + i)}))
	}
	require.Eventually(t, func() bool {
		depth, _ := q.Depth(context.Background())
		return depth == 5
	}, time.Second, 5*time.Millisecond)

	first, err := drain(q, 2)
	require.NoError(t, err)
	assert.Len(t, first, 2)
	rest, err := drain(q, 10)
	require.NoError(t, err)
	assert.Len(t, rest, 3)
	none, err := drain(q, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestDrainKeepsEntriesWhenCommitFails(t *testing.T) {
	t.Parallel()

	q := NewQueue(Config{MaxReceiveCount: 1})
	stop := consume(t, q, func(context.Context, queue.Delivery) error { return errors.New("boom") })
	defer stop()

	require.NoError(t, q.Enqueue(context.Background(), job.QueueMessage{JobNumber: "13010-00000001"}))
	require.Eventually(t, func() bool {
		depth, _ := q.Depth(context.Background())
		return depth == 1
	}, time.Second, 5*time.Millisecond)

	trackerDown := errors.New("tracker down")
	err := q.Drain(context.Background(), 10, func(_ context.Context, dead []queue.DeadLetter) error {
		assert.Len(t, dead, 1)
		return trackerDown
	})
	require.ErrorIs(t, err, trackerDown)

	depth, err := q.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, depth)

	dead, err := drain(q, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "13010-00000001", dead[0].JobNumber)
}

func TestDrainSkipsCommitWhenEmpty(t *testing.T) {
	t.Parallel()

	q := NewQueue(Config{})
	err := q.Drain(context.Background(), 10, func(context.Context, []queue.DeadLetter) error {
		t.Fatal("commit called on an empty queue")
		return nil
	})
	require.NoError(t, err)
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	q := NewQueue(Config{Capacity: 1})
	require.NoError(t, q.EnqueueRaw(context.Background(), []byte("primed")))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := q.EnqueueRaw(ctx, []byte("blocked"))
	require.ErrorIs(t, err, context.Canceled)

	require.NoError(t, q.Close())
	require.ErrorIs(t, q.EnqueueRaw(context.Background(), []byte("late")), ErrClosed)
	assert.Equal(t, 1, q.Pending())
}
