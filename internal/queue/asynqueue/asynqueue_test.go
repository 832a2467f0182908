package asynqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/hellowork-crawler/internal/job"
	"github.com/JakeFAU/hellowork-crawler/internal/queue"
)

type fakeClient struct {
	tasks  []*asynq.Task
	opts   [][]asynq.Option
	err    error
	closed bool
}

func (f *fakeClient) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	f.opts = append(f.opts, opts)
	return &asynq.TaskInfo{ID: "t-1"}, nil
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func optionValues(opts []asynq.Option) map[asynq.OptionType]any {
	out := make(map[asynq.OptionType]any, len(opts))
	for _, o := range opts {
		out[o.Type()] = o.Value()
	}
	return out
}

func TestProducerEnqueue(t *testing.T) {
	t.Parallel()

	client := &fakeClient{}
	p := &Producer{client: client, cfg: Config{Queue: "etl", MaxReceiveCount: 3, Timeout: time.Minute}}

	require.NoError(t, p.Enqueue(context.Background(), job.QueueMessage{JobNumber: "13010-00000001"}))
	require.Len(t, client.tasks, 1)
	assert.Equal(t, TaskType, client.tasks[0].Type())
	assert.JSONEq(t, `{"jobNumber":"13010-00000001"}`, string(client.tasks[0].Payload()))

	values := optionValues(client.opts[0])
	assert.Equal(t, "etl", values[asynq.QueueOpt])
	assert.Equal(t, 2, values[asynq.MaxRetryOpt])
	assert.Equal(t, time.Minute, values[asynq.TimeoutOpt])

	require.NoError(t, p.Close())
	assert.True(t, client.closed)
}

func TestProducerDefaultsAndErrors(t *testing.T) {
	t.Parallel()

	client := &fakeClient{}
	p := &Producer{client: client}
	require.NoError(t, p.Enqueue(context.Background(), job.QueueMessage{JobNumber: "13010-1"}))
	values := optionValues(client.opts[0])
	assert.Equal(t, "default", values[asynq.QueueOpt])
	assert.Equal(t, 0, values[asynq.MaxRetryOpt])
	assert.NotContains(t, values, asynq.TimeoutOpt)

	client.err = errors.New("redis down")
	err := p.Enqueue(context.Background(), job.QueueMessage{JobNumber: "13010-2"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "13010-2")
	assert.ErrorContains(t, err, "redis down")
}

type fakeServer struct {
	handler  chan asynq.Handler
	startErr error
	shutdown chan struct{}
}

func newFakeServer() *fakeServer {
	return &fakeServer{handler: make(chan asynq.Handler, 1), shutdown: make(chan struct{})}
}

func (f *fakeServer) Start(h asynq.Handler) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.handler <- h
	return nil
}

func (f *fakeServer) Shutdown() { close(f.shutdown) }

func TestConsumerRoutesTasksAndShutsDown(t *testing.T) {
	t.Parallel()

	srv := newFakeServer()
	c := &Consumer{srv: srv}
	got := make(chan queue.Delivery, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.Consume(ctx, func(_ context.Context, d queue.Delivery) error {
			got <- d
			return errors.New("stage=loading kind=load_store")
		})
	}()

	var h asynq.Handler
	select {
	case h = <-srv.handler:
	case <-time.After(time.Second):
		t.Fatal("server was not started")
	}

	err := h.ProcessTask(context.Background(), asynq.NewTask(TaskType, []byte(`{"jobNumber":"13010-1"}`)))
	require.ErrorContains(t, err, "load_store")
	d := <-got
	assert.Equal(t, 1, d.Attempt)
	assert.JSONEq(t, `{"jobNumber":"13010-1"}`, string(d.Body))

	require.Error(t, h.ProcessTask(context.Background(), asynq.NewTask("other", nil)), "unknown task types are rejected")

	cancel()
	require.NoError(t, <-done)
	select {
	case <-srv.shutdown:
	default:
		t.Fatal("server was not shut down")
	}
}

func TestConsumerStartError(t *testing.T) {
	t.Parallel()

	srv := newFakeServer()
	srv.startErr = errors.New("no redis")
	c := &Consumer{srv: srv}
	err := c.Consume(context.Background(), func(context.Context, queue.Delivery) error { return nil })
	require.ErrorContains(t, err, "no redis")
}

type fakeInspector struct {
	info     *asynq.QueueInfo
	infoErr  error
	archived []*asynq.TaskInfo
	pageSize int
	deleted  []string
	delErr   error
	closed   bool
}

func (f *fakeInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return f.info, f.infoErr
}

func (f *fakeInspector) ListArchivedTasks(_ string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	f.pageSize = len(opts)
	return f.archived, nil
}

func (f *fakeInspector) DeleteTask(_ string, id string) error {
	if f.delErr != nil {
		return f.delErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeInspector) Close() error {
	f.closed = true
	return nil
}

func TestDeadLettersDepth(t *testing.T) {
	t.Parallel()

	insp := &fakeInspector{info: &asynq.QueueInfo{Archived: 4}}
	d := &DeadLetters{insp: insp, queue: "etl"}
	depth, err := d.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, depth)

	insp.infoErr = asynq.ErrQueueNotFound
	depth, err = d.Depth(context.Background())
	require.NoError(t, err)
	assert.Zero(t, depth)

	insp.infoErr = errors.New("redis down")
	_, err = d.Depth(context.Background())
	require.ErrorContains(t, err, "redis down")
}

func TestDeadLettersDrain(t *testing.T) {
	t.Parallel()

	failed := time.Date(2024, time.May, 1, 9, 0, 0, 0, time.UTC)
	insp := &fakeInspector{archived: []*asynq.TaskInfo{{
		ID:           "t-1",
		Payload:      []byte(`{"jobNumber":"13010-00000001"}`),
		Retried:      2,
		LastErr:      "stage=loading kind=load_store",
		LastFailedAt: failed,
	}}}
	d := &DeadLetters{insp: insp, queue: "etl"}

	var dead []queue.DeadLetter
	err := d.Drain(context.Background(), 10, func(_ context.Context, held []queue.DeadLetter) error {
		assert.Empty(t, insp.deleted, "tasks stay archived until the commit succeeds")
		dead = held
		return nil
	})
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "t-1", dead[0].ID)
	assert.Equal(t, "13010-00000001", dead[0].JobNumber)
	assert.Equal(t, 3, dead[0].RetryCount)
	assert.Equal(t, failed, dead[0].FailedAt)
	assert.True(t, dead[0].EnqueuedAt.IsZero())
	assert.Equal(t, []string{"t-1"}, insp.deleted)
	assert.Equal(t, 1, insp.pageSize)

	err = d.Drain(context.Background(), 0, func(context.Context, []queue.DeadLetter) error {
		t.Fatal("commit called with a zero limit")
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, d.Close())
	assert.True(t, insp.closed)
}

func TestDeadLettersDrainKeepsTasksWhenCommitFails(t *testing.T) {
	t.Parallel()

	insp := &fakeInspector{archived: []*asynq.TaskInfo{{ID: "t-1", Payload: []byte(`{"jobNumber":"13010-00000001"}`)}}}
	d := &DeadLetters{insp: insp, queue: "etl"}

	trackerDown := errors.New("tracker down")
	err := d.Drain(context.Background(), 10, func(context.Context, []queue.DeadLetter) error { return trackerDown })
	require.ErrorIs(t, err, trackerDown)
	assert.Empty(t, insp.deleted)

	insp.delErr = errors.New("redis down")
	err = d.Drain(context.Background(), 10, func(context.Context, []queue.DeadLetter) error { return nil })
	require.ErrorContains(t, err, "delete archived task t-1")
}
