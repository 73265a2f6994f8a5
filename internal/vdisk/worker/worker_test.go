package worker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jimyag/vdisk/internal/vdisk/agent"
	"github.com/jimyag/vdisk/internal/vdisk/config"
	"github.com/jimyag/vdisk/internal/vdisk/entity"
	"github.com/jimyag/vdisk/internal/vdisk/repository"
	"github.com/jimyag/vdisk/internal/vdisk/repository/model"
	"github.com/jimyag/vdisk/internal/vdisk/task"
	"github.com/jimyag/vdisk/pkg/taskerror"
	"github.com/juju/clock/testclock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// mockAgent 是 agent.Agent 的 mock 实现
type mockAgent struct {
	mock.Mock
	typ entity.TaskType
}

var _ agent.Agent = (*mockAgent)(nil)

func newMockAgent(typ entity.TaskType) *mockAgent {
	m := &mockAgent{typ: typ}
	m.On("TaskError", mock.Anything, mock.Anything).Return()
	m.On("TaskFailed", mock.Anything, mock.Anything).Return()
	m.On("TaskFinished", mock.Anything).Return()
	return m
}

func (m *mockAgent) Type() entity.TaskType { return m.typ }

func (m *mockAgent) Execute(ctx context.Context, t *task.Task) error {
	args := m.Called(t.ID())
	return args.Error(0)
}

func (m *mockAgent) TaskError(ctx context.Context, t *task.Task, err error) {
	m.Called(t.ID(), err)
}

func (m *mockAgent) TaskFailed(ctx context.Context, t *task.Task, err error) {
	m.Called(t.ID(), err)
}

func (m *mockAgent) TaskFinished(ctx context.Context, t *task.Task) {
	m.Called(t.ID())
}

type testEnv struct {
	store *repository.Store
	clock *testclock.Clock
	cfg   config.Worker
	seq   atomic.Int64
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repo, err := repository.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	return &testEnv{
		store: repository.NewStore(repo),
		// 时钟比任务创建时间晚，新任务都已到期
		clock: testclock.NewClock(time.Now().Add(time.Minute)),
		cfg: config.Worker{
			Concurrency:  2,
			PollInterval: time.Second,
			MaxAttempts:  3,
			RetryDelay:   30 * time.Second,
		},
	}
}

func (e *testEnv) seedTask(t *testing.T, typ entity.TaskType, state entity.TaskState, attempts int) *model.Task {
	t.Helper()
	m := &model.Task{
		ID:        fmt.Sprintf("task-%d", e.seq.Add(1)),
		Type:      typ,
		Action:    "mount",
		State:     state,
		Objects:   map[string]string{entity.ObjectStorage: "storage-1"},
		Attempts:  attempts,
		NextRunAt: time.Now(),
	}
	require.NoError(t, e.store.Tasks.Create(context.Background(), m))
	return m
}

func (e *testEnv) taskModel(t *testing.T, id string) *model.Task {
	t.Helper()
	m, err := e.store.Tasks.GetByID(context.Background(), id)
	require.NoError(t, err)
	return m
}

func (e *testEnv) worker(collector *Collector, agents ...agent.Agent) *Worker {
	return New(e.store, agents, e.cfg, WithClock(e.clock), WithCollector(collector))
}

func TestRunOnceSuccess(t *testing.T) {
	t.Parallel()
	env := setupTestEnv(t)
	ctx := context.Background()

	m := env.seedTask(t, entity.TaskTypeStorage, entity.TaskStateNotActive, 0)
	a := newMockAgent(entity.TaskTypeStorage)
	a.On("Execute", m.ID).Return(nil)

	collector := NewCollector()
	require.NoError(t, env.worker(collector, a).RunOnce(ctx, m.ID))

	got := env.taskModel(t, m.ID)
	assert.Equal(t, entity.TaskStateOK, got.State)
	assert.Equal(t, 1, got.Attempts)
	a.AssertCalled(t, "TaskFinished", m.ID)
	a.AssertNotCalled(t, "TaskError", mock.Anything, mock.Anything)
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.tasksTotal.WithLabelValues("storage", "mount", resultOK)))
}

func TestRunOnceRejectsClaimedTask(t *testing.T) {
	t.Parallel()
	env := setupTestEnv(t)

	m := env.seedTask(t, entity.TaskTypeStorage, entity.TaskStateInProgress, 1)
	a := newMockAgent(entity.TaskTypeStorage)

	err := env.worker(NewCollector(), a).RunOnce(context.Background(), m.ID)
	assert.Error(t, err)
	a.AssertNotCalled(t, "Execute", mock.Anything)
}

func TestRetryPolicy(t *testing.T) {
	t.Parallel()

	recoverable := taskerror.WithRaw(taskerror.ErrStorageRefresh, errors.New("rpc timeout"))

	testcases := []struct {
		name       string
		err        error
		ignore     bool
		attempts   int
		wantState  entity.TaskState
		wantFailed bool
		wantResult string
	}{
		{
			name:       "recoverable is retried",
			err:        recoverable,
			wantState:  entity.TaskStateNotActive,
			wantResult: resultRetry,
		},
		{
			name:       "unclassified is retried",
			err:        errors.New("database is locked"),
			wantState:  entity.TaskStateNotActive,
			wantResult: resultRetry,
		},
		{
			name:       "fatal is abandoned",
			err:        taskerror.WithRaw(taskerror.ErrStorageCreateFailed, errors.New("access denied")),
			wantState:  entity.TaskStateFailed,
			wantFailed: true,
			wantResult: resultFailed,
		},
		{
			name:       "unmet precondition is abandoned",
			err:        taskerror.ErrStorageDisabled,
			wantState:  entity.TaskStateFailed,
			wantFailed: true,
			wantResult: resultFailed,
		},
		{
			name:       "ignore_errors is not retried",
			err:        recoverable,
			ignore:     true,
			wantState:  entity.TaskStateFailed,
			wantFailed: true,
			wantResult: resultFailed,
		},
		{
			name:       "last attempt is abandoned",
			err:        recoverable,
			attempts:   2,
			wantState:  entity.TaskStateFailed,
			wantFailed: true,
			wantResult: resultFailed,
		},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			env := setupTestEnv(t)
			ctx := context.Background()

			m := env.seedTask(t, entity.TaskTypeImage, entity.TaskStateNotActive, tc.attempts)
			if tc.ignore {
				m.IgnoreErrors = true
				require.NoError(t, env.store.Tasks.Update(ctx, m))
			}
			a := newMockAgent(entity.TaskTypeImage)
			a.On("Execute", m.ID).Return(tc.err)

			collector := NewCollector()
			err := env.worker(collector, a).RunOnce(ctx, m.ID)
			assert.ErrorIs(t, err, tc.err)

			got := env.taskModel(t, m.ID)
			assert.Equal(t, tc.wantState, got.State)
			assert.Equal(t, tc.attempts+1, got.Attempts)
			assert.Equal(t, tc.err.Error(), got.LastError)
			a.AssertCalled(t, "TaskError", m.ID, tc.err)
			if tc.wantFailed {
				a.AssertCalled(t, "TaskFailed", m.ID, tc.err)
			} else {
				a.AssertNotCalled(t, "TaskFailed", mock.Anything, mock.Anything)
				assert.WithinDuration(t, env.clock.Now().Add(env.cfg.RetryDelay), got.NextRunAt, time.Second)
			}
			assert.Equal(t, 1.0, testutil.ToFloat64(collector.tasksTotal.WithLabelValues("image", "mount", tc.wantResult)))
		})
	}
}

func TestRetryDelay(t *testing.T) {
	t.Parallel()
	env := setupTestEnv(t)
	w := env.worker(NewCollector())

	testcases := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 1, want: 30 * time.Second},
		{attempt: 2, want: time.Minute},
		{attempt: 3, want: 2 * time.Minute},
		{attempt: 20, want: maxRetryDelay},
	}
	for _, tc := range testcases {
		assert.Equal(t, tc.want, w.retryDelay(tc.attempt), "attempt %d", tc.attempt)
	}
}

func TestPollRespectsConcurrencyAndSchedule(t *testing.T) {
	t.Parallel()
	env := setupTestEnv(t)
	ctx := context.Background()

	due := []*model.Task{
		env.seedTask(t, entity.TaskTypeNode, entity.TaskStateNotActive, 0),
		env.seedTask(t, entity.TaskTypeNode, entity.TaskStateNotActive, 0),
		env.seedTask(t, entity.TaskTypeNode, entity.TaskStateNotActive, 0),
	}
	future := env.seedTask(t, entity.TaskTypeNode, entity.TaskStateNotActive, 0)
	future.NextRunAt = env.clock.Now().Add(time.Hour)
	require.NoError(t, env.store.Tasks.Update(ctx, future))
	// 没有对应 agent 的任务类型不会被领取
	other := env.seedTask(t, entity.TaskTypeStorage, entity.TaskStateNotActive, 0)

	var executed atomic.Int64
	a := newMockAgent(entity.TaskTypeNode)
	a.On("Execute", mock.Anything).Run(func(mock.Arguments) { executed.Add(1) }).Return(nil)

	w := env.worker(NewCollector(), a)
	started, err := w.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, started)
	w.Wait()

	started, err = w.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, started)
	w.Wait()

	started, err = w.Poll(ctx)
	require.NoError(t, err)
	assert.Zero(t, started)

	assert.Equal(t, int64(3), executed.Load())
	for _, m := range due {
		assert.Equal(t, entity.TaskStateOK, env.taskModel(t, m.ID).State)
	}
	assert.Equal(t, entity.TaskStateNotActive, env.taskModel(t, future.ID).State)
	assert.Equal(t, entity.TaskStateNotActive, env.taskModel(t, other.ID).State)
}

func TestRunRequeuesAndShutdown(t *testing.T) {
	t.Parallel()
	env := setupTestEnv(t)

	// 上次进程中断时留下的任务
	m := env.seedTask(t, entity.TaskTypeStorage, entity.TaskStateInProgress, 1)

	executed := make(chan struct{})
	a := newMockAgent(entity.TaskTypeStorage)
	a.On("Execute", m.ID).Run(func(mock.Arguments) { close(executed) }).Return(nil)

	w := env.worker(NewCollector(), a)
	runErr := make(chan error, 1)
	go func() { runErr <- w.Run(context.Background()) }()

	select {
	case <-executed:
	case <-time.After(5 * time.Second):
		t.Fatal("interrupted task was not executed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, w.Shutdown(ctx))

	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}

	got := env.taskModel(t, m.ID)
	assert.Equal(t, entity.TaskStateOK, got.State)
	assert.Equal(t, 2, got.Attempts)
}
