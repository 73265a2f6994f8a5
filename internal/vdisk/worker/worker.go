// Package worker 从任务表领取任务并交给对应的 agent 执行
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jimyag/vdisk/internal/vdisk/agent"
	"github.com/jimyag/vdisk/internal/vdisk/config"
	"github.com/jimyag/vdisk/internal/vdisk/entity"
	"github.com/jimyag/vdisk/internal/vdisk/repository"
	"github.com/jimyag/vdisk/internal/vdisk/repository/model"
	"github.com/jimyag/vdisk/internal/vdisk/task"
	"github.com/jimyag/vdisk/pkg/taskerror"
	"github.com/juju/clock"
	"github.com/rs/zerolog"
)

// maxRetryDelay 重试间隔上限
const maxRetryDelay = 30 * time.Minute

// Worker 轮询到期任务，领取后并发执行
// 同一任务通过 Claim 的条件更新保证只被一个 goroutine 执行
type Worker struct {
	store   *repository.Store
	agents  map[entity.TaskType]agent.Agent
	types   []entity.TaskType
	cfg     config.Worker
	clock   clock.Clock
	metrics *Collector

	slots    chan struct{}
	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

// Option 配置 Worker
type Option func(*Worker)

// WithClock 替换时钟，测试中使用 testclock
func WithClock(c clock.Clock) Option {
	return func(w *Worker) {
		w.clock = c
	}
}

// WithCollector 使用外部注册的 Collector
func WithCollector(c *Collector) Option {
	return func(w *Worker) {
		w.metrics = c
	}
}

// New 创建 Worker，只领取 agents 能处理的任务类型
func New(store *repository.Store, agents []agent.Agent, cfg config.Worker, opts ...Option) *Worker {
	w := &Worker{
		store:  store,
		agents: make(map[entity.TaskType]agent.Agent, len(agents)),
		cfg:    cfg,
		clock:  clock.WallClock,
		stop:   make(chan struct{}),
	}
	for _, a := range agents {
		w.agents[a.Type()] = a
		w.types = append(w.types, a.Type())
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.metrics == nil {
		w.metrics = NewCollector()
	}
	if w.cfg.Concurrency <= 0 {
		w.cfg.Concurrency = 1
	}
	if w.cfg.MaxAttempts <= 0 {
		w.cfg.MaxAttempts = 1
	}
	w.slots = make(chan struct{}, w.cfg.Concurrency)
	return w
}

// Name 实现 grace.Grace 接口
func (w *Worker) Name() string {
	return "Task Worker"
}

// Run 把上次进程残留的 in_progress 任务放回队列，然后按 PollInterval 轮询
func (w *Worker) Run(ctx context.Context) error {
	logger := zerolog.Ctx(ctx)

	n, err := w.store.Tasks.ResetInProgress(ctx)
	if err != nil {
		return fmt.Errorf("reset in progress tasks: %w", err)
	}
	if n > 0 {
		logger.Warn().Int64("count", n).Msg("Requeued interrupted tasks")
	}

	logger.Info().
		Int("concurrency", w.cfg.Concurrency).
		Dur("poll_interval", w.cfg.PollInterval).
		Msg("Task worker started")

	for {
		if _, err := w.Poll(ctx); err != nil {
			logger.Error().Err(err).Msg("Failed to poll tasks")
		}

		select {
		case <-ctx.Done():
			w.wg.Wait()
			return nil
		case <-w.stop:
			w.wg.Wait()
			return nil
		case <-w.clock.After(w.cfg.PollInterval):
		}
	}
}

// Shutdown 停止轮询并等待执行中的任务结束
// 执行中的任务不会被取消，超时后返回 ctx 的错误，任务在下次启动时重新排队
func (w *Worker) Shutdown(ctx context.Context) error {
	w.stopOnce.Do(func() { close(w.stop) })

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait 等待 Poll 启动的任务全部结束
func (w *Worker) Wait() {
	w.wg.Wait()
}

// Poll 领取到期任务并在后台执行，返回本次启动的任务数
func (w *Worker) Poll(ctx context.Context) (int, error) {
	free := cap(w.slots) - len(w.slots)
	if free <= 0 {
		return 0, nil
	}

	tasks, err := w.store.Tasks.ListRunnable(ctx, w.clock.Now(), w.types, free)
	if err != nil {
		return 0, fmt.Errorf("list runnable tasks: %w", err)
	}

	started := 0
	for _, m := range tasks {
		if err := w.claim(ctx, m); err != nil {
			if errors.Is(err, repository.ErrStateConflict) {
				continue
			}
			return started, err
		}

		w.slots <- struct{}{}
		w.wg.Add(1)
		go func(m *model.Task) {
			defer w.wg.Done()
			defer func() { <-w.slots }()
			// 执行中的任务不随轮询的 ctx 取消
			_ = w.process(context.WithoutCancel(ctx), m)
		}(m)
		started++
	}
	return started, nil
}

// RunOnce 同步执行一个任务，返回 agent 的错误
func (w *Worker) RunOnce(ctx context.Context, id string) error {
	m, err := w.store.Tasks.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load task %s: %w", id, err)
	}
	if m.State != entity.TaskStateNotActive {
		return fmt.Errorf("task %s is %s", id, m.State)
	}
	if err := w.claim(ctx, m); err != nil {
		return err
	}
	return w.process(ctx, m)
}

func (w *Worker) claim(ctx context.Context, m *model.Task) error {
	if err := w.store.Tasks.Claim(ctx, m.ID); err != nil {
		return fmt.Errorf("claim task %s: %w", m.ID, err)
	}
	m.State = entity.TaskStateInProgress
	m.Attempts++
	return nil
}

// process 执行已领取的任务并按错误类别决定结束或重试
func (w *Worker) process(ctx context.Context, m *model.Task) error {
	t := task.New(m, w.store)
	ctx = t.WithLogger(ctx)
	logger := zerolog.Ctx(ctx)

	a, ok := w.agents[m.Type]
	if !ok {
		err := taskerror.WithRaw(taskerror.ErrUnsupportedAction, fmt.Errorf("no agent for task type %s", m.Type))
		w.finish(ctx, t, entity.TaskStateFailed, err)
		return err
	}

	logger.Info().Int("attempt", m.Attempts).Msg("Task started")
	start := w.clock.Now()
	err := a.Execute(ctx, t)
	elapsed := w.clock.Now().Sub(start)

	if err == nil {
		a.TaskFinished(ctx, t)
		w.finish(ctx, t, entity.TaskStateOK, nil)
		w.metrics.observe(m.Type, m.Action, resultOK, elapsed)
		logger.Info().Dur("elapsed", elapsed).Msg("Task finished")
		return nil
	}

	a.TaskError(ctx, t, err)

	if w.shouldRetry(t, err) {
		delay := w.retryDelay(m.Attempts)
		m.State = entity.TaskStateNotActive
		m.LastError = err.Error()
		m.NextRunAt = w.clock.Now().Add(delay)
		if serr := t.Save(ctx); serr != nil {
			logger.Error().Err(serr).Msg("Failed to reschedule task")
		}
		w.metrics.observe(m.Type, m.Action, resultRetry, elapsed)
		logger.Warn().
			Err(err).
			Str("code", taskerror.CodeOf(err)).
			Dur("retry_in", delay).
			Msg("Task failed. Will retry")
		return err
	}

	a.TaskFailed(ctx, t, err)
	w.finish(ctx, t, entity.TaskStateFailed, err)
	w.metrics.observe(m.Type, m.Action, resultFailed, elapsed)
	logger.Error().
		Err(err).
		Str("code", taskerror.CodeOf(err)).
		Str("class", taskerror.ClassOf(err).String()).
		Msg("Task abandoned")
	return err
}

// shouldRetry 只有可恢复错误会重试
// ignore_errors 的任务不重试，调用方自行处理失败
func (w *Worker) shouldRetry(t *task.Task, err error) bool {
	if taskerror.ClassOf(err) != taskerror.ClassRecoverable {
		return false
	}
	if t.IgnoreErrors() {
		return false
	}
	return t.Model().Attempts < w.cfg.MaxAttempts
}

// retryDelay 指数退避，attempt 从 1 开始
func (w *Worker) retryDelay(attempt int) time.Duration {
	delay := w.cfg.RetryDelay
	for i := 1; i < attempt && delay < maxRetryDelay; i++ {
		delay *= 2
	}
	return min(delay, maxRetryDelay)
}

func (w *Worker) finish(ctx context.Context, t *task.Task, state entity.TaskState, err error) {
	m := t.Model()
	m.State = state
	if err != nil {
		m.LastError = err.Error()
	}
	if serr := t.Save(ctx); serr != nil {
		zerolog.Ctx(ctx).Error().Err(serr).Str("state", string(state)).Msg("Failed to save task")
	}
}
