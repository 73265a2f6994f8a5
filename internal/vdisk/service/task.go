package service

import (
	"context"
	"fmt"

	"github.com/jimyag/vdisk/internal/vdisk/entity"
	"github.com/jimyag/vdisk/internal/vdisk/repository"
	"github.com/jimyag/vdisk/internal/vdisk/repository/model"
	"github.com/jimyag/vdisk/pkg/apierror"
	"github.com/jimyag/vdisk/pkg/idgen"
	"github.com/juju/clock"
	"github.com/rs/zerolog"
)

// TaskService 提交和查询任务
type TaskService struct {
	store *repository.Store
	ids   *idgen.Generator
	clock clock.Clock
}

// NewTaskService 创建 TaskService，ids 和 clk 为空时使用默认值
func NewTaskService(store *repository.Store, ids *idgen.Generator, clk clock.Clock) *TaskService {
	if ids == nil {
		ids = idgen.DefaultGenerator()
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return &TaskService{store: store, ids: ids, clock: clk}
}

// Submit 创建 not_active 状态的任务，worker 下一次轮询时领取
func (s *TaskService) Submit(ctx context.Context, req *entity.SubmitTaskRequest) (*entity.Task, error) {
	if err := req.IsValid(); err != nil {
		return nil, apierror.WrapError(apierror.ErrInvalidParameter, err.Error(), err)
	}
	if err := s.checkObjects(ctx, req.Objects); err != nil {
		return nil, err
	}

	id, err := s.ids.GenerateTaskID()
	if err != nil {
		return nil, err
	}
	m := &model.Task{
		ID:           id,
		Type:         req.Type,
		Action:       req.Action,
		State:        entity.TaskStateNotActive,
		Objects:      req.Objects,
		Props:        req.Props,
		IgnoreErrors: req.IgnoreErrors,
		NextRunAt:    s.clock.Now(),
	}
	if err := s.store.Tasks.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	zerolog.Ctx(ctx).Info().
		Str("task_id", m.ID).
		Str("task_type", string(m.Type)).
		Str("action", m.Action).
		Msg("Task submitted")
	return toEntity[entity.Task](m)
}

// checkObjects 引用的对象必须存在
func (s *TaskService) checkObjects(ctx context.Context, objects map[string]string) error {
	for kind, id := range objects {
		var err error
		switch kind {
		case entity.ObjectStorage:
			_, err = s.store.Storages.GetByID(ctx, id)
		case entity.ObjectImage:
			_, err = s.store.Images.GetByID(ctx, id)
		case entity.ObjectNode:
			_, err = s.store.Nodes.GetByID(ctx, id)
		case entity.ObjectVM:
			_, err = s.store.VMs.GetByID(ctx, id)
		}
		if err != nil {
			return lookupError(kind, id, err)
		}
	}
	return nil
}

// Get 查询任务
func (s *TaskService) Get(ctx context.Context, id string) (*entity.Task, error) {
	m, err := s.store.Tasks.GetByID(ctx, id)
	if err != nil {
		return nil, lookupError("task", id, err)
	}
	return toEntity[entity.Task](m)
}

// List 按类型和状态列出任务
func (s *TaskService) List(ctx context.Context, req *entity.ListTasksRequest) ([]entity.Task, error) {
	filters := map[string]interface{}{}
	if req.Type != "" {
		filters["type"] = req.Type
	}
	if req.State != "" {
		filters["state"] = req.State
	}
	tasks, err := s.store.Tasks.List(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return toEntities[entity.Task](tasks)
}
