package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jimyag/vdisk/internal/vdisk/entity"
	"github.com/jimyag/vdisk/internal/vdisk/repository/model"
	"gorm.io/gorm"
)

// TaskRepository 任务仓库接口
type TaskRepository interface {
	Create(ctx context.Context, task *model.Task) error
	GetByID(ctx context.Context, id string) (*model.Task, error)
	List(ctx context.Context, filters map[string]interface{}) ([]*model.Task, error)
	Update(ctx context.Context, task *model.Task) error
	// ListRunnable 列出到期可执行的任务，types 为空时不过滤类型
	ListRunnable(ctx context.Context, now time.Time, types []entity.TaskType, limit int) ([]*model.Task, error)
	// Claim 把任务从 not_active 改为 in_progress 并增加尝试次数，已被其他 worker 领取时返回 ErrStateConflict
	Claim(ctx context.Context, id string) error
	// ResetInProgress 把残留的 in_progress 任务放回队列，用于进程重启
	ResetInProgress(ctx context.Context) (int64, error)
}

type taskRepository struct {
	db *gorm.DB
}

// NewTaskRepository 创建任务仓库
func NewTaskRepository(db *gorm.DB) TaskRepository {
	return &taskRepository{db: db}
}

// Create 创建任务
func (r *taskRepository) Create(ctx context.Context, task *model.Task) error {
	return r.db.WithContext(ctx).Create(task).Error
}

// GetByID 根据 ID 获取任务
func (r *taskRepository) GetByID(ctx context.Context, id string) (*model.Task, error) {
	var task model.Task
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&task).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

// List 列出任务
func (r *taskRepository) List(ctx context.Context, filters map[string]interface{}) ([]*model.Task, error) {
	var tasks []*model.Task
	query := r.db.WithContext(ctx).Model(&model.Task{})

	if state, ok := filters["state"]; ok {
		query = query.Where("state = ?", state)
	}
	if taskType, ok := filters["type"]; ok {
		query = query.Where("type = ?", taskType)
	}

	if err := query.Order("created_at").Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// Update 更新任务
func (r *taskRepository) Update(ctx context.Context, task *model.Task) error {
	return r.db.WithContext(ctx).Save(task).Error
}

// ListRunnable 列出到期可执行的任务
func (r *taskRepository) ListRunnable(ctx context.Context, now time.Time, types []entity.TaskType, limit int) ([]*model.Task, error) {
	var tasks []*model.Task
	query := r.db.WithContext(ctx).
		Where("state = ? AND next_run_at <= ?", entity.TaskStateNotActive, now)
	if len(types) > 0 {
		query = query.Where("type IN ?", types)
	}
	if err := query.Order("next_run_at").Order("created_at").Limit(limit).Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// Claim 领取任务
func (r *taskRepository) Claim(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("id = ? AND state = ?", id, entity.TaskStateNotActive).
		Updates(map[string]interface{}{
			"state":    entity.TaskStateInProgress,
			"attempts": gorm.Expr("attempts + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: task %s already claimed", ErrStateConflict, id)
	}
	return nil
}

// ResetInProgress 把 in_progress 任务放回队列
func (r *taskRepository) ResetInProgress(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("state = ?", entity.TaskStateInProgress).
		Update("state", entity.TaskStateNotActive)
	return result.RowsAffected, result.Error
}
