package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/jimyag/vdisk/internal/vdisk/entity"
	"github.com/jimyag/vdisk/internal/vdisk/service"
	"github.com/jimyag/vdisk/pkg/ginx"
	"github.com/rs/zerolog"
)

// TaskServiceInterface 定义任务服务的接口
type TaskServiceInterface interface {
	Submit(ctx context.Context, req *entity.SubmitTaskRequest) (*entity.Task, error)
	Get(ctx context.Context, id string) (*entity.Task, error)
	List(ctx context.Context, req *entity.ListTasksRequest) ([]entity.Task, error)
}

type Task struct {
	taskService TaskServiceInterface
}

func NewTask(taskService *service.TaskService) *Task {
	return &Task{
		taskService: taskService,
	}
}

func (t *Task) RegisterRoutes(router *gin.RouterGroup) {
	taskRouter := router.Group("/tasks")
	taskRouter.POST("", ginx.AdaptCreated(t.SubmitTask))
	taskRouter.GET("", ginx.Adapt5(t.ListTasks))
	taskRouter.GET("/:id", ginx.Adapt5(t.GetTask))
}

func (t *Task) SubmitTask(ctx *gin.Context, req *entity.SubmitTaskRequest) (*entity.Task, error) {
	logger := zerolog.Ctx(ctx)
	logger.Info().
		Str("type", string(req.Type)).
		Str("action", req.Action).
		Interface("objects", req.Objects).
		Msg("SubmitTask called")

	task, err := t.taskService.Submit(ctx, req)
	if err != nil {
		logger.Error().
			Err(err).
			Msg("Failed to submit task")
		return nil, err
	}
	return task, nil
}

func (t *Task) GetTask(ctx *gin.Context, req *entity.GetTaskRequest) (*entity.Task, error) {
	return t.taskService.Get(ctx, req.ID)
}

func (t *Task) ListTasks(ctx *gin.Context, req *entity.ListTasksRequest) (*entity.ListResponse[entity.Task], error) {
	tasks, err := t.taskService.List(ctx, req)
	if err != nil {
		zerolog.Ctx(ctx).Error().
			Err(err).
			Msg("Failed to list tasks")
		return nil, err
	}
	return &entity.ListResponse[entity.Task]{Items: tasks}, nil
}
