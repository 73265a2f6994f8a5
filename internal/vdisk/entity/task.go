package entity

import (
	"fmt"
	"slices"
	"time"
)

// TaskType 任务类型，决定由哪个 agent 执行
type TaskType string

const (
	TaskTypeStorage TaskType = "storage"
	TaskTypeImage   TaskType = "image"
	TaskTypeNode    TaskType = "node"
)

// TaskActions 每类任务支持的 action
var TaskActions = map[TaskType][]string{
	TaskTypeStorage: {"mount", "umount"},
	TaskTypeImage:   {"create", "upload_url", "upload_data", "delete", "attach", "detach"},
	TaskTypeNode: {
		"load_image", "delete", "save_image", "resize_image", "mount", "umount",
		"create_images_pool", "check", "suspend", "wake_up",
	},
}

// TaskState 任务状态
type TaskState string

const (
	TaskStateNotActive  TaskState = "not_active"
	TaskStateInProgress TaskState = "in_progress"
	TaskStateOK         TaskState = "ok"
	TaskStateFailed     TaskState = "failed"
)

// In 判断状态是否属于 states 之一
func (s TaskState) In(states ...TaskState) bool {
	return in(s, states)
}

// 任务引用的对象类型
const (
	ObjectStorage = "Storage"
	ObjectImage   = "Image"
	ObjectNode    = "Node"
	ObjectVM      = "VM"
)

// Task 任务信息
type Task struct {
	ID           string            `json:"id"`
	Type         TaskType          `json:"type"`
	Action       string            `json:"action"`
	State        TaskState         `json:"state"`
	Objects      map[string]string `json:"objects"`
	Props        map[string]string `json:"props,omitempty"`
	IgnoreErrors bool              `json:"ignore_errors"`
	Comment      string            `json:"comment,omitempty"`
	Attempts     int               `json:"attempts"`
	LastError    string            `json:"last_error,omitempty"`
	NextRunAt    time.Time         `json:"next_run_at"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// SubmitTaskRequest 提交任务
type SubmitTaskRequest struct {
	Type         TaskType          `json:"type" binding:"required,oneof=storage image node"`
	Action       string            `json:"action" binding:"required"`
	Objects      map[string]string `json:"objects" binding:"required"`
	Props        map[string]string `json:"props"`
	IgnoreErrors bool              `json:"ignore_errors"`
}

// IsValid 检查 action 和引用的对象类型
func (r *SubmitTaskRequest) IsValid() error {
	if !slices.Contains(TaskActions[r.Type], r.Action) {
		return fmt.Errorf("%s task has no action %q", r.Type, r.Action)
	}
	for kind, id := range r.Objects {
		switch kind {
		case ObjectStorage, ObjectImage, ObjectNode, ObjectVM:
		default:
			return fmt.Errorf("unknown object kind %q", kind)
		}
		if id == "" {
			return fmt.Errorf("object %s has empty id", kind)
		}
	}
	return nil
}

// GetTaskRequest 查询任务
type GetTaskRequest struct {
	ID string `uri:"id" binding:"required"`
}

// ListTasksRequest 按类型和状态过滤任务
type ListTasksRequest struct {
	Type  TaskType  `form:"type"`
	State TaskState `form:"state"`
}

// ListResponse 列表响应
type ListResponse[T any] struct {
	Items []T `json:"items"`
}
