package model

import (
	"time"

	"github.com/jimyag/vdisk/internal/vdisk/entity"
)

// Task 任务表
type Task struct {
	ID           string            `gorm:"primaryKey;type:text;column:id" json:"id"`
	Type         entity.TaskType   `gorm:"type:text;not null;index:idx_tasks_runnable,priority:2;column:type" json:"type"`
	Action       string            `gorm:"type:text;not null;column:action" json:"action"`
	State        entity.TaskState  `gorm:"type:text;not null;index:idx_tasks_runnable,priority:1;column:state" json:"state"`
	Objects      map[string]string `gorm:"type:text;serializer:json;column:objects" json:"objects"` // 对象类型 -> ID
	Props        map[string]string `gorm:"type:text;serializer:json;column:props" json:"props"`
	IgnoreErrors bool              `gorm:"type:boolean;default:0;column:ignore_errors" json:"ignoreErrors"`
	Comment      string            `gorm:"type:text;column:comment" json:"comment"`
	Attempts     int               `gorm:"type:integer;not null;default:0;column:attempts" json:"attempts"`
	LastError    string            `gorm:"type:text;column:last_error" json:"lastError"`
	NextRunAt    time.Time         `gorm:"type:datetime;not null;index:idx_tasks_runnable,priority:3;column:next_run_at" json:"nextRunAt"`
	CreatedAt    time.Time         `gorm:"type:datetime;not null;column:created_at" json:"created_at"`
	UpdatedAt    time.Time         `gorm:"type:datetime;not null;column:updated_at" json:"updated_at"`
}

// TableName 指定表名
func (Task) TableName() string {
	return "tasks"
}
