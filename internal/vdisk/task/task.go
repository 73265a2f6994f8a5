// Package task 封装一次任务执行所需的上下文：引用的对象、属性和日志
package task

import (
	"context"
	"fmt"
	"maps"
	"strconv"

	"github.com/jimyag/vdisk/internal/vdisk/entity"
	"github.com/jimyag/vdisk/internal/vdisk/repository"
	"github.com/jimyag/vdisk/internal/vdisk/repository/model"
	"github.com/jimyag/vdisk/pkg/taskerror"
	"github.com/rs/zerolog"
)

// Task 一次任务执行
// 对象每次通过 getter 读取时都从数据库重新加载，保证看到其他任务提交的最新状态
type Task struct {
	m     *model.Task
	store *repository.Store
}

// New 包装已持久化的任务
func New(m *model.Task, store *repository.Store) *Task {
	if m.Objects == nil {
		m.Objects = map[string]string{}
	}
	if m.Props == nil {
		m.Props = map[string]string{}
	}
	return &Task{m: m, store: store}
}

func (t *Task) ID() string            { return t.m.ID }
func (t *Task) Type() entity.TaskType { return t.m.Type }
func (t *Task) Action() string        { return t.m.Action }
func (t *Task) Model() *model.Task    { return t.m }

// IgnoreErrors 调用方是否容忍可恢复错误
func (t *Task) IgnoreErrors() bool {
	return t.m.IgnoreErrors
}

// SetIgnoreErrors 修改容忍标志，需要 Save 持久化
func (t *Task) SetIgnoreErrors(ignore bool) {
	t.m.IgnoreErrors = ignore
}

// Comment 任务备注
func (t *Task) Comment() string {
	return t.m.Comment
}

// SetComment 设置任务备注，需要 Save 持久化
func (t *Task) SetComment(comment string) {
	t.m.Comment = comment
}

// Save 持久化任务
func (t *Task) Save(ctx context.Context) error {
	return t.store.Tasks.Update(ctx, t.m)
}

// WithLogger 在 ctx 的 logger 上附加任务字段
func (t *Task) WithLogger(ctx context.Context) context.Context {
	logger := zerolog.Ctx(ctx).With().
		Str("task_id", t.m.ID).
		Str("task_type", string(t.m.Type)).
		Str("action", t.m.Action).
		Logger()
	return logger.WithContext(ctx)
}

// ObjectID 返回引用的对象 ID，未引用时返回致命错误
func (t *Task) ObjectID(kind string) (string, error) {
	id, ok := t.m.Objects[kind]
	if !ok || id == "" {
		return "", taskerror.WithRaw(taskerror.ErrObjectNotFound, fmt.Errorf("task %s has no %s", t.m.ID, kind))
	}
	return id, nil
}

// HasObject 是否引用了该类型的对象
func (t *Task) HasObject(kind string) bool {
	id, ok := t.m.Objects[kind]
	return ok && id != ""
}

// Storage 读取引用的存储池
func (t *Task) Storage(ctx context.Context) (*model.Storage, error) {
	id, err := t.ObjectID(entity.ObjectStorage)
	if err != nil {
		return nil, err
	}
	storage, err := t.store.Storages.GetByID(ctx, id)
	return storage, lookupError(entity.ObjectStorage, id, err)
}

// Image 读取引用的镜像
func (t *Task) Image(ctx context.Context) (*model.Image, error) {
	id, err := t.ObjectID(entity.ObjectImage)
	if err != nil {
		return nil, err
	}
	image, err := t.store.Images.GetByID(ctx, id)
	return image, lookupError(entity.ObjectImage, id, err)
}

// Node 读取引用的节点
func (t *Task) Node(ctx context.Context) (*model.Node, error) {
	id, err := t.ObjectID(entity.ObjectNode)
	if err != nil {
		return nil, err
	}
	node, err := t.store.Nodes.GetByID(ctx, id)
	return node, lookupError(entity.ObjectNode, id, err)
}

// VM 读取引用的虚拟机
func (t *Task) VM(ctx context.Context) (*model.VM, error) {
	id, err := t.ObjectID(entity.ObjectVM)
	if err != nil {
		return nil, err
	}
	vm, err := t.store.VMs.GetByID(ctx, id)
	return vm, lookupError(entity.ObjectVM, id, err)
}

func lookupError(kind, id string, err error) error {
	if err == nil {
		return nil
	}
	if repository.IsNotFound(err) {
		return taskerror.WithRaw(taskerror.ErrObjectNotFound, fmt.Errorf("%s %s: %w", kind, id, err))
	}
	return fmt.Errorf("load %s %s: %w", kind, id, err)
}

// Prop 返回属性，缺失时返回致命错误
func (t *Task) Prop(name string) (string, error) {
	v, ok := t.m.Props[name]
	if !ok {
		return "", taskerror.WithRaw(taskerror.ErrInvalidProperty, fmt.Errorf("missing property %q", name))
	}
	return v, nil
}

// IntProp 返回整数属性
func (t *Task) IntProp(name string) (int64, error) {
	v, err := t.Prop(name)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, taskerror.WithRaw(taskerror.ErrInvalidProperty, fmt.Errorf("property %q: %w", name, err))
	}
	return n, nil
}

// OptionalIntProp 返回可选整数属性，ok 表示属性存在
func (t *Task) OptionalIntProp(name string) (n int64, ok bool, err error) {
	if _, exists := t.m.Props[name]; !exists {
		return 0, false, nil
	}
	n, err = t.IntProp(name)
	return n, err == nil, err
}

// Props 返回全部属性的副本
func (t *Task) Props() map[string]string {
	return maps.Clone(t.m.Props)
}

// HasProp 属性是否存在
func (t *Task) HasProp(name string) bool {
	_, ok := t.m.Props[name]
	return ok
}

// SetProp 设置属性，需要 Save 持久化
func (t *Task) SetProp(name, value string) {
	t.m.Props[name] = value
}

// DeleteProp 删除属性，需要 Save 持久化
func (t *Task) DeleteProp(name string) {
	delete(t.m.Props, name)
}
