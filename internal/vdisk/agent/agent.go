// Package agent 实现存储池、镜像和节点三类任务的执行逻辑
//
// 每个 agent 按任务的 action 分派到具体操作。操作通过 libvirt.Dialer 打开一次连接，
// 结束时无论成功与否都会关闭。失败以 taskerror.Error 返回，由 worker 决定重试还是放弃。
package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jimyag/vdisk/internal/vdisk/config"
	"github.com/jimyag/vdisk/internal/vdisk/entity"
	"github.com/jimyag/vdisk/internal/vdisk/repository"
	"github.com/jimyag/vdisk/internal/vdisk/repository/model"
	"github.com/jimyag/vdisk/internal/vdisk/task"
	"github.com/jimyag/vdisk/pkg/idgen"
	"github.com/jimyag/vdisk/pkg/libvirt"
	"github.com/jimyag/vdisk/pkg/neighbor"
	"github.com/jimyag/vdisk/pkg/power"
	"github.com/jimyag/vdisk/pkg/qemuimg"
	"github.com/jimyag/vdisk/pkg/taskerror"
	"github.com/juju/clock"
	"github.com/rs/zerolog"
)

// Agent 执行某一类任务
type Agent interface {
	Type() entity.TaskType
	Execute(ctx context.Context, t *task.Task) error

	// TaskError 每次 Execute 返回错误后调用
	TaskError(ctx context.Context, t *task.Task, err error)
	// TaskFailed 任务被放弃时调用
	TaskFailed(ctx context.Context, t *task.Task, err error)
	// TaskFinished 任务成功后调用
	TaskFinished(ctx context.Context, t *task.Task)
}

// Deps agent 的外部依赖
type Deps struct {
	Store    *repository.Store
	Dialer   libvirt.Dialer
	Config   *config.Config
	QemuImg  qemuimg.QemuImgClient
	HTTP     *http.Client
	IDGen    *idgen.Generator
	Neighbor neighbor.Lookup
	Prober   power.Prober
	Waker    power.Waker
	Clock    clock.Clock
}

// New 创建全部 agent
func New(deps Deps) []Agent {
	return []Agent{
		NewStorageAgent(deps),
		NewImageAgent(deps),
		NewNodeAgent(deps),
	}
}

type action func(ctx context.Context, t *task.Task) error

// base 各 agent 共用的连接和钩子
type base struct {
	store  *repository.Store
	dialer libvirt.Dialer
	cfg    *config.Config
}

func newBase(deps Deps) base {
	cfg := deps.Config
	if cfg == nil {
		cfg = config.Default()
	}
	return base{store: deps.Store, dialer: deps.Dialer, cfg: cfg}
}

func (b *base) TaskError(context.Context, *task.Task, error)  {}
func (b *base) TaskFailed(context.Context, *task.Task, error) {}
func (b *base) TaskFinished(context.Context, *task.Task)      {}

func dispatch(ctx context.Context, t *task.Task, actions map[string]action) error {
	fn, ok := actions[t.Action()]
	if !ok {
		return taskerror.WithRaw(taskerror.ErrUnsupportedAction, fmt.Errorf("%s task has no action %q", t.Type(), t.Action()))
	}
	return fn(ctx, t)
}

// connect 打开 libvirt 连接，调用方负责 disconnect
func (b *base) connect(ctx context.Context, uri string) (libvirt.LibvirtClient, error) {
	conn, err := b.dialer.Dial(ctx, uri)
	if err != nil {
		return nil, taskerror.WithRaw(taskerror.ErrConnectFailed, fmt.Errorf("connect %s: %w", uri, err))
	}
	return conn, nil
}

func disconnect(ctx context.Context, conn libvirt.LibvirtClient) {
	if err := conn.Close(); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("Failed to close libvirt connection")
	}
}

// nodeURI 节点的 libvirt URI，没有单独配置时由地址生成
func (b *base) nodeURI(node *model.Node) string {
	if node.LibvirtURI != "" {
		return node.LibvirtURI
	}
	return b.cfg.Node.URI(node.Address)
}

// checkOnline 离线节点上不能执行需要连通的操作，除非任务容忍错误
func checkOnline(node *model.Node, t *task.Task) error {
	if node.State == entity.NodeStateOffline && !t.IgnoreErrors() {
		return taskerror.WithRaw(taskerror.ErrNodeOffline, fmt.Errorf("node %s (%s) is offline", node.ID, node.Address))
	}
	return nil
}

// stateError 把仓库的状态冲突转换为可重试错误
func stateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrStateConflict) {
		return taskerror.WithRaw(taskerror.ErrStateConflict, err)
	}
	if repository.IsNotFound(err) {
		return taskerror.WithRaw(taskerror.ErrObjectNotFound, err)
	}
	return err
}

// lockStorage 把存储池标记为 locked，已停用的存储池保持不变
func lockStorage(ctx context.Context, store *repository.Store, id string) {
	err := store.Storages.SetState(ctx, id, entity.StorageStateLocked, entity.StorageStateOK, entity.StorageStateLocked)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("storage_id", id).Msg("Storage not locked")
	}
}

func (b *base) loadNode(ctx context.Context, id string) (*model.Node, error) {
	node, err := b.store.Nodes.GetByID(ctx, id)
	if err != nil {
		return nil, stateError(fmt.Errorf("load node %s: %w", id, err))
	}
	return node, nil
}

func (b *base) loadStorage(ctx context.Context, id string) (*model.Storage, error) {
	storage, err := b.store.Storages.GetByID(ctx, id)
	if err != nil {
		return nil, stateError(fmt.Errorf("load storage %s: %w", id, err))
	}
	return storage, nil
}
