package agent

import (
	"context"
	"fmt"
	"os"

	"github.com/jimyag/vdisk/internal/vdisk/config"
	"github.com/jimyag/vdisk/internal/vdisk/entity"
	"github.com/jimyag/vdisk/internal/vdisk/repository"
	"github.com/jimyag/vdisk/internal/vdisk/task"
	"github.com/jimyag/vdisk/pkg/libvirt"
	"github.com/jimyag/vdisk/pkg/taskerror"
	"github.com/rs/zerolog"
)

// Mounter 在给定连接上挂载或卸载任务引用的存储池
// 存储池 agent 使用本机连接，节点 agent 使用节点连接
type Mounter struct {
	store *repository.Store
	cfg   *config.Config
}

// NewMounter 创建 Mounter
func NewMounter(store *repository.Store, cfg *config.Config) *Mounter {
	return &Mounter{store: store, cfg: cfg}
}

// RealMount 定义并启动存储池，已经在运行时直接标记为 ok
func (m *Mounter) RealMount(ctx context.Context, t *task.Task, conn libvirt.LibvirtClient) error {
	logger := zerolog.Ctx(ctx)

	storage, err := t.Storage(ctx)
	if err != nil {
		return err
	}
	if storage.State == entity.StorageStateDisabled {
		return taskerror.WithRaw(taskerror.ErrStorageDisabled, fmt.Errorf("storage %s is disabled", storage.Name))
	}

	if err := m.store.Storages.SetState(ctx, storage.ID, entity.StorageStateLocked,
		entity.StorageStateOK, entity.StorageStateLocked); err != nil {
		return stateError(err)
	}

	if storage.Transport == entity.StorageTransportNetfs {
		_ = storageMountPolicy.Run(ctx, "staging_dir", func() error {
			return os.Mkdir(stagingPath(m.cfg, storage), 0o755)
		})
	}

	if pool, err := conn.GetStoragePool(storage.Name); err == nil {
		if pool.Running() {
			_ = storageMountPolicy.Run(ctx, "autostart_ready", func() error {
				return conn.SetStoragePoolAutostart(storage.Name, false)
			})
			logger.Info().Str("storage", storage.Name).Msg("Storage is already running")
			return stateError(m.store.Storages.SetState(ctx, storage.ID, entity.StorageStateOK, entity.StorageStateLocked))
		}

		_ = storageMountPolicy.Run(ctx, "destroy_stale", func() error {
			return conn.StopStoragePool(storage.Name)
		})
		_ = storageMountPolicy.Run(ctx, "undefine_stale", func() error {
			return conn.UndefineStoragePool(storage.Name)
		})
	} else {
		logger.Info().Err(err).Str("storage", storage.Name).Msg("Storage is not defined. Defining new")
	}

	poolXML, err := storagePoolXML(m.cfg, storage)
	if err != nil {
		return taskerror.Fatal(taskerror.ErrStorageCreateFailed.Code, err)
	}
	_ = storageMountPolicy.Run(ctx, "define", func() error {
		return conn.DefineStoragePool(poolXML)
	})

	if err := storageMountPolicy.Run(ctx, "lookup_defined", func() error {
		_, err := conn.GetStoragePool(storage.Name)
		return err
	}); err != nil {
		return err
	}
	if err := storageMountPolicy.Run(ctx, "autostart", func() error {
		return conn.SetStoragePoolAutostart(storage.Name, false)
	}); err != nil {
		return err
	}
	_ = storageMountPolicy.Run(ctx, "build", func() error {
		return conn.BuildStoragePool(storage.Name)
	})
	// 启动失败时状态保持 locked
	if err := storageMountPolicy.Run(ctx, "start", func() error {
		return conn.StartStoragePool(storage.Name)
	}); err != nil {
		return err
	}

	logger.Info().Str("storage", storage.Name).Msg("Storage mounted")
	return stateError(m.store.Storages.SetState(ctx, storage.ID, entity.StorageStateOK, entity.StorageStateLocked))
}

// RealUmount 停止并取消定义存储池
// 存储池不存在视为已卸载；卸载失败时存储池被标记为 locked
func (m *Mounter) RealUmount(ctx context.Context, t *task.Task, conn libvirt.LibvirtClient) error {
	logger := zerolog.Ctx(ctx)

	storage, err := t.Storage(ctx)
	if err != nil {
		return err
	}

	if _, err := conn.GetStoragePool(storage.Name); err != nil {
		logger.Info().Err(err).Str("storage", storage.Name).Msg("Storage is not defined. Nothing to umount")
		lockStorage(ctx, m.store, storage.ID)
		return nil
	}

	err = storageUmountPolicy.Run(ctx, "undefine", func() error {
		if err := conn.StopStoragePool(storage.Name); err == nil {
			if err := conn.UndefineStoragePool(storage.Name); err == nil {
				return nil
			}
		}
		return conn.UndefineStoragePool(storage.Name)
	})
	if err != nil {
		lockStorage(ctx, m.store, storage.ID)
		return err
	}

	logger.Info().Str("storage", storage.Name).Msg("Storage umounted")
	return nil
}

// StorageAgent 执行 storage 类型任务，使用本机 libvirt
type StorageAgent struct {
	base
	mounter *Mounter
	actions map[string]action
}

var _ Agent = (*StorageAgent)(nil)

// NewStorageAgent 创建存储池 agent
func NewStorageAgent(deps Deps) *StorageAgent {
	a := &StorageAgent{base: newBase(deps)}
	a.mounter = NewMounter(a.store, a.cfg)
	a.actions = map[string]action{
		"mount":  a.mount,
		"umount": a.umount,
	}
	return a
}

func (a *StorageAgent) Type() entity.TaskType {
	return entity.TaskTypeStorage
}

func (a *StorageAgent) Execute(ctx context.Context, t *task.Task) error {
	return dispatch(ctx, t, a.actions)
}

// TaskError 任何失败都把存储池标记为 locked，已停用的除外
func (a *StorageAgent) TaskError(ctx context.Context, t *task.Task, _ error) {
	storage, err := t.Storage(ctx)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("Cannot load storage of failed task")
		return
	}
	if storage.State != entity.StorageStateDisabled {
		lockStorage(ctx, a.store, storage.ID)
	}
}

func (a *StorageAgent) mount(ctx context.Context, t *task.Task) error {
	conn, err := a.connect(ctx, a.cfg.LibvirtURI)
	if err != nil {
		return err
	}
	defer disconnect(ctx, conn)

	return a.mounter.RealMount(ctx, t, conn)
}

// umount 与 mount 走同一流程，最后把存储池标记为 locked
func (a *StorageAgent) umount(ctx context.Context, t *task.Task) error {
	conn, err := a.connect(ctx, a.cfg.LibvirtURI)
	if err != nil {
		return err
	}
	defer disconnect(ctx, conn)

	if err := a.mounter.RealMount(ctx, t, conn); err != nil {
		return err
	}

	storage, err := t.Storage(ctx)
	if err != nil {
		return err
	}
	lockStorage(ctx, a.store, storage.ID)
	return nil
}
