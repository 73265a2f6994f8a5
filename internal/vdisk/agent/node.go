package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/jimyag/vdisk/internal/vdisk/config"
	"github.com/jimyag/vdisk/internal/vdisk/entity"
	"github.com/jimyag/vdisk/internal/vdisk/repository"
	"github.com/jimyag/vdisk/internal/vdisk/repository/model"
	"github.com/jimyag/vdisk/internal/vdisk/task"
	"github.com/jimyag/vdisk/pkg/libvirt"
	"github.com/jimyag/vdisk/pkg/neighbor"
	"github.com/jimyag/vdisk/pkg/power"
	"github.com/jimyag/vdisk/pkg/taskerror"
	"github.com/juju/clock"
	"github.com/rs/zerolog"
)

// NodeAgent 执行 node 类型任务，连接节点上的 libvirt
type NodeAgent struct {
	base
	mounter  *Mounter
	node     config.Node
	neighbor neighbor.Lookup
	prober   power.Prober
	waker    power.Waker
	clock    clock.Clock
	actions  map[string]action
}

var _ Agent = (*NodeAgent)(nil)

// NewNodeAgent 创建节点 agent
func NewNodeAgent(deps Deps) *NodeAgent {
	a := &NodeAgent{
		base:     newBase(deps),
		neighbor: deps.Neighbor,
		prober:   deps.Prober,
		waker:    deps.Waker,
		clock:    deps.Clock,
	}
	a.node = a.cfg.Node
	a.mounter = NewMounter(a.store, a.cfg)
	if a.neighbor == nil {
		a.neighbor = neighbor.NewNetlink()
	}
	if a.prober == nil {
		a.prober = power.NewPingProber("")
	}
	if a.waker == nil {
		a.waker = power.NewMagicPacketWaker(a.node.WakeBroadcast)
	}
	if a.clock == nil {
		a.clock = clock.WallClock
	}
	a.actions = map[string]action{
		"load_image":         a.loadImage,
		"delete":             a.delete,
		"save_image":         a.saveImage,
		"resize_image":       a.resizeImage,
		"mount":              a.mount,
		"umount":             a.umount,
		"create_images_pool": a.createImagesPool,
		"check":              a.check,
		"suspend":            a.suspend,
		"wake_up":            a.wakeUp,
	}
	return a
}

func (a *NodeAgent) Type() entity.TaskType {
	return entity.TaskTypeNode
}

func (a *NodeAgent) Execute(ctx context.Context, t *task.Task) error {
	return dispatch(ctx, t, a.actions)
}

// 记录 saving 状态由本任务设置，只有持有者可以释放
const (
	savingVMProp    = "saving_vm"
	savingImageProp = "saving_image"
)

// TaskError save_image 失败后虚拟机回到 stopped，重试时可以再次进入 saving
// 镜像保持 saving 直到重试成功或任务被放弃
func (a *NodeAgent) TaskError(ctx context.Context, t *task.Task, _ error) {
	if t.Action() != "save_image" {
		return
	}
	a.restoreSavingVM(ctx, t)
}

// TaskFailed save_image 被放弃时镜像标记为 failed
func (a *NodeAgent) TaskFailed(ctx context.Context, t *task.Task, _ error) {
	if t.Action() != "save_image" {
		return
	}
	a.restoreSavingVM(ctx, t)
	if !t.HasProp(savingImageProp) {
		return
	}
	logger := zerolog.Ctx(ctx)
	if image, err := t.Image(ctx); err == nil {
		err := a.store.Images.SetState(ctx, image.ID, entity.ImageStateFailed, entity.ImageStateSaving)
		if err != nil && !errors.Is(err, repository.ErrStateConflict) {
			logger.Warn().Err(err).Str("image_id", image.ID).Msg("Image not marked failed")
			return
		}
	}
	a.releaseProps(ctx, t, savingImageProp)
}

// restoreSavingVM 把本任务置为 saving 的虚拟机改回 stopped
func (a *NodeAgent) restoreSavingVM(ctx context.Context, t *task.Task) {
	if !t.HasProp(savingVMProp) {
		return
	}
	vm, err := t.VM(ctx)
	if err != nil {
		return
	}
	err = a.store.VMs.SetState(ctx, vm.ID, entity.VMStateStopped, entity.VMStateSaving)
	if err != nil && !errors.Is(err, repository.ErrStateConflict) {
		zerolog.Ctx(ctx).Warn().Err(err).Str("vm_id", vm.ID).Msg("VM not restored to stopped")
		return
	}
	a.releaseProps(ctx, t, savingVMProp)
}

func (a *NodeAgent) releaseProps(ctx context.Context, t *task.Task, names ...string) {
	for _, name := range names {
		t.DeleteProp(name)
	}
	if err := t.Save(ctx); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Strs("props", names).Msg("Task props not saved")
	}
}

// connectNode 连接节点上的 libvirt
func (a *NodeAgent) connectNode(ctx context.Context, node *model.Node) (libvirt.LibvirtClient, error) {
	return a.connect(ctx, a.nodeURI(node))
}

// onlineNode 读取任务引用的节点并检查在线
func (a *NodeAgent) onlineNode(ctx context.Context, t *task.Task) (*model.Node, error) {
	node, err := t.Node(ctx)
	if err != nil {
		return nil, err
	}
	if err := checkOnline(node, t); err != nil {
		return nil, err
	}
	return node, nil
}

// getPool 节点上的存储池必须存在且在运行
func (a *NodeAgent) getPool(ctx context.Context, conn libvirt.LibvirtClient, name string) (*libvirt.StoragePoolInfo, error) {
	pool, err := conn.GetStoragePool(name)
	if err != nil {
		return nil, taskerror.WithRaw(taskerror.ErrNodeStorageNotFound, err)
	}
	if !pool.Running() {
		return nil, taskerror.WithRaw(taskerror.ErrNodeStorageNotRunning, fmt.Errorf("storage pool %s is %s", name, pool.State))
	}
	if err := conn.RefreshStoragePool(name); err != nil {
		return nil, taskerror.WithRaw(taskerror.ErrStorageRefresh, err)
	}
	return pool, nil
}

// loadImage 把镜像克隆到节点的 images 存储池，卷名为虚拟机 ID
func (a *NodeAgent) loadImage(ctx context.Context, t *task.Task) error {
	logger := zerolog.Ctx(ctx)

	node, err := a.onlineNode(ctx, t)
	if err != nil {
		return err
	}
	image, err := t.Image(ctx)
	if err != nil {
		return err
	}
	vm, err := t.VM(ctx)
	if err != nil {
		return err
	}

	conn, err := a.connectNode(ctx, node)
	if err != nil {
		return err
	}
	defer disconnect(ctx, conn)

	if image.State != entity.ImageStateOK {
		return taskerror.WithRaw(taskerror.ErrImageWrongState, fmt.Errorf("image %s is %s", image.ID, image.State))
	}

	storage, err := a.loadStorage(ctx, image.StorageID)
	if err != nil {
		return err
	}
	if _, err := a.getPool(ctx, conn, storage.Name); err != nil {
		return err
	}
	if _, err := a.getPool(ctx, conn, a.node.ImagesPool); err != nil {
		return err
	}

	var baseXML string
	if err := nodePolicy.Run(ctx, "lookup_base_volume", func() error {
		baseXML, err = conn.GetVolumeXMLDesc(storage.Name, image.LibvirtName)
		return err
	}); err != nil {
		return err
	}

	var vol *libvirt.VolumeInfo
	if err := nodePolicy.Run(ctx, "clone_to_node", func() error {
		vol, err = conn.CloneVolume(a.node.ImagesPool, libvirt.RenameVolumeXML(baseXML, vm.ID), storage.Name, image.LibvirtName)
		return err
	}); err != nil {
		if serr := a.store.VMs.SetState(ctx, vm.ID, entity.VMStateFailed); serr != nil {
			logger.Error().Err(serr).Str("vm_id", vm.ID).Msg("Failed to mark vm failed")
		}
		return err
	}

	logger.Info().
		Str("vm_id", vm.ID).
		Str("node", node.Address).
		Str("size", humanize.IBytes(vol.CapacityB)).
		Msg("Image loaded to node")
	return nil
}

// delete 删除节点上以虚拟机 ID 命名的卷
func (a *NodeAgent) delete(ctx context.Context, t *task.Task) error {
	node, err := a.onlineNode(ctx, t)
	if err != nil {
		return err
	}
	vm, err := t.VM(ctx)
	if err != nil {
		return err
	}
	if !vm.State.In(entity.VMStateStopped, entity.VMStateClosed, entity.VMStateClosing) && !t.IgnoreErrors() {
		return taskerror.WithClass(taskerror.WithRaw(taskerror.ErrVMNotStopped, fmt.Errorf("vm %s is %s", vm.ID, vm.State)), taskerror.ClassNotReady)
	}

	conn, err := a.connectNode(ctx, node)
	if err != nil {
		return err
	}
	defer disconnect(ctx, conn)

	if _, err := a.getPool(ctx, conn, a.node.ImagesPool); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("Cannot get images storage")
		return taskerror.WithRaw(taskerror.ErrNodeStorageGet, err)
	}

	_ = nodePolicy.Run(ctx, "delete_local_volume", func() error {
		return conn.DeleteVolume(a.node.ImagesPool, vm.ID)
	})
	return nil
}

// saveImage 把节点上的虚拟机卷克隆回镜像所在存储池
func (a *NodeAgent) saveImage(ctx context.Context, t *task.Task) error {
	logger := zerolog.Ctx(ctx)

	node, err := a.onlineNode(ctx, t)
	if err != nil {
		return err
	}
	vm, err := t.VM(ctx)
	if err != nil {
		return err
	}
	image, err := t.Image(ctx)
	if err != nil {
		return err
	}
	if vm.State != entity.VMStateStopped {
		return taskerror.WithClass(taskerror.WithRaw(taskerror.ErrVMNotStopped, fmt.Errorf("vm %s is %s", vm.ID, vm.State)), taskerror.ClassNotReady)
	}

	if err := a.store.VMs.SetState(ctx, vm.ID, entity.VMStateSaving, entity.VMStateStopped); err != nil {
		return stateError(err)
	}
	t.SetProp(savingVMProp, vm.ID)
	// 镜像已经处于 saving 时只有本任务的重试可以继续
	from := []entity.ImageState{entity.ImageStateCreating, entity.ImageStateOK, entity.ImageStateFailed}
	if t.HasProp(savingImageProp) {
		from = append(from, entity.ImageStateSaving)
	}
	if err := a.store.Images.SetState(ctx, image.ID, entity.ImageStateSaving, from...); err != nil {
		a.restoreSavingVM(ctx, t)
		return stateError(err)
	}
	t.SetProp(savingImageProp, image.ID)
	if err := t.Save(ctx); err != nil {
		logger.Warn().Err(err).Msg("Task props not saved")
	}

	conn, err := a.connectNode(ctx, node)
	if err != nil {
		return err
	}
	defer disconnect(ctx, conn)

	storage, err := a.loadStorage(ctx, image.StorageID)
	if err != nil {
		return err
	}
	if _, err := a.getPool(ctx, conn, storage.Name); err != nil {
		return err
	}
	if _, err := a.getPool(ctx, conn, a.node.ImagesPool); err != nil {
		return err
	}

	var src *libvirt.VolumeInfo
	if err := nodePolicy.Run(ctx, "lookup_vm_volume", func() error {
		src, err = conn.GetVolume(a.node.ImagesPool, vm.ID)
		return err
	}); err != nil {
		return err
	}

	desc, err := volumeXML(image.LibvirtName, image.Format, src.CapacityB)
	if err != nil {
		return taskerror.WithRaw(taskerror.ErrImageSave, err)
	}
	if err := nodePolicy.Run(ctx, "clone_to_storage", func() error {
		_, err := conn.CloneVolume(storage.Name, desc, a.node.ImagesPool, vm.ID)
		return err
	}); err != nil {
		return err
	}

	if err := a.store.Images.SetSize(ctx, image.ID, int64(src.CapacityB)); err != nil {
		return fmt.Errorf("record image size: %w", err)
	}
	if err := a.store.Images.SetState(ctx, image.ID, entity.ImageStateOK, entity.ImageStateSaving); err != nil {
		return stateError(err)
	}
	if err := a.store.VMs.SetState(ctx, vm.ID, entity.VMStateStopped, entity.VMStateSaving); err != nil {
		return stateError(err)
	}
	a.releaseProps(ctx, t, savingVMProp, savingImageProp)

	logger.Info().
		Str("vm_id", vm.ID).
		Str("image_id", image.ID).
		Str("size", humanize.IBytes(src.CapacityB)).
		Msg("Image saved")
	return nil
}

// resizeImage 调整节点上虚拟机卷的大小，不能超过模板的磁盘配额
func (a *NodeAgent) resizeImage(ctx context.Context, t *task.Task) error {
	vm, err := t.VM(ctx)
	if err != nil {
		return err
	}
	node, err := a.loadNode(ctx, vm.NodeID)
	if err != nil {
		return err
	}
	if err := checkOnline(node, t); err != nil {
		return err
	}
	if vm.State != entity.VMStateStopped {
		return taskerror.WithRaw(taskerror.ErrVMNotStopped, fmt.Errorf("vm %s is %s", vm.ID, vm.State))
	}

	size, err := t.IntProp("size")
	if err != nil {
		return err
	}
	if size <= 0 {
		return taskerror.WithRaw(taskerror.ErrInvalidProperty, fmt.Errorf("size must be positive, got %d", size))
	}

	template, err := a.store.Templates.GetByID(ctx, vm.TemplateID)
	if err != nil {
		return stateError(fmt.Errorf("load template %s: %w", vm.TemplateID, err))
	}
	if size > template.HDDBytes() {
		return taskerror.WithRaw(taskerror.ErrResizeOverTemplate, fmt.Errorf("size %s exceeds template %s quota %s",
			humanize.IBytes(uint64(size)), template.Name, humanize.IBytes(uint64(template.HDDBytes()))))
	}

	conn, err := a.connectNode(ctx, node)
	if err != nil {
		return err
	}
	defer disconnect(ctx, conn)

	if err := nodePolicy.Run(ctx, "resize", func() error {
		return conn.ResizeVolume(a.node.ImagesPool, vm.ID, uint64(size))
	}); err != nil {
		return err
	}

	zerolog.Ctx(ctx).Info().Str("vm_id", vm.ID).Str("size", humanize.IBytes(uint64(size))).Msg("Volume resized")
	return nil
}

func (a *NodeAgent) mount(ctx context.Context, t *task.Task) error {
	node, err := t.Node(ctx)
	if err != nil {
		return err
	}
	conn, err := a.connectNode(ctx, node)
	if err != nil {
		return err
	}
	defer disconnect(ctx, conn)

	return a.mounter.RealMount(ctx, t, conn)
}

func (a *NodeAgent) umount(ctx context.Context, t *task.Task) error {
	node, err := t.Node(ctx)
	if err != nil {
		return err
	}
	conn, err := a.connectNode(ctx, node)
	if err != nil {
		return err
	}
	defer disconnect(ctx, conn)

	if err := a.store.Nodes.SetState(ctx, node.ID, entity.NodeStateOffline); err != nil {
		return stateError(err)
	}
	return a.mounter.RealUmount(ctx, t, conn)
}

// createImagesPool 确保节点上有运行中的 images 存储池
func (a *NodeAgent) createImagesPool(ctx context.Context, t *task.Task) error {
	logger := zerolog.Ctx(ctx)
	name := a.node.ImagesPool

	node, err := t.Node(ctx)
	if err != nil {
		return err
	}
	conn, err := a.connectNode(ctx, node)
	if err != nil {
		return err
	}
	defer disconnect(ctx, conn)

	if pool, err := conn.GetStoragePool(name); err == nil {
		if pool.Running() {
			logger.Warn().Str("pool", name).Msg("Images pool exists")
			return nil
		}

		logger.Info().Str("pool", name).Msg("Trying to start existing pool")
		// 已有存储池启动失败时按不存在处理，重新定义
		if err := nodePolicy.Run(ctx, "start_existing_pool", func() error {
			if err := conn.BuildStoragePool(name); err != nil {
				return err
			}
			return conn.StartStoragePool(name)
		}); err == nil {
			return nil
		}
	}

	logger.Info().Str("pool", name).Msg("Images pool does not exist. Defining new")
	poolXML, err := imagesPoolXML(a.node)
	if err != nil {
		return taskerror.WithRaw(taskerror.ErrImagesPoolDefine, err)
	}
	if err := nodePolicy.Run(ctx, "define_pool", func() error {
		return conn.DefineStoragePool(poolXML)
	}); err != nil {
		return err
	}
	if err := nodePolicy.Run(ctx, "build_pool", func() error {
		return conn.BuildStoragePool(name)
	}); err != nil {
		return err
	}
	return nodePolicy.Run(ctx, "start_pool", func() error {
		return conn.StartStoragePool(name)
	})
}

// check 用 libvirt 中 domain 的真实状态修正 running/starting 虚拟机的状态
func (a *NodeAgent) check(ctx context.Context, t *task.Task) error {
	logger := zerolog.Ctx(ctx)

	node, err := t.Node(ctx)
	if err != nil {
		return err
	}
	conn, err := a.connectNode(ctx, node)
	if err != nil {
		return err
	}
	defer disconnect(ctx, conn)

	vms, err := a.store.VMs.ListByNode(ctx, node.ID, entity.VMStateRunning, entity.VMStateStarting)
	if err != nil {
		return fmt.Errorf("list vms of node %s: %w", node.ID, err)
	}

	for _, vm := range vms {
		state := entity.VMStateStopped
		if dom, err := conn.GetDomainByName(vm.LibvirtName); err != nil {
			logger.Error().Err(err).Str("vm_id", vm.ID).Str("node", node.Address).Msg("Failed to find VM at node")
		} else if s, _, err := conn.GetDomainState(dom); err != nil {
			logger.Error().Err(err).Str("vm_id", vm.ID).Msg("Failed to get VM state")
		} else if libvirt.IsRunning(s) {
			state = entity.VMStateRunning
		}

		if err := a.store.VMs.SetState(ctx, vm.ID, state, entity.VMStateRunning, entity.VMStateStarting); err != nil {
			logger.Warn().Err(err).Str("vm_id", vm.ID).Msg("VM state changed during check")
		}
	}

	return stateError(a.store.Nodes.SetState(ctx, node.ID, entity.NodeStateOK))
}

// suspend 节点上没有使用中的虚拟机时挂起到内存
func (a *NodeAgent) suspend(ctx context.Context, t *task.Task) error {
	logger := zerolog.Ctx(ctx)

	node, err := t.Node(ctx)
	if err != nil {
		return err
	}

	inUse, err := a.store.VMs.CountInUseOnNode(ctx, node.ID)
	if err != nil {
		return fmt.Errorf("count vms of node %s: %w", node.ID, err)
	}
	if inUse > 0 {
		logger.Info().Int64("vms", inUse).Msg("Node is in use. Aborting suspend")
		t.SetComment("Node is in use. Aborting suspend")
		return t.Save(ctx)
	}

	if err := a.store.Nodes.SetState(ctx, node.ID, entity.NodeStateSuspend); err != nil {
		return stateError(err)
	}

	logger.Info().Str("node", node.Address).Msg("Suspending node")
	_ = nodePolicy.Run(ctx, "probe", func() error {
		return a.prober.Probe(ctx, node.Address)
	})
	_ = nodePolicy.Run(ctx, "harvest_mac", func() error {
		mac, err := a.neighbor.HardwareAddr(ctx, node.Address)
		if err != nil {
			return err
		}
		return a.store.Nodes.SetMAC(ctx, node.ID, mac)
	})

	conn, err := a.connectNode(ctx, node)
	if err != nil {
		return err
	}
	defer disconnect(ctx, conn)

	return nodePolicy.Run(ctx, "suspend", func() error {
		return conn.SuspendForDuration(a.node.SuspendDuration)
	})
}

// wakeUp 发送唤醒包，挂起中的节点等待 WakeupGrace 后标记为 ok
func (a *NodeAgent) wakeUp(ctx context.Context, t *task.Task) error {
	node, err := t.Node(ctx)
	if err != nil {
		return err
	}
	if node.MAC == "" {
		return taskerror.WithRaw(taskerror.ErrNodeMACNotFound, errors.New("cannot find node's MAC"))
	}

	if err := nodePolicy.Run(ctx, "wake", func() error {
		return a.waker.Wake(ctx, node.MAC)
	}); err != nil {
		return err
	}

	if node.State != entity.NodeStateSuspend {
		return nil
	}

	zerolog.Ctx(ctx).Info().Str("node", node.Address).Dur("grace", a.node.WakeupGrace).Msg("Waiting for node to wake up")
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-a.clock.After(a.node.WakeupGrace):
	}

	return stateError(a.store.Nodes.SetState(ctx, node.ID, entity.NodeStateOK, entity.NodeStateSuspend))
}
