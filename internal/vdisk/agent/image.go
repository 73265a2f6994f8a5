package agent

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/jimyag/vdisk/internal/vdisk/entity"
	"github.com/jimyag/vdisk/internal/vdisk/repository"
	"github.com/jimyag/vdisk/internal/vdisk/repository/model"
	"github.com/jimyag/vdisk/internal/vdisk/task"
	"github.com/jimyag/vdisk/pkg/idgen"
	"github.com/jimyag/vdisk/pkg/libvirt"
	"github.com/jimyag/vdisk/pkg/qemuimg"
	"github.com/jimyag/vdisk/pkg/taskerror"
	"github.com/rs/zerolog"
)

// failOnAbandon 这些操作被放弃时镜像标记为 failed
var failOnAbandon = []string{"create", "upload_url", "upload_data", "delete", "duplicate"}

// uploadStates 可以开始上传的镜像状态
// downloading 允许重入，同一镜像的多个数据块任务和重试可以继续
var uploadStates = []entity.ImageState{
	entity.ImageStateCreating,
	entity.ImageStateDownloading,
	entity.ImageStateOK,
	entity.ImageStateFailed,
}

// ImageAgent 执行 image 类型任务
// create/upload/delete 使用本机 libvirt，attach/detach 使用虚拟机所在节点
type ImageAgent struct {
	base
	qemuImg    qemuimg.QemuImgClient
	httpClient *http.Client
	idgen      *idgen.Generator
	actions    map[string]action
}

var _ Agent = (*ImageAgent)(nil)

// NewImageAgent 创建镜像 agent
func NewImageAgent(deps Deps) *ImageAgent {
	a := &ImageAgent{
		base:       newBase(deps),
		qemuImg:    deps.QemuImg,
		httpClient: deps.HTTP,
		idgen:      deps.IDGen,
	}
	if a.qemuImg == nil {
		a.qemuImg = qemuimg.New(a.cfg.Image.QemuImgPath).WithSudo(a.cfg.Image.UseSudo)
	}
	if a.httpClient == nil {
		a.httpClient = http.DefaultClient
	}
	if a.idgen == nil {
		a.idgen = idgen.DefaultGenerator()
	}
	a.actions = map[string]action{
		"create":      a.create,
		"upload_url":  a.uploadURL,
		"upload_data": a.uploadData,
		"delete":      a.delete,
		"attach":      a.attach,
		"detach":      a.detach,
	}
	return a
}

func (a *ImageAgent) Type() entity.TaskType {
	return entity.TaskTypeImage
}

func (a *ImageAgent) Execute(ctx context.Context, t *task.Task) error {
	return dispatch(ctx, t, a.actions)
}

// TaskFailed 修改镜像内容的操作被放弃时，镜像标记为 failed
func (a *ImageAgent) TaskFailed(ctx context.Context, t *task.Task, _ error) {
	if !slices.Contains(failOnAbandon, t.Action()) {
		return
	}
	image, err := t.Image(ctx)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("Cannot load image of failed task")
		return
	}
	if err := a.store.Images.SetState(ctx, image.ID, entity.ImageStateFailed); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("image_id", image.ID).Msg("Failed to mark image failed")
	}
}

// getStorage 返回镜像所在的存储池，存储池必须为 ok 且在 libvirt 中运行
func (a *ImageAgent) getStorage(ctx context.Context, conn libvirt.LibvirtClient, image *model.Image) (*model.Storage, *libvirt.StoragePoolInfo, error) {
	storage, err := a.loadStorage(ctx, image.StorageID)
	if err != nil {
		return nil, nil, err
	}
	if storage.State != entity.StorageStateOK {
		return nil, nil, taskerror.WithRaw(taskerror.ErrStorageUnavailable,
			fmt.Errorf("storage %s is %s", storage.Name, storage.State))
	}

	pool, err := conn.GetStoragePool(storage.Name)
	if err != nil {
		lockStorage(ctx, a.store, storage.ID)
		return nil, nil, taskerror.WithRaw(taskerror.ErrStorageNotFound, err)
	}
	if !pool.Running() {
		lockStorage(ctx, a.store, storage.ID)
		return nil, nil, taskerror.WithRaw(taskerror.ErrStorageNotRunning,
			fmt.Errorf("storage pool %s is %s", storage.Name, pool.State))
	}

	if err := imagePolicy.Run(ctx, "refresh", func() error {
		return conn.RefreshStoragePool(storage.Name)
	}); err != nil {
		return nil, nil, err
	}
	return storage, pool, nil
}

func (a *ImageAgent) create(ctx context.Context, t *task.Task) error {
	logger := zerolog.Ctx(ctx)

	image, err := t.Image(ctx)
	if err != nil {
		return err
	}

	conn, err := a.connect(ctx, a.cfg.LibvirtURI)
	if err != nil {
		return err
	}
	defer disconnect(ctx, conn)

	storage, _, err := a.getStorage(ctx, conn, image)
	if err != nil {
		return err
	}

	desc, err := volumeXML(image.LibvirtName, image.Format, uint64(image.Size))
	if err != nil {
		return taskerror.WithRaw(taskerror.ErrCannotCreateImage, err)
	}

	var vol *libvirt.VolumeInfo
	if err := imagePolicy.Run(ctx, "create_volume", func() error {
		vol, err = conn.CreateVolumeXML(storage.Name, desc)
		return err
	}); err != nil {
		return err
	}
	if err := imagePolicy.Run(ctx, "refresh", func() error {
		return conn.RefreshStoragePool(storage.Name)
	}); err != nil {
		return err
	}

	if err := a.store.Images.SetSize(ctx, image.ID, int64(vol.CapacityB)); err != nil {
		return fmt.Errorf("record image size: %w", err)
	}
	if err := a.store.Images.SetState(ctx, image.ID, entity.ImageStateOK,
		entity.ImageStateCreating, entity.ImageStateFailed); err != nil {
		return stateError(err)
	}

	logger.Info().
		Str("image_id", image.ID).
		Str("size", humanize.IBytes(vol.CapacityB)).
		Msg("Image created")
	return nil
}

// startUpload 检查镜像未挂载并标记为 downloading
func (a *ImageAgent) startUpload(ctx context.Context, t *task.Task) (*model.Image, error) {
	image, err := t.Image(ctx)
	if err != nil {
		return nil, err
	}
	if image.AttachedToID != nil {
		return nil, taskerror.WithRaw(taskerror.ErrImageAttached,
			fmt.Errorf("image %s is attached to %s", image.ID, *image.AttachedToID))
	}
	if err := a.store.Images.SetState(ctx, image.ID, entity.ImageStateDownloading, uploadStates...); err != nil {
		return nil, stateError(err)
	}
	return image, nil
}

// lookupVolume 找到镜像的存储卷，不存在时为致命错误
func lookupVolume(ctx context.Context, conn libvirt.LibvirtClient, storage *model.Storage, image *model.Image) (*libvirt.VolumeInfo, error) {
	var vol *libvirt.VolumeInfo
	err := imagePolicy.Run(ctx, "lookup_volume", func() error {
		var err error
		vol, err = conn.GetVolume(storage.Name, image.LibvirtName)
		return err
	})
	return vol, err
}

func (a *ImageAgent) uploadURL(ctx context.Context, t *task.Task) error {
	logger := zerolog.Ctx(ctx)

	url, err := t.Prop("url")
	if err != nil {
		return err
	}
	size, err := t.IntProp("size")
	if err != nil {
		return err
	}

	image, err := a.startUpload(ctx, t)
	if err != nil {
		return err
	}

	conn, err := a.connect(ctx, a.cfg.LibvirtURI)
	if err != nil {
		return err
	}
	defer disconnect(ctx, conn)

	storage, _, err := a.getStorage(ctx, conn, image)
	if err != nil {
		return err
	}
	vol, err := lookupVolume(ctx, conn, storage, image)
	if err != nil {
		return err
	}

	dlCtx, cancel := context.WithTimeout(ctx, a.cfg.Image.DownloadTimeout)
	defer cancel()

	var body io.ReadCloser
	if err := imagePolicy.Run(ctx, "open_url", func() error {
		req, err := http.NewRequestWithContext(dlCtx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := a.httpClient.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode >= http.StatusBadRequest {
			resp.Body.Close()
			return fmt.Errorf("GET %s: %s", url, resp.Status)
		}
		body = resp.Body
		return nil
	}); err != nil {
		return err
	}
	defer body.Close()

	logger.Info().
		Str("url", url).
		Str("size", humanize.IBytes(uint64(size))).
		Msg("Uploading image from url")

	chunkSize := a.cfg.Image.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 250 * 1024
	}
	buf := make([]byte, chunkSize)
	src := io.LimitReader(body, size)

	var offset int64
	for offset < size {
		n, rerr := io.ReadFull(src, buf)
		if n > 0 {
			chunk := buf[:n]
			if err := imagePolicy.Run(ctx, "upload", func() error {
				return conn.UploadVolume(storage.Name, image.LibvirtName, bytes.NewReader(chunk), uint64(offset), uint64(n))
			}); err != nil {
				return err
			}
			offset += int64(n)
			if err := a.store.Images.SetProgress(ctx, image.ID, float64(offset)/float64(size)); err != nil {
				return fmt.Errorf("record progress: %w", err)
			}
		}
		if errors.Is(rerr, io.EOF) || errors.Is(rerr, io.ErrUnexpectedEOF) {
			break
		}
		if rerr != nil {
			return imagePolicy.Run(ctx, "read_url", func() error { return rerr })
		}
	}

	logger.Info().Str("uploaded", humanize.IBytes(uint64(offset))).Msg("Image data uploaded")
	return a.finishUpload(ctx, conn, storage, image, vol)
}

// chunkConsumedProp 数据块已经写入卷
const chunkConsumedProp = "chunk_consumed"

func (a *ImageAgent) uploadData(ctx context.Context, t *task.Task) error {
	chunkID, err := t.Prop("chunk_id")
	if err != nil {
		return err
	}

	image, err := a.startUpload(ctx, t)
	if err != nil {
		return err
	}

	conn, err := a.connect(ctx, a.cfg.LibvirtURI)
	if err != nil {
		return err
	}
	defer disconnect(ctx, conn)

	storage, _, err := a.getStorage(ctx, conn, image)
	if err != nil {
		return err
	}
	vol, err := lookupVolume(ctx, conn, storage, image)
	if err != nil {
		return err
	}

	// 数据已经写入卷，重试只需要完成收尾
	if t.HasProp(chunkConsumedProp) {
		if err := a.store.DataChunks.Delete(ctx, chunkID); err != nil && !repository.IsNotFound(err) {
			return fmt.Errorf("delete data chunk %s: %w", chunkID, err)
		}
		return a.finishUpload(ctx, conn, storage, image, vol)
	}

	chunk, err := a.store.DataChunks.Get(ctx, chunkID)
	if err != nil {
		if repository.IsNotFound(err) {
			return taskerror.WithRaw(taskerror.ErrDataChunkNotFound, fmt.Errorf("data chunk %s: %w", chunkID, err))
		}
		return fmt.Errorf("load data chunk %s: %w", chunkID, err)
	}

	var data []byte
	if err := imagePolicy.Run(ctx, "decode_chunk", func() error {
		data, err = base64.StdEncoding.DecodeString(chunk.Data)
		return err
	}); err != nil {
		return err
	}

	if err := imagePolicy.Run(ctx, "upload", func() error {
		return conn.UploadVolume(storage.Name, image.LibvirtName, bytes.NewReader(data), uint64(chunk.Offset), uint64(len(data)))
	}); err != nil {
		return err
	}

	t.SetProp(chunkConsumedProp, "true")
	if err := t.Save(ctx); err != nil {
		t.DeleteProp(chunkConsumedProp)
		return fmt.Errorf("save task %s: %w", t.ID(), err)
	}
	if err := a.store.DataChunks.Delete(ctx, chunkID); err != nil {
		return fmt.Errorf("delete data chunk %s: %w", chunkID, err)
	}

	zerolog.Ctx(ctx).Info().
		Int64("offset", chunk.Offset).
		Str("size", humanize.IBytes(uint64(len(data)))).
		Msg("Data chunk uploaded")
	return a.finishUpload(ctx, conn, storage, image, vol)
}

// finishUpload 去掉 backing file，记录最终大小并标记为 ok
// rebase 失败时镜像标记为 failed 并返回 nil，调用方需要轮询镜像状态
func (a *ImageAgent) finishUpload(ctx context.Context, conn libvirt.LibvirtClient, storage *model.Storage, image *model.Image, vol *libvirt.VolumeInfo) error {
	logger := zerolog.Ctx(ctx)

	if qemuimg.SupportsBackingFile(image.Format) {
		logger.Info().Str("path", vol.Path).Msg("Rebasing image to no backend")
		if err := a.qemuImg.Rebase(ctx, image.Format, vol.Path); err != nil {
			logger.Error().Err(err).Str("image_id", image.ID).Msg("Image rebase failed")
			if err := a.store.Images.SetState(ctx, image.ID, entity.ImageStateFailed); err != nil {
				return fmt.Errorf("mark image failed: %w", err)
			}
			return nil
		}
	}

	if err := imagePolicy.Run(ctx, "refresh", func() error {
		return conn.RefreshStoragePool(storage.Name)
	}); err != nil {
		return err
	}
	latest, err := lookupVolume(ctx, conn, storage, image)
	if err != nil {
		return err
	}

	if err := a.store.Images.SetSize(ctx, image.ID, int64(latest.CapacityB)); err != nil {
		return fmt.Errorf("record image size: %w", err)
	}
	return stateError(a.store.Images.SetState(ctx, image.ID, entity.ImageStateOK, entity.ImageStateDownloading))
}

func (a *ImageAgent) delete(ctx context.Context, t *task.Task) error {
	image, err := t.Image(ctx)
	if err != nil {
		return err
	}

	if image.AttachedToID != nil && !t.IgnoreErrors() {
		vm, err := a.store.VMs.GetByID(ctx, *image.AttachedToID)
		if err != nil && !repository.IsNotFound(err) {
			return fmt.Errorf("load vm %s: %w", *image.AttachedToID, err)
		}
		if vm != nil && vm.State != entity.VMStateClosed {
			return taskerror.WithRaw(taskerror.ErrImageAttached, fmt.Errorf("image %s is attached to %s", image.ID, vm.ID))
		}
	}

	vms, err := a.store.VMs.ListByBaseImage(ctx, image.ID)
	if err != nil {
		return fmt.Errorf("list vms of image %s: %w", image.ID, err)
	}
	for _, vm := range vms {
		if vm.State == entity.VMStateClosed {
			continue
		}
		// 直接放弃，不再重试
		t.SetIgnoreErrors(true)
		if err := t.Save(ctx); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("Failed to save task")
		}
		return taskerror.WithRaw(taskerror.ErrImageAttached, fmt.Errorf("image %s is used by vm %s (%s)", image.ID, vm.ID, vm.State))
	}

	conn, err := a.connect(ctx, a.cfg.LibvirtURI)
	if err != nil {
		return err
	}
	defer disconnect(ctx, conn)

	storage, _, err := a.getStorage(ctx, conn, image)
	if err != nil {
		return err
	}

	_ = imagePolicy.Run(ctx, "delete_volume", func() error {
		return conn.DeleteVolume(storage.Name, image.LibvirtName)
	})

	zerolog.Ctx(ctx).Info().Str("image_id", image.ID).Msg("Image deleted")
	return stateError(a.store.Images.SetState(ctx, image.ID, entity.ImageStateDeleted))
}

// vmContext 读取任务的虚拟机和所在节点，并检查节点在线
func (a *ImageAgent) vmContext(ctx context.Context, t *task.Task) (*model.VM, *model.Node, error) {
	vm, err := t.VM(ctx)
	if err != nil {
		return nil, nil, err
	}
	node, err := a.loadNode(ctx, vm.NodeID)
	if err != nil {
		return nil, nil, err
	}
	if err := checkOnline(node, t); err != nil {
		return nil, nil, err
	}
	return vm, node, nil
}

func (a *ImageAgent) attach(ctx context.Context, t *task.Task) error {
	logger := zerolog.Ctx(ctx)

	vm, node, err := a.vmContext(ctx, t)
	if err != nil {
		return err
	}
	image, err := t.Image(ctx)
	if err != nil {
		return err
	}
	storage, err := a.loadStorage(ctx, image.StorageID)
	if err != nil {
		return err
	}

	conn, err := a.connect(ctx, a.nodeURI(node))
	if err != nil {
		return err
	}
	defer disconnect(ctx, conn)

	var pool *libvirt.StoragePoolInfo
	if err := imagePolicy.Run(ctx, "attach_pool", func() error {
		pool, err = conn.GetStoragePool(storage.Name)
		return err
	}); err != nil {
		return err
	}
	if err := imagePolicy.Run(ctx, "refresh", func() error {
		return conn.RefreshStoragePool(storage.Name)
	}); err != nil {
		return err
	}

	// 重试时镜像可能已经挂在本虚拟机上，只需要重新定义
	retry := t.Model().Attempts > 1 && image.AttachedToID != nil && *image.AttachedToID == vm.ID
	if image.AttachedToID != nil && !retry {
		owner, err := a.store.VMs.GetByID(ctx, *image.AttachedToID)
		if err != nil && !repository.IsNotFound(err) {
			return fmt.Errorf("load vm %s: %w", *image.AttachedToID, err)
		}
		if owner != nil && owner.State != entity.VMStateClosed {
			return taskerror.WithRaw(taskerror.ErrImageAttached, fmt.Errorf("image %s is attached to %s", image.ID, owner.ID))
		}
	}
	if vm.State != entity.VMStateStopped {
		return taskerror.WithRaw(taskerror.ErrVMNotStopped, fmt.Errorf("vm %s is %s", vm.ID, vm.State))
	}
	if image.State != entity.ImageStateOK {
		return taskerror.WithRaw(taskerror.ErrImageState, fmt.Errorf("image %s is %s", image.ID, image.State))
	}

	if !retry {
		if err := a.persistAttachment(ctx, t, vm, image, pool.Path); err != nil {
			return err
		}
	}

	if err := imagePolicy.Run(ctx, "redefine", func() error {
		return a.redefineVM(ctx, conn, vm)
	}); err != nil {
		return err
	}

	logger.Info().Str("image_id", image.ID).Str("vm_id", vm.ID).Msg("Image attached")
	return nil
}

// persistAttachment 选择槽位，记录挂载关系并生成设备
func (a *ImageAgent) persistAttachment(ctx context.Context, t *task.Task, vm *model.VM, image *model.Image, poolPath string) error {
	attached, err := a.store.Images.ListAttachedTo(ctx, vm.ID)
	if err != nil {
		return fmt.Errorf("list images of vm %s: %w", vm.ID, err)
	}
	occupied := make([]int, 0, len(attached))
	for _, img := range attached {
		occupied = append(occupied, img.DiskDev)
	}

	requested, ok, err := t.OptionalIntProp("device")
	if err != nil {
		return err
	}
	diskDev := NextDiskDev(occupied)
	if ok && requested >= 1 && !slices.Contains(occupied, int(requested)) {
		diskDev = int(requested)
	}
	if diskDev > MaxDiskDev {
		return taskerror.WithRaw(taskerror.ErrDiskDevicesExceeded, fmt.Errorf("vm %s has no free disk slot", vm.ID))
	}

	name := DeviceName(diskDev)
	diskXML, err := renderDiskXML(poolPath, image, name)
	if err != nil {
		return fmt.Errorf("render disk: %w", err)
	}
	id, err := a.idgen.GenerateDeviceID()
	if err != nil {
		return err
	}

	device := &model.Device{
		ID:      id,
		ImageID: image.ID,
		VMID:    vm.ID,
		DiskDev: diskDev,
		Name:    name,
		XML:     diskXML,
	}
	if err := a.store.Images.Attach(ctx, image.ID, vm.ID, diskDev, device); err != nil {
		return stateError(err)
	}
	zerolog.Ctx(ctx).Info().Int("disk_dev", diskDev).Str("device", name).Msg("Device created")
	return nil
}

// redefineVM 按虚拟机当前的设备重新定义 domain
func (a *ImageAgent) redefineVM(ctx context.Context, conn libvirt.LibvirtClient, vm *model.VM) error {
	devices, err := a.store.Devices.ListByVM(ctx, vm.ID)
	if err != nil {
		return fmt.Errorf("list devices of vm %s: %w", vm.ID, err)
	}
	definition, err := injectDevices(vm.DefinitionXML, devices)
	if err != nil {
		return fmt.Errorf("vm %s: %w", vm.ID, err)
	}
	return conn.DefineDomain(definition)
}

func (a *ImageAgent) detach(ctx context.Context, t *task.Task) error {
	vm, node, err := a.vmContext(ctx, t)
	if err != nil {
		return err
	}
	image, err := t.Image(ctx)
	if err != nil {
		return err
	}

	conn, err := a.connect(ctx, a.nodeURI(node))
	if err != nil {
		return err
	}
	defer disconnect(ctx, conn)

	if !vm.State.In(entity.VMStateStopped, entity.VMStateClosing, entity.VMStateClosed) && !t.IgnoreErrors() {
		return taskerror.WithRaw(taskerror.ErrVMNotStopped, fmt.Errorf("vm %s is %s", vm.ID, vm.State))
	}

	if err := a.store.Images.Detach(ctx, image.ID); err != nil {
		return fmt.Errorf("detach image %s: %w", image.ID, err)
	}

	_ = imagePolicy.Run(ctx, "redefine_after", func() error {
		return a.redefineVM(ctx, conn, vm)
	})

	zerolog.Ctx(ctx).Info().Str("image_id", image.ID).Str("vm_id", vm.ID).Msg("Image detached")
	return nil
}
