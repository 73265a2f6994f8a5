package agent

import (
	"context"
	"fmt"

	"github.com/jimyag/vdisk/pkg/taskerror"
	"github.com/rs/zerolog"
)

// Outcome 某一步失败后的处理方式
type Outcome int

const (
	// Ignore 失败等同于成功，只在 debug 级别记录
	Ignore Outcome = iota
	// Log 记录告警后继续
	Log
	// Recoverable 返回可重试错误
	Recoverable
	// Fatal 返回致命错误
	Fatal
	// NotReady 返回前置条件错误
	NotReady
)

func (o Outcome) String() string {
	switch o {
	case Ignore:
		return "ignore"
	case Log:
		return "log"
	case Recoverable:
		return "recoverable"
	case Fatal:
		return "fatal"
	case NotReady:
		return "not_ready"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

func (o Outcome) class() taskerror.Class {
	switch o {
	case Fatal:
		return taskerror.ClassFatal
	case NotReady:
		return taskerror.ClassNotReady
	default:
		return taskerror.ClassRecoverable
	}
}

// Step 一个远程调用步骤的失败策略
type Step struct {
	OnFailure Outcome
	// Err 返回错误时使用的原因码，OnFailure 为 Ignore/Log 时可以为空
	Err *taskerror.Error
	// Msg 失败时的日志内容
	Msg string
}

// Policy 操作内各步骤的失败策略表
type Policy map[string]Step

// Run 执行 fn，并按 name 对应的策略处理失败
// 表中没有的步骤按未分类错误返回
func (p Policy) Run(ctx context.Context, name string, fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}

	step, ok := p[name]
	if !ok {
		return fmt.Errorf("step %s: %w", name, err)
	}

	logger := zerolog.Ctx(ctx)
	msg := step.Msg
	if msg == "" {
		msg = fmt.Sprintf("Step %s failed", name)
	}

	switch step.OnFailure {
	case Ignore:
		logger.Debug().Err(err).Str("step", name).Msg(msg)
		return nil
	case Log:
		logger.Warn().Err(err).Str("step", name).Msg(msg)
		return nil
	}

	logger.Error().Err(err).Str("step", name).Str("outcome", step.OnFailure.String()).Msg(msg)
	if step.Err == nil {
		return fmt.Errorf("step %s: %w", name, err)
	}
	return taskerror.WithClass(taskerror.WithRaw(step.Err, err), step.OnFailure.class())
}

// storageMountPolicy RealMount 的步骤
var storageMountPolicy = Policy{
	"staging_dir":     {OnFailure: Log, Msg: "Failed to create storages directory. Going ahead"},
	"autostart_ready": {OnFailure: Log, Msg: "Failed to disable autostart of running storage"},
	"destroy_stale":   {OnFailure: Ignore, Msg: "Destroy of stale storage failed"},
	"undefine_stale":  {OnFailure: Log, Msg: "Removing storage failed. Probably storage doesn't exist. Going ahead"},
	"define":          {OnFailure: Log, Msg: "Storage define failed. Going ahead"},
	"lookup_defined":  {OnFailure: Recoverable, Err: taskerror.ErrStorageDefine, Msg: "Storage not found after define"},
	"autostart":       {OnFailure: Recoverable, Err: taskerror.ErrStorageDefine, Msg: "Failed to disable storage autostart"},
	"build":           {OnFailure: Log, Msg: "Storage build failed. Going ahead"},
	"start":           {OnFailure: Fatal, Err: taskerror.ErrStorageCreateFailed, Msg: "Storage create failed"},
}

// storageUmountPolicy RealUmount 的步骤
var storageUmountPolicy = Policy{
	"undefine": {OnFailure: Recoverable, Err: taskerror.ErrStorageUndefine, Msg: "Storage undefine failed"},
}

// imagePolicy 镜像 agent 的步骤
var imagePolicy = Policy{
	"create_volume":  {OnFailure: Recoverable, Err: taskerror.ErrCannotCreateImage, Msg: "Cannot create image volume"},
	"refresh":        {OnFailure: Recoverable, Err: taskerror.ErrStorageRefresh, Msg: "Storage refresh failed"},
	"lookup_volume":  {OnFailure: Fatal, Err: taskerror.ErrImageNotFound, Msg: "Image volume not found"},
	"open_url":       {OnFailure: Recoverable, Err: taskerror.ErrURLNotFound, Msg: "Cannot open image url"},
	"read_url":       {OnFailure: Recoverable, Err: taskerror.ErrURLReadFailed, Msg: "Reading image url failed"},
	"upload":         {OnFailure: Recoverable, Err: taskerror.ErrImageUploadFailed, Msg: "Volume upload failed"},
	"decode_chunk":   {OnFailure: Fatal, Err: taskerror.ErrDataChunkCorrupted, Msg: "Data chunk is not valid base64"},
	"delete_volume":  {OnFailure: Log, Msg: "Image doesn't exists. Skipping"},
	"attach_pool":    {OnFailure: Recoverable, Err: taskerror.ErrStorageUnavailable, Msg: "Image storage not found on node"},
	"redefine":       {OnFailure: Recoverable, Err: taskerror.ErrVMRedefine, Msg: "VM redefine failed"},
	"redefine_after": {OnFailure: Log, Msg: "VM redefine after detach failed"},
}

// nodePolicy 节点 agent 的步骤
var nodePolicy = Policy{
	"lookup_base_volume":  {OnFailure: Fatal, Err: taskerror.ErrLoadImageNotFound, Msg: "Base image volume not found"},
	"clone_to_node":       {OnFailure: Fatal, Err: taskerror.ErrLoadImageFailed, Msg: "Failed to load image to node"},
	"delete_local_volume": {OnFailure: Log, Msg: "Image not found. Skipping"},
	"lookup_vm_volume":    {OnFailure: Recoverable, Err: taskerror.ErrSaveImageNotFound, Msg: "VM volume not found"},
	"clone_to_storage":    {OnFailure: Recoverable, Err: taskerror.ErrImageSave, Msg: "Failed to save image"},
	"resize":              {OnFailure: Recoverable, Err: taskerror.ErrResizeFailed, Msg: "Volume resize failed"},
	"start_existing_pool": {OnFailure: Log, Msg: "Starting existing images pool failed. Defining new"},
	"define_pool":         {OnFailure: Recoverable, Err: taskerror.ErrImagesPoolDefine, Msg: "Images pool define failed"},
	"build_pool":          {OnFailure: Fatal, Err: taskerror.ErrImagesPoolBuildFailed, Msg: "Images pool build failed"},
	"start_pool":          {OnFailure: Fatal, Err: taskerror.ErrImagesPoolFailed, Msg: "Images pool start failed"},
	"probe":               {OnFailure: Log, Msg: "Node did not answer ping"},
	"harvest_mac":         {OnFailure: Log, Msg: "Cannot find node's MAC in neighbor table"},
	"suspend":             {OnFailure: Recoverable, Err: taskerror.ErrNodeSuspendFailed, Msg: "Node suspend failed"},
	"wake":                {OnFailure: Recoverable, Err: taskerror.ErrNodeWakeFailed, Msg: "Wake signal failed"},
}
