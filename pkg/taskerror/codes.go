package taskerror

// 通用错误
var (
	ErrObjectNotFound    = &Error{Code: "object_not_found", Class: ClassFatal}
	ErrUnsupportedAction = &Error{Code: "unsupported_action", Class: ClassFatal}
	ErrInvalidProperty   = &Error{Code: "invalid_property", Class: ClassFatal}
	ErrStateConflict     = &Error{Code: "state_conflict", Class: ClassRecoverable}
	ErrConnectFailed     = &Error{Code: "libvirt_connect_failed", Class: ClassRecoverable}
	ErrNodeOffline       = &Error{Code: "node_offline", Class: ClassNotReady}
	ErrVMRedefine        = &Error{Code: "vm_redefine_failed", Class: ClassRecoverable}
)

// 存储池
var (
	ErrStorageDisabled     = &Error{Code: "storage_disabled", Class: ClassNotReady}
	ErrStorageCreateFailed = &Error{Code: "storage_create_failed", Class: ClassFatal}
	ErrStorageUndefine     = &Error{Code: "storage_undefine", Class: ClassRecoverable}
	ErrStorageUnavailable  = &Error{Code: "storage_unavailable", Class: ClassRecoverable}
	ErrStorageNotFound     = &Error{Code: "libvirt_storage_not_found", Class: ClassFatal}
	ErrStorageNotRunning   = &Error{Code: "libvirt_storage_not_running", Class: ClassRecoverable}
	ErrStorageRefresh      = &Error{Code: "libvirt_storage_refresh", Class: ClassRecoverable}
	ErrStorageDefine       = &Error{Code: "storage_define_failed", Class: ClassRecoverable}
)

// 镜像
var (
	ErrCannotCreateImage   = &Error{Code: "cannot_create_image", Class: ClassRecoverable}
	ErrImageAttached       = &Error{Code: "image_attached", Class: ClassRecoverable}
	ErrImageNotFound       = &Error{Code: "libvirt_image_not_found", Class: ClassFatal}
	ErrImageState          = &Error{Code: "image_state", Class: ClassRecoverable}
	ErrImageUploadFailed   = &Error{Code: "image_upload_failed", Class: ClassRecoverable}
	ErrURLNotFound         = &Error{Code: "url_not_found", Class: ClassRecoverable}
	ErrURLReadFailed       = &Error{Code: "url_read_failed", Class: ClassRecoverable}
	ErrDataChunkNotFound   = &Error{Code: "data_chunk_not_found", Class: ClassFatal}
	ErrDataChunkCorrupted  = &Error{Code: "data_chunk_corrupted", Class: ClassFatal}
	ErrVMNotStopped        = &Error{Code: "vm_not_stopped", Class: ClassRecoverable}
	ErrDiskDevicesExceeded = &Error{Code: "disk_devices_exceeded", Class: ClassFatal}
)

// 节点
var (
	ErrImageWrongState       = &Error{Code: "image_wrong_state", Class: ClassNotReady}
	ErrNodeStorageNotFound   = &Error{Code: "node_storage_not_found", Class: ClassFatal}
	ErrNodeStorageNotRunning = &Error{Code: "node_storage_not_running", Class: ClassFatal}
	ErrNodeStorageGet        = &Error{Code: "node_storage_get", Class: ClassRecoverable}
	ErrLoadImageNotFound     = &Error{Code: "node_load_image_not_found", Class: ClassFatal}
	ErrLoadImageFailed       = &Error{Code: "node_load_image_failed", Class: ClassFatal}
	ErrSaveImageNotFound     = &Error{Code: "node_save_vm_image_not_found", Class: ClassRecoverable}
	ErrImageSave             = &Error{Code: "node_image_save", Class: ClassRecoverable}
	ErrResizeOverTemplate    = &Error{Code: "vm_resize_over_template", Class: ClassNotReady}
	ErrResizeFailed          = &Error{Code: "node_resize_failed", Class: ClassRecoverable}
	ErrImagesPoolDefine      = &Error{Code: "node_images_pool_define_failed", Class: ClassRecoverable}
	ErrImagesPoolBuildFailed = &Error{Code: "node_images_pool_build_failed", Class: ClassFatal}
	ErrImagesPoolFailed      = &Error{Code: "node_images_pool_failed", Class: ClassFatal}
	ErrNodeSuspendFailed     = &Error{Code: "node_suspend_failed", Class: ClassRecoverable}
	ErrNodeMACNotFound       = &Error{Code: "node_mac_not_found", Class: ClassFatal}
	ErrNodeWakeFailed        = &Error{Code: "node_wake_failed", Class: ClassRecoverable}
)
