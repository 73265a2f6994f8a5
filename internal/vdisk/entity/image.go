package entity

import "time"

// ImageState 镜像状态
type ImageState string

const (
	ImageStateCreating    ImageState = "creating"
	ImageStateDownloading ImageState = "downloading"
	ImageStateSaving      ImageState = "saving"
	ImageStateOK          ImageState = "ok"
	ImageStateFailed      ImageState = "failed"
	ImageStateDeleted     ImageState = "deleted"
)

// In 判断状态是否属于 states 之一
func (s ImageState) In(states ...ImageState) bool {
	return in(s, states)
}

// Image 镜像信息
type Image struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	LibvirtName  string     `json:"libvirt_name"`
	Format       string     `json:"format"`
	Size         int64      `json:"size"` // bytes
	State        ImageState `json:"state"`
	DiskDev      int        `json:"disk_dev"`
	AttachedToID *string    `json:"attached_to_id,omitempty"`
	StorageID    string     `json:"storage_id"`
	Progress     float64    `json:"progress"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// CreateImageRequest 登记镜像的请求，登记后再提交 create 任务
type CreateImageRequest struct {
	Name      string `json:"name" binding:"required"`
	Format    string `json:"format" binding:"required,oneof=raw qcow2 qed"`
	Size      int64  `json:"size" binding:"required,gt=0"`
	StorageID string `json:"storage_id" binding:"required"`
}

// GetImageRequest 查询镜像
type GetImageRequest struct {
	ID string `uri:"id" binding:"required"`
}

// CreateImageResponse 登记的镜像和对应的 create 任务
type CreateImageResponse struct {
	Image *Image `json:"image"`
	Task  *Task  `json:"task"`
}
