package model

import (
	"time"

	"github.com/jimyag/vdisk/internal/vdisk/entity"
)

// Image 镜像表
type Image struct {
	ID           string            `gorm:"primaryKey;type:text;column:id" json:"id"`
	Name         string            `gorm:"type:text;not null;column:name" json:"name"`
	LibvirtName  string            `gorm:"type:text;not null;column:libvirt_name" json:"libvirtName"` // 存储池中的卷名
	Format       string            `gorm:"type:text;not null;column:format" json:"format"`            // raw, qcow2, qed
	Size         int64             `gorm:"type:integer;not null;default:0;column:size" json:"size"`   // bytes
	State        entity.ImageState `gorm:"type:text;not null;index:idx_images_state;column:state" json:"state"`
	DiskDev      int               `gorm:"type:integer;not null;default:0;column:disk_dev" json:"diskDev"`
	AttachedToID *string           `gorm:"type:text;index:idx_images_attached_to_id;column:attached_to_id" json:"attachedToID"` // 关联 vms.id
	StorageID    string            `gorm:"type:text;not null;index:idx_images_storage_id;column:storage_id" json:"storageID"`   // 关联 storages.id
	Progress     float64           `gorm:"type:real;not null;default:0;column:progress" json:"progress"`
	CreatedAt    time.Time         `gorm:"type:datetime;not null;column:created_at" json:"created_at"`
	UpdatedAt    time.Time         `gorm:"type:datetime;not null;column:updated_at" json:"updated_at"`
}

// TableName 指定表名
func (Image) TableName() string {
	return "images"
}
