package repository

import (
	"context"

	"github.com/jimyag/vdisk/internal/vdisk/repository/model"
	"gorm.io/gorm"
)

// DeviceRepository 磁盘设备仓库接口
type DeviceRepository interface {
	Create(ctx context.Context, device *model.Device) error
	ListByVM(ctx context.Context, vmID string) ([]*model.Device, error)
	ListByImage(ctx context.Context, imageID string) ([]*model.Device, error)
	DeleteByImage(ctx context.Context, imageID string) error
}

type deviceRepository struct {
	db *gorm.DB
}

// NewDeviceRepository 创建设备仓库
func NewDeviceRepository(db *gorm.DB) DeviceRepository {
	return &deviceRepository{db: db}
}

// Create 创建设备
func (r *deviceRepository) Create(ctx context.Context, device *model.Device) error {
	return r.db.WithContext(ctx).Create(device).Error
}

// ListByVM 按槽位顺序列出虚拟机的设备
func (r *deviceRepository) ListByVM(ctx context.Context, vmID string) ([]*model.Device, error) {
	var devices []*model.Device
	if err := r.db.WithContext(ctx).Where("vm_id = ?", vmID).Order("disk_dev").Find(&devices).Error; err != nil {
		return nil, err
	}
	return devices, nil
}

// ListByImage 列出镜像的设备
func (r *deviceRepository) ListByImage(ctx context.Context, imageID string) ([]*model.Device, error) {
	var devices []*model.Device
	if err := r.db.WithContext(ctx).Where("image_id = ?", imageID).Find(&devices).Error; err != nil {
		return nil, err
	}
	return devices, nil
}

// DeleteByImage 删除镜像的全部设备
func (r *deviceRepository) DeleteByImage(ctx context.Context, imageID string) error {
	return r.db.WithContext(ctx).Where("image_id = ?", imageID).Delete(&model.Device{}).Error
}
