package repository

import (
	"context"
	"fmt"

	"github.com/jimyag/vdisk/internal/vdisk/entity"
	"github.com/jimyag/vdisk/internal/vdisk/repository/model"
	"gorm.io/gorm"
)

// ImageRepository 镜像仓库接口
type ImageRepository interface {
	Create(ctx context.Context, image *model.Image) error
	GetByID(ctx context.Context, id string) (*model.Image, error)
	List(ctx context.Context, filters map[string]interface{}) ([]*model.Image, error)
	ListAttachedTo(ctx context.Context, vmID string) ([]*model.Image, error)
	Update(ctx context.Context, image *model.Image) error
	SetState(ctx context.Context, id string, to entity.ImageState, from ...entity.ImageState) error
	SetProgress(ctx context.Context, id string, progress float64) error
	SetSize(ctx context.Context, id string, size int64) error
	// Attach 在一个事务中记录挂载关系并创建设备
	Attach(ctx context.Context, imageID, vmID string, diskDev int, device *model.Device) error
	// Detach 在一个事务中清除挂载关系并删除该镜像的全部设备
	Detach(ctx context.Context, imageID string) error
}

type imageRepository struct {
	db *gorm.DB
}

// NewImageRepository 创建镜像仓库
func NewImageRepository(db *gorm.DB) ImageRepository {
	return &imageRepository{db: db}
}

// Create 创建镜像
func (r *imageRepository) Create(ctx context.Context, image *model.Image) error {
	return r.db.WithContext(ctx).Create(image).Error
}

// GetByID 根据 ID 获取镜像
func (r *imageRepository) GetByID(ctx context.Context, id string) (*model.Image, error) {
	var image model.Image
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&image).Error; err != nil {
		return nil, err
	}
	return &image, nil
}

// List 列出镜像
func (r *imageRepository) List(ctx context.Context, filters map[string]interface{}) ([]*model.Image, error) {
	var images []*model.Image
	query := r.db.WithContext(ctx).Model(&model.Image{})

	// 应用过滤器
	if state, ok := filters["state"]; ok {
		query = query.Where("state = ?", state)
	}
	if storageID, ok := filters["storage_id"]; ok {
		query = query.Where("storage_id = ?", storageID)
	}

	if err := query.Order("id").Find(&images).Error; err != nil {
		return nil, err
	}
	return images, nil
}

// ListAttachedTo 列出挂载在虚拟机上的镜像
func (r *imageRepository) ListAttachedTo(ctx context.Context, vmID string) ([]*model.Image, error) {
	var images []*model.Image
	if err := r.db.WithContext(ctx).
		Where("attached_to_id = ?", vmID).
		Order("disk_dev").
		Find(&images).Error; err != nil {
		return nil, err
	}
	return images, nil
}

// Update 更新镜像
func (r *imageRepository) Update(ctx context.Context, image *model.Image) error {
	return r.db.WithContext(ctx).Save(image).Error
}

// SetState 条件更新镜像状态
func (r *imageRepository) SetState(ctx context.Context, id string, to entity.ImageState, from ...entity.ImageState) error {
	return compareAndSwapState(ctx, r.db, &model.Image{}, id, to, from)
}

// SetProgress 只更新进度列
func (r *imageRepository) SetProgress(ctx context.Context, id string, progress float64) error {
	return r.db.WithContext(ctx).Model(&model.Image{}).Where("id = ?", id).Update("progress", progress).Error
}

// SetSize 只更新大小列
func (r *imageRepository) SetSize(ctx context.Context, id string, size int64) error {
	return r.db.WithContext(ctx).Model(&model.Image{}).Where("id = ?", id).Update("size", size).Error
}

// Attach 记录挂载关系
// 只有状态为 ok 且未挂载（或挂载在已关闭虚拟机上）的镜像会被更新，否则返回 ErrStateConflict；
// 槽位被占用时设备唯一索引冲突，同样回滚
func (r *imageRepository) Attach(ctx context.Context, imageID, vmID string, diskDev int, device *model.Device) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		closedVMs := tx.Model(&model.VM{}).Select("id").Where("state = ?", entity.VMStateClosed)
		result := tx.Model(&model.Image{}).
			Where("id = ? AND state = ?", imageID, entity.ImageStateOK).
			Where("attached_to_id IS NULL OR attached_to_id IN (?)", closedVMs).
			Updates(map[string]interface{}{
				"attached_to_id": vmID,
				"disk_dev":       diskDev,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: image %s is not attachable", ErrStateConflict, imageID)
		}

		// 挂载在已关闭虚拟机上的旧设备一并清理
		if err := tx.Where("image_id = ?", imageID).Delete(&model.Device{}).Error; err != nil {
			return err
		}
		if err := tx.Create(device).Error; err != nil {
			return fmt.Errorf("%w: create device %s on slot %d: %v", ErrStateConflict, device.Name, diskDev, err)
		}
		return nil
	})
}

// Detach 清除挂载关系
func (r *imageRepository) Detach(ctx context.Context, imageID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Image{}).
			Where("id = ?", imageID).
			Update("attached_to_id", nil).Error; err != nil {
			return err
		}
		return tx.Where("image_id = ?", imageID).Delete(&model.Device{}).Error
	})
}
