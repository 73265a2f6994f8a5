package repository

import (
	"context"

	"github.com/jimyag/vdisk/internal/vdisk/entity"
	"github.com/jimyag/vdisk/internal/vdisk/repository/model"
	"gorm.io/gorm"
)

// StorageRepository 存储池仓库接口
type StorageRepository interface {
	Create(ctx context.Context, storage *model.Storage) error
	GetByID(ctx context.Context, id string) (*model.Storage, error)
	GetByName(ctx context.Context, name string) (*model.Storage, error)
	List(ctx context.Context) ([]*model.Storage, error)
	Update(ctx context.Context, storage *model.Storage) error
	// SetState 条件更新状态，from 为空表示强制更新
	SetState(ctx context.Context, id string, to entity.StorageState, from ...entity.StorageState) error
}

type storageRepository struct {
	db *gorm.DB
}

// NewStorageRepository 创建存储池仓库
func NewStorageRepository(db *gorm.DB) StorageRepository {
	return &storageRepository{db: db}
}

// Create 创建存储池
func (r *storageRepository) Create(ctx context.Context, storage *model.Storage) error {
	return r.db.WithContext(ctx).Create(storage).Error
}

// GetByID 根据 ID 获取存储池
func (r *storageRepository) GetByID(ctx context.Context, id string) (*model.Storage, error) {
	var storage model.Storage
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&storage).Error; err != nil {
		return nil, err
	}
	return &storage, nil
}

// GetByName 根据名称获取存储池
func (r *storageRepository) GetByName(ctx context.Context, name string) (*model.Storage, error) {
	var storage model.Storage
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&storage).Error; err != nil {
		return nil, err
	}
	return &storage, nil
}

// List 列出存储池
func (r *storageRepository) List(ctx context.Context) ([]*model.Storage, error) {
	var storages []*model.Storage
	if err := r.db.WithContext(ctx).Order("name").Find(&storages).Error; err != nil {
		return nil, err
	}
	return storages, nil
}

// Update 更新存储池
func (r *storageRepository) Update(ctx context.Context, storage *model.Storage) error {
	return r.db.WithContext(ctx).Save(storage).Error
}

// SetState 条件更新存储池状态
func (r *storageRepository) SetState(ctx context.Context, id string, to entity.StorageState, from ...entity.StorageState) error {
	return compareAndSwapState(ctx, r.db, &model.Storage{}, id, to, from)
}
