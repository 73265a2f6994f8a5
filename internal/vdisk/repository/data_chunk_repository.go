package repository

import (
	"context"

	"github.com/jimyag/vdisk/internal/vdisk/repository/model"
	"gorm.io/gorm"
)

// DataChunkRepository 数据块缓存仓库接口
type DataChunkRepository interface {
	Create(ctx context.Context, chunk *model.DataChunk) error
	Get(ctx context.Context, cacheKey string) (*model.DataChunk, error)
	Delete(ctx context.Context, cacheKey string) error
}

type dataChunkRepository struct {
	db *gorm.DB
}

// NewDataChunkRepository 创建数据块仓库
func NewDataChunkRepository(db *gorm.DB) DataChunkRepository {
	return &dataChunkRepository{db: db}
}

// Create 缓存数据块
func (r *dataChunkRepository) Create(ctx context.Context, chunk *model.DataChunk) error {
	return r.db.WithContext(ctx).Create(chunk).Error
}

// Get 根据 key 获取数据块
func (r *dataChunkRepository) Get(ctx context.Context, cacheKey string) (*model.DataChunk, error) {
	var chunk model.DataChunk
	if err := r.db.WithContext(ctx).Where("cache_key = ?", cacheKey).First(&chunk).Error; err != nil {
		return nil, err
	}
	return &chunk, nil
}

// Delete 删除数据块
func (r *dataChunkRepository) Delete(ctx context.Context, cacheKey string) error {
	return r.db.WithContext(ctx).Where("cache_key = ?", cacheKey).Delete(&model.DataChunk{}).Error
}
