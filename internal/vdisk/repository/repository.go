// Package repository 提供数据持久化层实现
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jimyag/vdisk/internal/vdisk/repository/model"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite" // 纯 Go SQLite 驱动，不需要 CGO
)

// ErrStateConflict 状态条件更新没有命中任何行，说明记录已被其他任务改动
var ErrStateConflict = errors.New("state conflict")

// IsNotFound 判断是否为记录不存在
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// Repository 数据库仓库
type Repository struct {
	db *gorm.DB
}

// New 创建新的 Repository 实例
func New(dbPath string) (*Repository, error) {
	// 确保数据库目录存在
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// 直接使用 database/sql + modernc.org/sqlite 创建连接，然后传递给 GORM
	sqlDB, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db, err := gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        dbPath,
		Conn:       sqlDB,
	}, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("open gorm database: %w", err)
	}

	// 自动迁移
	if err := db.AutoMigrate(
		&model.Storage{},
		&model.Image{},
		&model.Node{},
		&model.VM{},
		&model.Template{},
		&model.Device{},
		&model.DataChunk{},
		&model.Task{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &Repository{db: db}, nil
}

// DB 返回 GORM 数据库实例（用于 Repository 实现）
func (r *Repository) DB() *gorm.DB {
	return r.db
}

// WithContext 返回带上下文的数据库实例
func (r *Repository) WithContext(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx)
}

// Close 关闭数据库连接
func (r *Repository) Close() error {
	if r.db == nil {
		return nil
	}
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Store 汇总所有实体仓库，agent 和 worker 只依赖它
type Store struct {
	Storages   StorageRepository
	Images     ImageRepository
	Nodes      NodeRepository
	VMs        VMRepository
	Templates  TemplateRepository
	Devices    DeviceRepository
	DataChunks DataChunkRepository
	Tasks      TaskRepository
}

// NewStore 基于同一个数据库创建所有仓库
func NewStore(repo *Repository) *Store {
	db := repo.DB()
	return &Store{
		Storages:   NewStorageRepository(db),
		Images:     NewImageRepository(db),
		Nodes:      NewNodeRepository(db),
		VMs:        NewVMRepository(db),
		Templates:  NewTemplateRepository(db),
		Devices:    NewDeviceRepository(db),
		DataChunks: NewDataChunkRepository(db),
		Tasks:      NewTaskRepository(db),
	}
}

// compareAndSwapState 把 id 行的 state 改为 to，仅当当前 state 属于 from
// from 为空时无条件更新；没有命中行时区分记录不存在和状态冲突
func compareAndSwapState[S ~string](ctx context.Context, db *gorm.DB, table any, id string, to S, from []S) error {
	query := db.WithContext(ctx).Model(table).Where("id = ?", id)
	if len(from) > 0 {
		expected := make([]string, len(from))
		for i, s := range from {
			expected[i] = string(s)
		}
		query = query.Where("state IN ?", expected)
	}

	result := query.Update("state", string(to))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := db.WithContext(ctx).Model(table).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return gorm.ErrRecordNotFound
	}
	if len(from) == 0 {
		// 状态本来就是 to
		return nil
	}
	return fmt.Errorf("%w: %s not in %v", ErrStateConflict, id, from)
}
