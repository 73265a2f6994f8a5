package model

import (
	"time"

	"github.com/jimyag/vdisk/internal/vdisk/entity"
)

// Storage 存储池表
type Storage struct {
	ID         string                  `gorm:"primaryKey;type:text;column:id" json:"id"`
	Name       string                  `gorm:"type:text;not null;uniqueIndex:idx_storages_name;column:name" json:"name"` // 同时是 libvirt pool 名称
	Transport  entity.StorageTransport `gorm:"type:text;not null;column:transport" json:"transport"`                     // netfs, dir
	Address    string                  `gorm:"type:text;column:address" json:"address"`                                  // netfs 服务器地址
	Dir        string                  `gorm:"type:text;not null;column:dir" json:"dir"`                                 // netfs 导出目录或本地目录
	CapacityMB int64                   `gorm:"type:integer;column:capacity_mb" json:"capacityMB"`
	State      entity.StorageState     `gorm:"type:text;not null;index:idx_storages_state;column:state" json:"state"` // disabled, locked, ok
	CreatedAt  time.Time               `gorm:"type:datetime;not null;column:created_at" json:"created_at"`
	UpdatedAt  time.Time               `gorm:"type:datetime;not null;column:updated_at" json:"updated_at"`
}

// TableName 指定表名
func (Storage) TableName() string {
	return "storages"
}
