package model

import (
	"time"

	"github.com/jimyag/vdisk/internal/vdisk/entity"
)

// Node 节点表
type Node struct {
	ID         string           `gorm:"primaryKey;type:text;column:id" json:"id"`
	Address    string           `gorm:"type:text;not null;column:address" json:"address"`
	LibvirtURI string           `gorm:"type:text;column:libvirt_uri" json:"libvirtURI"` // 为空时由地址和 uri 模板生成
	State      entity.NodeState `gorm:"type:text;not null;index:idx_nodes_state;column:state" json:"state"`
	MAC        string           `gorm:"type:text;column:mac" json:"mac"` // suspend 时从邻居表获取
	CreatedAt  time.Time        `gorm:"type:datetime;not null;column:created_at" json:"created_at"`
	UpdatedAt  time.Time        `gorm:"type:datetime;not null;column:updated_at" json:"updated_at"`
}

// TableName 指定表名
func (Node) TableName() string {
	return "nodes"
}
