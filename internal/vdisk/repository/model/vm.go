package model

import (
	"time"

	"github.com/jimyag/vdisk/internal/vdisk/entity"
)

// VM 虚拟机表
type VM struct {
	ID            string         `gorm:"primaryKey;type:text;column:id" json:"id"`
	Name          string         `gorm:"type:text;not null;column:name" json:"name"`
	LibvirtName   string         `gorm:"type:text;not null;column:libvirt_name" json:"libvirtName"` // libvirt domain 名称
	State         entity.VMState `gorm:"type:text;not null;index:idx_vms_state;column:state" json:"state"`
	NodeID        string         `gorm:"type:text;not null;index:idx_vms_node_id;column:node_id" json:"nodeID"`         // 关联 nodes.id
	TemplateID    string         `gorm:"type:text;not null;column:template_id" json:"templateID"`                       // 关联 templates.id
	BaseImageID   *string        `gorm:"type:text;index:idx_vms_base_image_id;column:base_image_id" json:"baseImageID"` // 启动所用的基础镜像
	DefinitionXML string         `gorm:"type:text;column:definition_xml" json:"definitionXML"`                          // domain XML，不含附加磁盘
	CreatedAt     time.Time      `gorm:"type:datetime;not null;column:created_at" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"type:datetime;not null;column:updated_at" json:"updated_at"`
}

// TableName 指定表名
func (VM) TableName() string {
	return "vms"
}

// Template 虚拟机模板表
type Template struct {
	ID        string    `gorm:"primaryKey;type:text;column:id" json:"id"`
	Name      string    `gorm:"type:text;not null;column:name" json:"name"`
	HDD       int64     `gorm:"type:integer;not null;column:hdd" json:"hdd"` // 磁盘配额 MB
	Memory    int64     `gorm:"type:integer;not null;column:memory" json:"memory"`
	CPU       int       `gorm:"type:integer;not null;column:cpu" json:"cpu"`
	CreatedAt time.Time `gorm:"type:datetime;not null;column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:datetime;not null;column:updated_at" json:"updated_at"`
}

// TableName 指定表名
func (Template) TableName() string {
	return "templates"
}

// HDDBytes 返回磁盘配额字节数
func (t *Template) HDDBytes() int64 {
	return t.HDD * 1024 * 1024
}
