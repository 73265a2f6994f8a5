package model

import "time"

// Device 磁盘设备表，记录镜像挂载到虚拟机的槽位
type Device struct {
	ID        string    `gorm:"primaryKey;type:text;column:id" json:"id"`
	ImageID   string    `gorm:"type:text;not null;index:idx_devices_image_id;column:image_id" json:"imageID"`         // 关联 images.id
	VMID      string    `gorm:"type:text;not null;uniqueIndex:idx_devices_vm_slot;column:vm_id" json:"vmID"`          // 关联 vms.id
	DiskDev   int       `gorm:"type:integer;not null;uniqueIndex:idx_devices_vm_slot;column:disk_dev" json:"diskDev"` // 同一虚拟机内唯一
	Name      string    `gorm:"type:text;not null;column:name" json:"name"`                                           // sdb, sdc 等
	XML       string    `gorm:"type:text;not null;column:xml" json:"xml"`                                             // <disk> 片段
	CreatedAt time.Time `gorm:"type:datetime;not null;column:created_at" json:"created_at"`
}

// TableName 指定表名
func (Device) TableName() string {
	return "devices"
}
