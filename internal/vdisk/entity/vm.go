package entity

import "time"

// VMState 虚拟机状态
type VMState string

const (
	VMStateStopped  VMState = "stopped"
	VMStateStarting VMState = "starting"
	VMStateRunning  VMState = "running"
	VMStateSaving   VMState = "saving"
	VMStateClosing  VMState = "closing"
	VMStateClosed   VMState = "closed"
	VMStateFailed   VMState = "failed"
)

// In 判断状态是否属于 states 之一
func (s VMState) In(states ...VMState) bool {
	return in(s, states)
}

// VM 虚拟机信息
type VM struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	LibvirtName string    `json:"libvirt_name"`
	State       VMState   `json:"state"`
	NodeID      string    `json:"node_id"`
	TemplateID  string    `json:"template_id"`
	BaseImageID *string   `json:"base_image_id,omitempty"`
	Images      []Image   `json:"images,omitempty"`
	Devices     []Device  `json:"devices,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Device 磁盘设备
type Device struct {
	ID      string `json:"id"`
	ImageID string `json:"image_id"`
	VMID    string `json:"vm_id"`
	DiskDev int    `json:"disk_dev"`
	Name    string `json:"name"`
}

// GetVMRequest 查询虚拟机
type GetVMRequest struct {
	ID string `uri:"id" binding:"required"`
}
