package entity

import "time"

// StorageState 存储池状态
type StorageState string

const (
	StorageStateDisabled StorageState = "disabled" // 管理员停用，不会被挂载
	StorageStateLocked   StorageState = "locked"   // 正在操作或已降级
	StorageStateOK       StorageState = "ok"       // 可用
)

// In 判断状态是否属于 states 之一
func (s StorageState) In(states ...StorageState) bool {
	return in(s, states)
}

// StorageTransport 存储池传输类型，对应 libvirt pool type
type StorageTransport string

const (
	StorageTransportNetfs StorageTransport = "netfs"
	StorageTransportDir   StorageTransport = "dir"
)

// Storage 存储池信息
type Storage struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Transport  StorageTransport `json:"transport"`
	Address    string           `json:"address"`
	Dir        string           `json:"dir"`
	CapacityMB int64            `json:"capacity_mb"`
	State      StorageState     `json:"state"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

func in[S ~string](s S, states []S) bool {
	for _, st := range states {
		if s == st {
			return true
		}
	}
	return false
}
