package entity

import "time"

// NodeState 节点状态
type NodeState string

const (
	NodeStateOffline NodeState = "offline" // 离线
	NodeStateOK      NodeState = "ok"      // 在线可用
	NodeStateLocked  NodeState = "locked"  // 正在操作
	NodeStateSuspend NodeState = "suspend" // 已挂起到内存
)

// In 判断状态是否属于 states 之一
func (s NodeState) In(states ...NodeState) bool {
	return in(s, states)
}

// Node 节点信息
type Node struct {
	ID         string    `json:"id"`
	Address    string    `json:"address"`
	LibvirtURI string    `json:"libvirt_uri,omitempty"`
	State      NodeState `json:"state"`
	MAC        string    `json:"mac,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
