package libvirt

import (
	"context"
	"io"
	"time"

	"github.com/digitalocean/go-libvirt"
)

// LibvirtClient 定义 libvirt 客户端接口
// 用于抽象 libvirt 操作，便于测试和 mock
type LibvirtClient interface {
	// 连接
	Close() error

	// Storage Pool 操作
	GetStoragePool(poolName string) (*StoragePoolInfo, error)
	DefineStoragePool(xmlDesc string) error
	BuildStoragePool(poolName string) error
	StartStoragePool(poolName string) error
	StopStoragePool(poolName string) error
	UndefineStoragePool(poolName string) error
	RefreshStoragePool(poolName string) error
	SetStoragePoolAutostart(poolName string, autostart bool) error

	// Storage Volume 操作
	GetVolume(poolName, volumeName string) (*VolumeInfo, error)
	GetVolumeXMLDesc(poolName, volumeName string) (string, error)
	CreateVolumeXML(poolName, xmlDesc string) (*VolumeInfo, error)
	CloneVolume(poolName, xmlDesc, srcPoolName, srcVolumeName string) (*VolumeInfo, error)
	UploadVolume(poolName, volumeName string, r io.Reader, offset, length uint64) error
	ResizeVolume(poolName, volumeName string, capacityB uint64) error
	DeleteVolume(poolName, volumeName string) error

	// Domain 操作
	GetDomainByName(name string) (libvirt.Domain, error)
	GetDomainState(domain libvirt.Domain) (uint8, uint32, error)
	DefineDomain(xmlDesc string) error

	// Node 操作
	SuspendForDuration(duration time.Duration) error
}

// Dialer 打开到指定 URI 的 libvirt 连接
// 每个任务独占一个连接，用完由调用方 Close
type Dialer interface {
	Dial(ctx context.Context, uri string) (LibvirtClient, error)
}
