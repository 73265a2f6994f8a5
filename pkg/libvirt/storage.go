package libvirt

import (
	"fmt"
	"io"

	"github.com/digitalocean/go-libvirt"
)

// StoragePoolInfo 存储池信息
type StoragePoolInfo struct {
	Name        string
	State       string
	CapacityB   uint64
	AllocationB uint64
	AvailableB  uint64
	Path        string
}

// Running 存储池是否处于运行状态
func (p *StoragePoolInfo) Running() bool {
	return p != nil && p.State == PoolStateActive
}

// VolumeInfo 存储卷信息
type VolumeInfo struct {
	Name        string
	Path        string
	CapacityB   uint64
	AllocationB uint64
	Format      string
}

const (
	PoolStateInactive     = "Inactive"
	PoolStateBuilding     = "Building"
	PoolStateActive       = "Active"
	PoolStateDegraded     = "Degraded"
	PoolStateInaccessible = "Inaccessible"
	PoolStateUnknown      = "Unknown"
)

// mapStoragePoolState 将 libvirt 的 pool 状态转换为字符串
func mapStoragePoolState(s uint8) string {
	switch libvirt.StoragePoolState(s) {
	case libvirt.StoragePoolInactive:
		return PoolStateInactive
	case libvirt.StoragePoolBuilding:
		return PoolStateBuilding
	case libvirt.StoragePoolRunning:
		return PoolStateActive
	case libvirt.StoragePoolDegraded:
		return PoolStateDegraded
	case libvirt.StoragePoolInaccessible:
		return PoolStateInaccessible
	default:
		return PoolStateUnknown
	}
}

func (c *Client) lookupPool(poolName string) (libvirt.StoragePool, error) {
	pool, err := c.conn.StoragePoolLookupByName(poolName)
	if err != nil {
		return libvirt.StoragePool{}, fmt.Errorf("lookup storage pool %s: %w", poolName, err)
	}
	return pool, nil
}

func (c *Client) lookupVolume(poolName, volumeName string) (libvirt.StorageVol, error) {
	pool, err := c.lookupPool(poolName)
	if err != nil {
		return libvirt.StorageVol{}, err
	}
	vol, err := c.conn.StorageVolLookupByName(pool, volumeName)
	if err != nil {
		return libvirt.StorageVol{}, fmt.Errorf("lookup volume %s/%s: %w", poolName, volumeName, err)
	}
	return vol, nil
}

// GetStoragePool 获取存储池信息
func (c *Client) GetStoragePool(poolName string) (*StoragePoolInfo, error) {
	pool, err := c.lookupPool(poolName)
	if err != nil {
		return nil, err
	}

	state, capacity, allocation, available, err := c.conn.StoragePoolGetInfo(pool)
	if err != nil {
		return nil, fmt.Errorf("get pool info: %w", err)
	}

	// 获取 pool 路径
	xmlDesc, err := c.conn.StoragePoolGetXMLDesc(pool, 0)
	if err != nil {
		return nil, fmt.Errorf("get pool XML: %w", err)
	}

	return &StoragePoolInfo{
		Name:        poolName,
		State:       mapStoragePoolState(state),
		CapacityB:   capacity,
		AllocationB: allocation,
		AvailableB:  available,
		Path:        extractPoolPath(xmlDesc),
	}, nil
}

// DefineStoragePool 用 XML 定义存储池，不构建也不启动
func (c *Client) DefineStoragePool(xmlDesc string) error {
	if _, err := c.conn.StoragePoolDefineXML(xmlDesc, 0); err != nil {
		return fmt.Errorf("define storage pool: %w", err)
	}
	return nil
}

// BuildStoragePool 构建存储池（创建目录结构等）
func (c *Client) BuildStoragePool(poolName string) error {
	pool, err := c.lookupPool(poolName)
	if err != nil {
		return err
	}
	if err := c.conn.StoragePoolBuild(pool, libvirt.StoragePoolBuildNew); err != nil {
		return fmt.Errorf("build storage pool %s: %w", poolName, err)
	}
	return nil
}

// StartStoragePool 启动存储池
func (c *Client) StartStoragePool(poolName string) error {
	pool, err := c.lookupPool(poolName)
	if err != nil {
		return err
	}
	if err := c.conn.StoragePoolCreate(pool, libvirt.StoragePoolCreateNormal); err != nil {
		return fmt.Errorf("start storage pool %s: %w", poolName, err)
	}
	return nil
}

// StopStoragePool 停止存储池
func (c *Client) StopStoragePool(poolName string) error {
	pool, err := c.lookupPool(poolName)
	if err != nil {
		return err
	}
	if err := c.conn.StoragePoolDestroy(pool); err != nil {
		return fmt.Errorf("stop storage pool %s: %w", poolName, err)
	}
	return nil
}

// UndefineStoragePool 取消定义存储池，不删除目录和卷
func (c *Client) UndefineStoragePool(poolName string) error {
	pool, err := c.lookupPool(poolName)
	if err != nil {
		return err
	}
	if err := c.conn.StoragePoolUndefine(pool); err != nil {
		return fmt.Errorf("undefine storage pool %s: %w", poolName, err)
	}
	return nil
}

// RefreshStoragePool 刷新存储池
func (c *Client) RefreshStoragePool(poolName string) error {
	pool, err := c.lookupPool(poolName)
	if err != nil {
		return err
	}
	if err := c.conn.StoragePoolRefresh(pool, 0); err != nil {
		return fmt.Errorf("refresh storage pool %s: %w", poolName, err)
	}
	return nil
}

// SetStoragePoolAutostart 设置存储池是否随 libvirtd 自动启动
func (c *Client) SetStoragePoolAutostart(poolName string, autostart bool) error {
	pool, err := c.lookupPool(poolName)
	if err != nil {
		return err
	}
	var flag int32
	if autostart {
		flag = 1
	}
	if err := c.conn.StoragePoolSetAutostart(pool, flag); err != nil {
		return fmt.Errorf("set storage pool %s autostart: %w", poolName, err)
	}
	return nil
}

// GetVolume 获取存储卷信息
func (c *Client) GetVolume(poolName, volumeName string) (*VolumeInfo, error) {
	vol, err := c.lookupVolume(poolName, volumeName)
	if err != nil {
		return nil, err
	}
	return c.volumeInfo(vol)
}

func (c *Client) volumeInfo(vol libvirt.StorageVol) (*VolumeInfo, error) {
	path, err := c.conn.StorageVolGetPath(vol)
	if err != nil {
		return nil, fmt.Errorf("get volume path: %w", err)
	}

	_, capacity, allocation, err := c.conn.StorageVolGetInfo(vol)
	if err != nil {
		return nil, fmt.Errorf("get volume info: %w", err)
	}

	xmlDesc, err := c.conn.StorageVolGetXMLDesc(vol, 0)
	if err != nil {
		return nil, fmt.Errorf("get volume XML: %w", err)
	}

	return &VolumeInfo{
		Name:        vol.Name,
		Path:        path,
		CapacityB:   capacity,
		AllocationB: allocation,
		Format:      extractVolumeFormat(xmlDesc),
	}, nil
}

// GetVolumeXMLDesc 返回存储卷的 XML 描述
func (c *Client) GetVolumeXMLDesc(poolName, volumeName string) (string, error) {
	vol, err := c.lookupVolume(poolName, volumeName)
	if err != nil {
		return "", err
	}
	xmlDesc, err := c.conn.StorageVolGetXMLDesc(vol, 0)
	if err != nil {
		return "", fmt.Errorf("get volume XML: %w", err)
	}
	return xmlDesc, nil
}

// CreateVolumeXML 在存储池中按 XML 创建存储卷
func (c *Client) CreateVolumeXML(poolName, xmlDesc string) (*VolumeInfo, error) {
	pool, err := c.lookupPool(poolName)
	if err != nil {
		return nil, err
	}
	vol, err := c.conn.StorageVolCreateXML(pool, xmlDesc, 0)
	if err != nil {
		return nil, fmt.Errorf("create volume in %s: %w", poolName, err)
	}
	return c.volumeInfo(vol)
}

// CloneVolume 以 srcPoolName/srcVolumeName 为源，在 poolName 中按 XML 克隆出新卷
// 源卷和目标池可以位于不同的存储池
func (c *Client) CloneVolume(poolName, xmlDesc, srcPoolName, srcVolumeName string) (*VolumeInfo, error) {
	src, err := c.lookupVolume(srcPoolName, srcVolumeName)
	if err != nil {
		return nil, err
	}
	pool, err := c.lookupPool(poolName)
	if err != nil {
		return nil, err
	}
	vol, err := c.conn.StorageVolCreateXMLFrom(pool, xmlDesc, src, 0)
	if err != nil {
		return nil, fmt.Errorf("clone volume %s/%s into %s: %w", srcPoolName, srcVolumeName, poolName, err)
	}
	return c.volumeInfo(vol)
}

// UploadVolume 把 r 中 length 字节写入存储卷的 offset 处
func (c *Client) UploadVolume(poolName, volumeName string, r io.Reader, offset, length uint64) error {
	vol, err := c.lookupVolume(poolName, volumeName)
	if err != nil {
		return err
	}
	if err := c.conn.StorageVolUpload(vol, r, offset, length, 0); err != nil {
		return fmt.Errorf("upload %d bytes at %d to %s/%s: %w", length, offset, poolName, volumeName, err)
	}
	return nil
}

// ResizeVolume 调整存储卷容量
func (c *Client) ResizeVolume(poolName, volumeName string, capacityB uint64) error {
	vol, err := c.lookupVolume(poolName, volumeName)
	if err != nil {
		return err
	}
	if err := c.conn.StorageVolResize(vol, capacityB, 0); err != nil {
		return fmt.Errorf("resize volume %s/%s: %w", poolName, volumeName, err)
	}
	return nil
}

// DeleteVolume 删除存储卷
func (c *Client) DeleteVolume(poolName, volumeName string) error {
	vol, err := c.lookupVolume(poolName, volumeName)
	if err != nil {
		return err
	}
	if err := c.conn.StorageVolDelete(vol, libvirt.StorageVolDeleteNormal); err != nil {
		return fmt.Errorf("delete volume %s/%s: %w", poolName, volumeName, err)
	}
	return nil
}
