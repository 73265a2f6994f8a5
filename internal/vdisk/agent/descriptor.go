package agent

import (
	"path/filepath"

	"github.com/jimyag/vdisk/internal/vdisk/config"
	"github.com/jimyag/vdisk/internal/vdisk/entity"
	"github.com/jimyag/vdisk/internal/vdisk/repository/model"
	"github.com/jimyag/vdisk/pkg/libvirt"
)

// stagingPath netfs 存储池在本机的挂载目录
func stagingPath(cfg *config.Config, storage *model.Storage) string {
	return filepath.Join(cfg.Storage.StagingDir, storage.Name)
}

// storagePoolXML 生成存储池定义
// netfs 从 address:dir 挂载到本机 staging 目录，dir 直接使用本机目录
func storagePoolXML(cfg *config.Config, storage *model.Storage) (string, error) {
	pool := &libvirt.StoragePoolXML{
		Type: string(storage.Transport),
		Name: storage.Name,
	}

	switch storage.Transport {
	case entity.StorageTransportNetfs:
		pool.Source = &libvirt.PoolSource{
			Host:   &libvirt.PoolSourceHost{Name: storage.Address},
			Dir:    &libvirt.PoolSourceDir{Path: storage.Dir},
			Format: &libvirt.PoolSourceFormat{Type: "nfs"},
		}
		pool.Target.Path = stagingPath(cfg, storage)
	default:
		pool.Target.Path = storage.Dir
	}

	return libvirt.Marshal(pool)
}

// imagesPoolXML 节点本地 images 存储池定义
func imagesPoolXML(cfg config.Node) (string, error) {
	return libvirt.Marshal(&libvirt.StoragePoolXML{
		Type:   string(entity.StorageTransportDir),
		Name:   cfg.ImagesPool,
		Target: libvirt.PoolTarget{Path: cfg.ImagesPoolPath},
	})
}

// volumeXML 生成名为 name、容量 capacity 字节的存储卷定义
func volumeXML(name, format string, capacity uint64) (string, error) {
	return libvirt.Marshal(&libvirt.VolumeXML{
		Type:       "file",
		Name:       name,
		Capacity:   libvirt.VolumeSize{Unit: "bytes", Value: capacity},
		Allocation: &libvirt.VolumeSize{Unit: "bytes", Value: 0},
		Target: libvirt.VolumeTarget{
			Format: libvirt.VolumeFormat{Type: format},
		},
	})
}
