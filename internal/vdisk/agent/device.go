package agent

import (
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/jimyag/vdisk/internal/vdisk/repository/model"
	"github.com/jimyag/vdisk/pkg/libvirt"
)

// MaxDiskDev 最大槽位，对应 sdz
const MaxDiskDev = 'z' - 'a'

// NextDiskDev 返回不在 occupied 中的最小槽位，槽位从 1 开始，0 留给系统盘
func NextDiskDev(occupied []int) int {
	dev := 1
	for slices.Contains(occupied, dev) {
		dev++
	}
	return dev
}

// DeviceName 槽位对应的 guest 设备名，1 -> sdb
func DeviceName(diskDev int) string {
	return "sd" + string(rune('a'+diskDev))
}

// renderDiskXML 生成挂载到虚拟机的 <disk> 片段
func renderDiskXML(poolPath string, image *model.Image, dev string) (string, error) {
	return libvirt.Marshal(&libvirt.DomainDisk{
		Type:   "file",
		Device: "disk",
		Driver: libvirt.DomainDiskDriver{Name: "qemu", Type: image.Format},
		Source: libvirt.DomainDiskSource{File: path.Join(poolPath, image.LibvirtName)},
		Target: libvirt.DomainDiskTarget{Dev: dev, Bus: "scsi"},
	})
}

// injectDevices 把设备片段插入 domain 定义的 </devices> 之前
func injectDevices(definition string, devices []*model.Device) (string, error) {
	idx := strings.LastIndex(definition, "</devices>")
	if idx < 0 {
		return "", fmt.Errorf("domain definition has no <devices> section")
	}

	var b strings.Builder
	b.WriteString(definition[:idx])
	for _, d := range devices {
		b.WriteString(d.XML)
		b.WriteString("\n")
	}
	b.WriteString(definition[idx:])
	return b.String(), nil
}
