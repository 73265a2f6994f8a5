package libvirt

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"regexp"
)

// StoragePoolXML 存储池 XML 结构
// Reference: https://libvirt.org/formatstorage.html
type StoragePoolXML struct {
	XMLName xml.Name    `xml:"pool"`
	Type    string      `xml:"type,attr"`
	Name    string      `xml:"name"`
	Source  *PoolSource `xml:"source,omitempty"`
	Target  PoolTarget  `xml:"target"`
}

// PoolSource 存储池来源，netfs 使用 host + dir
type PoolSource struct {
	Host   *PoolSourceHost   `xml:"host,omitempty"`
	Dir    *PoolSourceDir    `xml:"dir,omitempty"`
	Format *PoolSourceFormat `xml:"format,omitempty"`
}

type PoolSourceHost struct {
	Name string `xml:"name,attr"`
}

type PoolSourceDir struct {
	Path string `xml:"path,attr"`
}

type PoolSourceFormat struct {
	Type string `xml:"type,attr"`
}

// PoolTarget 存储池目标配置
type PoolTarget struct {
	Path string `xml:"path"`
}

// VolumeXML 存储卷 XML 结构
// Reference: https://libvirt.org/formatstorage.html#StorageVol
type VolumeXML struct {
	XMLName    xml.Name     `xml:"volume"`
	Type       string       `xml:"type,attr,omitempty"`
	Name       string       `xml:"name"`
	Capacity   VolumeSize   `xml:"capacity"`
	Allocation *VolumeSize  `xml:"allocation,omitempty"`
	Target     VolumeTarget `xml:"target"`
}

// VolumeSize 存储卷大小配置
type VolumeSize struct {
	Unit  string `xml:"unit,attr"`
	Value uint64 `xml:",chardata"`
}

// VolumeTarget 存储卷目标配置
type VolumeTarget struct {
	Path   string       `xml:"path,omitempty"`
	Format VolumeFormat `xml:"format"`
}

// VolumeFormat 存储卷格式配置
type VolumeFormat struct {
	Type string `xml:"type,attr"`
}

// DomainDisk domain 中的磁盘设备
type DomainDisk struct {
	XMLName xml.Name         `xml:"disk"`
	Type    string           `xml:"type,attr"`
	Device  string           `xml:"device,attr"`
	Driver  DomainDiskDriver `xml:"driver"`
	Source  DomainDiskSource `xml:"source"`
	Target  DomainDiskTarget `xml:"target"`
}

// DomainDiskDriver 磁盘驱动
type DomainDiskDriver struct {
	Name string `xml:"name,attr"`
	Type string `xml:"type,attr"`
}

// DomainDiskSource 磁盘来源
type DomainDiskSource struct {
	Pool   string `xml:"pool,attr,omitempty"`
	Volume string `xml:"volume,attr,omitempty"`
	File   string `xml:"file,attr,omitempty"`
}

// DomainDiskTarget 磁盘在 guest 中的设备名与总线
type DomainDiskTarget struct {
	Dev string `xml:"dev,attr"`
	Bus string `xml:"bus,attr"`
}

// Marshal 序列化为带缩进的 XML
func Marshal(v any) (string, error) {
	b, err := xml.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal %T: %w", v, err)
	}
	return string(b), nil
}

var (
	volumeNameRe  = regexp.MustCompile(`(?s)<name>.*?</name>`)
	volumeOwnerRe = regexp.MustCompile(`(?s)\s*<owner>.*?</owner>`)
	volumeGroupRe = regexp.MustCompile(`(?s)\s*<group>.*?</group>`)
)

// RenameVolumeXML 把卷描述中的名称换成 name，并去掉宿主机相关的 owner/group
// 其余字段（容量、格式、权限模式）保持原样，用于 CloneVolume
func RenameVolumeXML(xmlDesc, name string) string {
	replaced := false
	out := volumeNameRe.ReplaceAllStringFunc(xmlDesc, func(m string) string {
		if replaced {
			return m
		}
		replaced = true
		var buf bytes.Buffer
		buf.WriteString("<name>")
		_ = xml.EscapeText(&buf, []byte(name))
		buf.WriteString("</name>")
		return buf.String()
	})
	out = volumeOwnerRe.ReplaceAllString(out, "")
	out = volumeGroupRe.ReplaceAllString(out, "")
	return out
}

// extractPoolPath 从 pool XML 中提取 target 路径
func extractPoolPath(xmlDesc string) string {
	var pool StoragePoolXML
	if err := xml.Unmarshal([]byte(xmlDesc), &pool); err != nil {
		return ""
	}
	return pool.Target.Path
}

// extractVolumeFormat 从 volume XML 中提取格式
func extractVolumeFormat(xmlDesc string) string {
	var vol VolumeXML
	if err := xml.Unmarshal([]byte(xmlDesc), &vol); err != nil {
		return ""
	}
	return vol.Target.Format.Type
}
