// Package neighbor 从本机邻居表（ARP 缓存）查询 IP 对应的硬件地址
package neighbor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/vishvananda/netlink"
)

// ErrNotFound 邻居表中没有该地址
var ErrNotFound = errors.New("neighbor not found")

// Lookup 按 IP 查找 MAC
type Lookup interface {
	HardwareAddr(ctx context.Context, address string) (string, error)
}

// Netlink 通过 netlink 读取内核邻居表，失败时退回 /proc/net/arp
type Netlink struct {
	procNetARP string
}

var _ Lookup = (*Netlink)(nil)

// NewNetlink 创建基于 netlink 的查找器
func NewNetlink() *Netlink {
	return &Netlink{procNetARP: "/proc/net/arp"}
}

// HardwareAddr 实现 Lookup
func (n *Netlink) HardwareAddr(ctx context.Context, address string) (string, error) {
	ip, err := resolve(ctx, address)
	if err != nil {
		return "", err
	}

	neighs, err := netlink.NeighList(0, netlink.FAMILY_V4)
	if err == nil {
		for _, neigh := range neighs {
			if neigh.IP.Equal(ip) && len(neigh.HardwareAddr) > 0 {
				return neigh.HardwareAddr.String(), nil
			}
		}
	}

	data, ferr := os.ReadFile(n.procNetARP)
	if ferr != nil {
		if err != nil {
			return "", fmt.Errorf("list neighbors: %w", errors.Join(err, ferr))
		}
		return "", ErrNotFound
	}
	if mac := parseProcNetARP(data, ip); mac != "" {
		return mac, nil
	}
	return "", ErrNotFound
}

func resolve(ctx context.Context, address string) (net.IP, error) {
	if ip := net.ParseIP(address); ip != nil {
		return ip, nil
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", address, err)
	}
	for _, a := range addrs {
		if v4 := a.IP.To4(); v4 != nil {
			return v4, nil
		}
	}
	return nil, fmt.Errorf("resolve %s: no ipv4 address", address)
}

// parseProcNetARP 解析 /proc/net/arp，第一行为表头
//
//	IP address       HW type     Flags       HW address            Mask     Device
//	10.0.0.7         0x1         0x2         52:54:00:aa:bb:cc     *        br0
func parseProcNetARP(out []byte, ip net.IP) string {
	lines := bytes.Split(out, []byte("\n"))
	for i, line := range lines {
		if i == 0 {
			continue
		}
		fields := strings.Fields(string(line))
		if len(fields) < 4 {
			continue
		}
		if !ip.Equal(net.ParseIP(fields[0])) {
			continue
		}
		// 未完成解析的条目 MAC 为全零
		if fields[3] == "00:00:00:00:00:00" {
			continue
		}
		return strings.ToLower(fields[3])
	}
	return ""
}

// Static 固定映射，用于测试或没有邻居表的环境
type Static map[string]string

var _ Lookup = Static(nil)

// HardwareAddr 实现 Lookup
func (s Static) HardwareAddr(_ context.Context, address string) (string, error) {
	if mac, ok := s[address]; ok {
		return mac, nil
	}
	return "", ErrNotFound
}
