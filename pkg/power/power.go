// Package power 提供宿主机的连通性探测与网络唤醒
package power

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os/exec"
	"time"
)

// Prober 探测宿主机是否可达
type Prober interface {
	Probe(ctx context.Context, address string) error
}

// Waker 唤醒挂起的宿主机
type Waker interface {
	Wake(ctx context.Context, mac string) error
}

// PingProber 调用系统 ping 发一个 ICMP 包
// 除了判断可达性，也会让内核邻居表里出现该地址
type PingProber struct {
	pingPath string
	timeout  time.Duration
}

var _ Prober = (*PingProber)(nil)

// NewPingProber 创建 PingProber，pingPath 为空时使用 "ping"
func NewPingProber(pingPath string) *PingProber {
	if pingPath == "" {
		pingPath = "ping"
	}
	return &PingProber{pingPath: pingPath, timeout: 5 * time.Second}
}

// Probe 实现 Prober
func (p *PingProber) Probe(ctx context.Context, address string) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.pingPath, "-c", "1", address)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ping %s: %w, output: %s", address, err, string(output))
	}
	return nil
}

// MagicPacketWaker 通过 UDP 广播 Wake-on-LAN magic packet
type MagicPacketWaker struct {
	broadcast string
}

var _ Waker = (*MagicPacketWaker)(nil)

// NewMagicPacketWaker 创建 Waker，broadcast 为空时使用 255.255.255.255:9
func NewMagicPacketWaker(broadcast string) *MagicPacketWaker {
	if broadcast == "" {
		broadcast = "255.255.255.255:9"
	}
	return &MagicPacketWaker{broadcast: broadcast}
}

// Wake 实现 Waker
func (w *MagicPacketWaker) Wake(ctx context.Context, mac string) error {
	packet, err := BuildMagicPacket(mac)
	if err != nil {
		return err
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp4", w.broadcast)
	if err != nil {
		return fmt.Errorf("dial %s: %w", w.broadcast, err)
	}
	defer conn.Close()

	if _, err := conn.Write(packet); err != nil {
		return fmt.Errorf("send magic packet to %s: %w", mac, err)
	}
	return nil
}

// BuildMagicPacket 构造 magic packet：6 个 0xFF 后跟 16 次 MAC
func BuildMagicPacket(mac string) ([]byte, error) {
	hw, err := net.ParseMAC(mac)
	if err != nil {
		return nil, fmt.Errorf("parse mac %q: %w", mac, err)
	}
	if len(hw) != 6 {
		return nil, fmt.Errorf("parse mac %q: not an EUI-48 address", mac)
	}

	var buf bytes.Buffer
	buf.Write(bytes.Repeat([]byte{0xff}, 6))
	for i := 0; i < 16; i++ {
		buf.Write(hw)
	}
	return buf.Bytes(), nil
}
