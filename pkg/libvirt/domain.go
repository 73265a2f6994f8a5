package libvirt

import (
	"fmt"
	"time"

	"github.com/digitalocean/go-libvirt"
)

// GetDomainByName 按名称查找 domain
func (c *Client) GetDomainByName(name string) (libvirt.Domain, error) {
	domain, err := c.conn.DomainLookupByName(name)
	if err != nil {
		return libvirt.Domain{}, fmt.Errorf("lookup domain %s: %w", name, err)
	}
	return domain, nil
}

// GetDomainState 返回 domain 的状态和原因
func (c *Client) GetDomainState(domain libvirt.Domain) (uint8, uint32, error) {
	state, reason, err := c.conn.DomainGetState(domain, 0)
	if err != nil {
		return 0, 0, fmt.Errorf("get domain state %s: %w", domain.Name, err)
	}
	return uint8(state), uint32(reason), nil
}

// IsRunning 判断 GetDomainState 返回的状态是否为运行中
func IsRunning(state uint8) bool {
	return libvirt.DomainState(state) == libvirt.DomainRunning
}

// DefineDomain 使用 XML 定义（或重新定义）domain
func (c *Client) DefineDomain(xmlDesc string) error {
	if _, err := c.conn.DomainDefineXML(xmlDesc); err != nil {
		return fmt.Errorf("define domain: %w", err)
	}
	return nil
}

// SuspendForDuration 让宿主机挂起到内存，duration 后由 RTC 唤醒
func (c *Client) SuspendForDuration(duration time.Duration) error {
	seconds := uint64(duration / time.Second)
	if err := c.conn.NodeSuspendForDuration(uint32(libvirt.NodeSuspendTargetMem), seconds, 0); err != nil {
		return fmt.Errorf("suspend node for %s: %w", duration, err)
	}
	return nil
}
