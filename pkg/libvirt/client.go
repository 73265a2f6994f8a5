package libvirt

import (
	"context"
	"fmt"
	"net/url"

	"github.com/digitalocean/go-libvirt"
)

type Client struct {
	conn *libvirt.Libvirt
}

var _ LibvirtClient = (*Client)(nil)

// New 连接本地 qemu:///system
func New() (*Client, error) {
	return NewWithURI(string(libvirt.QEMUSystem))
}

// NewWithURI 使用指定 URI 建立连接，例如 qemu+tcp://10.0.0.2/system
func NewWithURI(uri string) (*Client, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("parse libvirt uri %q: %w", uri, err)
	}

	l, err := libvirt.ConnectToURI(u)
	if err != nil {
		return nil, fmt.Errorf("failed to connect %s: %w", uri, err)
	}

	return &Client{conn: l}, nil
}

// Close 断开连接
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Disconnect()
}

// URIDialer 每次 Dial 都建立新的 libvirt 连接
type URIDialer struct{}

var _ Dialer = URIDialer{}

// Dial 实现 Dialer
func (URIDialer) Dial(ctx context.Context, uri string) (LibvirtClient, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return NewWithURI(uri)
}
