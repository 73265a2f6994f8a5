package qemuimg

import (
	"context"
	"fmt"
	"os/exec"
	"time"
)

// Client 封装 qemu-img 命令行工具的操作
type Client struct {
	qemuImgPath string
	useSudo     bool
	timeout     time.Duration
}

var _ QemuImgClient = (*Client)(nil)

// New 创建新的 qemuimg client
// qemuImgPath 是 qemu-img 的路径，如果为空则使用默认的 "qemu-img"
func New(qemuImgPath string) *Client {
	if qemuImgPath == "" {
		qemuImgPath = "qemu-img"
	}
	return &Client{
		qemuImgPath: qemuImgPath,
		timeout:     10 * time.Minute,
	}
}

// WithTimeout 设置操作超时时间
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.timeout = timeout
	return c
}

// WithSudo 通过 sudo 执行 qemu-img，镜像文件通常属于 libvirt 用户
func (c *Client) WithSudo(useSudo bool) *Client {
	c.useSudo = useSudo
	return c
}

// Rebase 以 unsafe 模式把镜像的 backing file 置空
//
// 等价于：
//
//	qemu-img rebase -u -f <format> -b '' <imagePath>
func (c *Client) Rebase(ctx context.Context, format, imagePath string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	name, args := c.command("rebase", "-u", "-f", format, "-b", "", imagePath)
	cmd := exec.CommandContext(ctx, name, args...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to rebase image %s: %w, output: %s", imagePath, err, string(output))
	}

	return nil
}

func (c *Client) command(args ...string) (string, []string) {
	if c.useSudo {
		return "sudo", append([]string{c.qemuImgPath}, args...)
	}
	return c.qemuImgPath, args
}
