package qemuimg

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockClient 是 QemuImgClient 的 mock 实现
// 用于测试，不需要真实的 qemu-img 命令
type MockClient struct {
	mock.Mock
}

var _ QemuImgClient = (*MockClient)(nil)

// NewMockClient 创建新的 MockClient
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Rebase 实现 QemuImgClient 接口
func (m *MockClient) Rebase(ctx context.Context, format, imagePath string) error {
	args := m.Called(ctx, format, imagePath)
	return args.Error(0)
}
