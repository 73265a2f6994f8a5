package libvirt

import (
	"context"
	"io"
	"time"

	"github.com/digitalocean/go-libvirt"
	"github.com/stretchr/testify/mock"
)

// MockClient 是 LibvirtClient 的 mock 实现
// 用于测试，不需要真实的 libvirt 连接
type MockClient struct {
	mock.Mock
}

var _ LibvirtClient = (*MockClient)(nil)

// NewMockClient 创建新的 MockClient
func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

// Storage Pool 操作
func (m *MockClient) GetStoragePool(poolName string) (*StoragePoolInfo, error) {
	args := m.Called(poolName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*StoragePoolInfo), args.Error(1)
}

func (m *MockClient) DefineStoragePool(xmlDesc string) error {
	args := m.Called(xmlDesc)
	return args.Error(0)
}

func (m *MockClient) BuildStoragePool(poolName string) error {
	args := m.Called(poolName)
	return args.Error(0)
}

func (m *MockClient) StartStoragePool(poolName string) error {
	args := m.Called(poolName)
	return args.Error(0)
}

func (m *MockClient) StopStoragePool(poolName string) error {
	args := m.Called(poolName)
	return args.Error(0)
}

func (m *MockClient) UndefineStoragePool(poolName string) error {
	args := m.Called(poolName)
	return args.Error(0)
}

func (m *MockClient) RefreshStoragePool(poolName string) error {
	args := m.Called(poolName)
	return args.Error(0)
}

func (m *MockClient) SetStoragePoolAutostart(poolName string, autostart bool) error {
	args := m.Called(poolName, autostart)
	return args.Error(0)
}

// Storage Volume 操作
func (m *MockClient) GetVolume(poolName, volumeName string) (*VolumeInfo, error) {
	args := m.Called(poolName, volumeName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*VolumeInfo), args.Error(1)
}

func (m *MockClient) GetVolumeXMLDesc(poolName, volumeName string) (string, error) {
	args := m.Called(poolName, volumeName)
	return args.String(0), args.Error(1)
}

func (m *MockClient) CreateVolumeXML(poolName, xmlDesc string) (*VolumeInfo, error) {
	args := m.Called(poolName, xmlDesc)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*VolumeInfo), args.Error(1)
}

func (m *MockClient) CloneVolume(poolName, xmlDesc, srcPoolName, srcVolumeName string) (*VolumeInfo, error) {
	args := m.Called(poolName, xmlDesc, srcPoolName, srcVolumeName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*VolumeInfo), args.Error(1)
}

// UploadVolume 会读完 r，便于测试检查上传的内容
func (m *MockClient) UploadVolume(poolName, volumeName string, r io.Reader, offset, length uint64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	args := m.Called(poolName, volumeName, data, offset, length)
	return args.Error(0)
}

func (m *MockClient) ResizeVolume(poolName, volumeName string, capacityB uint64) error {
	args := m.Called(poolName, volumeName, capacityB)
	return args.Error(0)
}

func (m *MockClient) DeleteVolume(poolName, volumeName string) error {
	args := m.Called(poolName, volumeName)
	return args.Error(0)
}

// Domain 操作
func (m *MockClient) GetDomainByName(name string) (libvirt.Domain, error) {
	args := m.Called(name)
	if args.Get(0) == nil {
		return libvirt.Domain{}, args.Error(1)
	}
	return args.Get(0).(libvirt.Domain), args.Error(1)
}

func (m *MockClient) GetDomainState(domain libvirt.Domain) (uint8, uint32, error) {
	args := m.Called(domain)
	return args.Get(0).(uint8), args.Get(1).(uint32), args.Error(2)
}

func (m *MockClient) DefineDomain(xmlDesc string) error {
	args := m.Called(xmlDesc)
	return args.Error(0)
}

// Node 操作
func (m *MockClient) SuspendForDuration(duration time.Duration) error {
	args := m.Called(duration)
	return args.Error(0)
}

// MockDialer 是 Dialer 的 mock 实现
type MockDialer struct {
	mock.Mock
}

var _ Dialer = (*MockDialer)(nil)

func (m *MockDialer) Dial(ctx context.Context, uri string) (LibvirtClient, error) {
	args := m.Called(ctx, uri)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(LibvirtClient), args.Error(1)
}
