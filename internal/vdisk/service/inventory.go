package service

import (
	"context"
	"fmt"

	"github.com/jimyag/vdisk/internal/vdisk/entity"
	"github.com/jimyag/vdisk/internal/vdisk/repository"
)

// InventoryService 只读查询存储池、节点和虚拟机
type InventoryService struct {
	store *repository.Store
}

// NewInventoryService 创建 InventoryService
func NewInventoryService(store *repository.Store) *InventoryService {
	return &InventoryService{store: store}
}

func (s *InventoryService) ListStorages(ctx context.Context) ([]entity.Storage, error) {
	storages, err := s.store.Storages.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list storages: %w", err)
	}
	return toEntities[entity.Storage](storages)
}

func (s *InventoryService) ListNodes(ctx context.Context) ([]entity.Node, error) {
	nodes, err := s.store.Nodes.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	return toEntities[entity.Node](nodes)
}

// GetVM 查询虚拟机及挂载的镜像和磁盘设备
func (s *InventoryService) GetVM(ctx context.Context, id string) (*entity.VM, error) {
	m, err := s.store.VMs.GetByID(ctx, id)
	if err != nil {
		return nil, lookupError("vm", id, err)
	}
	vm, err := toEntity[entity.VM](m)
	if err != nil {
		return nil, err
	}

	images, err := s.store.Images.ListAttachedTo(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list images of vm %s: %w", id, err)
	}
	if vm.Images, err = toEntities[entity.Image](images); err != nil {
		return nil, err
	}

	devices, err := s.store.Devices.ListByVM(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list devices of vm %s: %w", id, err)
	}
	if vm.Devices, err = toEntities[entity.Device](devices); err != nil {
		return nil, err
	}
	return vm, nil
}
