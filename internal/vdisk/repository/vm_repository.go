package repository

import (
	"context"

	"github.com/jimyag/vdisk/internal/vdisk/entity"
	"github.com/jimyag/vdisk/internal/vdisk/repository/model"
	"gorm.io/gorm"
)

// VMRepository 虚拟机仓库接口
type VMRepository interface {
	Create(ctx context.Context, vm *model.VM) error
	GetByID(ctx context.Context, id string) (*model.VM, error)
	// ListByNode 列出节点上的虚拟机，states 为空时不过滤状态
	ListByNode(ctx context.Context, nodeID string, states ...entity.VMState) ([]*model.VM, error)
	// ListByBaseImage 列出以该镜像为基础镜像的虚拟机
	ListByBaseImage(ctx context.Context, imageID string) ([]*model.VM, error)
	// CountInUseOnNode 统计节点上未关闭的虚拟机
	CountInUseOnNode(ctx context.Context, nodeID string) (int64, error)
	Update(ctx context.Context, vm *model.VM) error
	SetState(ctx context.Context, id string, to entity.VMState, from ...entity.VMState) error
}

type vmRepository struct {
	db *gorm.DB
}

// NewVMRepository 创建虚拟机仓库
func NewVMRepository(db *gorm.DB) VMRepository {
	return &vmRepository{db: db}
}

// Create 创建虚拟机
func (r *vmRepository) Create(ctx context.Context, vm *model.VM) error {
	return r.db.WithContext(ctx).Create(vm).Error
}

// GetByID 根据 ID 获取虚拟机
func (r *vmRepository) GetByID(ctx context.Context, id string) (*model.VM, error) {
	var vm model.VM
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&vm).Error; err != nil {
		return nil, err
	}
	return &vm, nil
}

// ListByNode 列出节点上的虚拟机
func (r *vmRepository) ListByNode(ctx context.Context, nodeID string, states ...entity.VMState) ([]*model.VM, error) {
	var vms []*model.VM
	query := r.db.WithContext(ctx).Where("node_id = ?", nodeID)
	if len(states) > 0 {
		query = query.Where("state IN ?", states)
	}
	if err := query.Order("id").Find(&vms).Error; err != nil {
		return nil, err
	}
	return vms, nil
}

// ListByBaseImage 列出以该镜像为基础镜像的虚拟机
func (r *vmRepository) ListByBaseImage(ctx context.Context, imageID string) ([]*model.VM, error) {
	var vms []*model.VM
	if err := r.db.WithContext(ctx).Where("base_image_id = ?", imageID).Order("id").Find(&vms).Error; err != nil {
		return nil, err
	}
	return vms, nil
}

// CountInUseOnNode 统计节点上未关闭的虚拟机
func (r *vmRepository) CountInUseOnNode(ctx context.Context, nodeID string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&model.VM{}).
		Where("node_id = ? AND state <> ?", nodeID, entity.VMStateClosed).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Update 更新虚拟机
func (r *vmRepository) Update(ctx context.Context, vm *model.VM) error {
	return r.db.WithContext(ctx).Save(vm).Error
}

// SetState 条件更新虚拟机状态
func (r *vmRepository) SetState(ctx context.Context, id string, to entity.VMState, from ...entity.VMState) error {
	return compareAndSwapState(ctx, r.db, &model.VM{}, id, to, from)
}
