package repository

import (
	"context"

	"github.com/jimyag/vdisk/internal/vdisk/entity"
	"github.com/jimyag/vdisk/internal/vdisk/repository/model"
	"gorm.io/gorm"
)

// NodeRepository 节点仓库接口
type NodeRepository interface {
	Create(ctx context.Context, node *model.Node) error
	GetByID(ctx context.Context, id string) (*model.Node, error)
	List(ctx context.Context) ([]*model.Node, error)
	Update(ctx context.Context, node *model.Node) error
	SetMAC(ctx context.Context, id, mac string) error
	SetState(ctx context.Context, id string, to entity.NodeState, from ...entity.NodeState) error
}

type nodeRepository struct {
	db *gorm.DB
}

// NewNodeRepository 创建节点仓库
func NewNodeRepository(db *gorm.DB) NodeRepository {
	return &nodeRepository{db: db}
}

// Create 创建节点
func (r *nodeRepository) Create(ctx context.Context, node *model.Node) error {
	return r.db.WithContext(ctx).Create(node).Error
}

// GetByID 根据 ID 获取节点
func (r *nodeRepository) GetByID(ctx context.Context, id string) (*model.Node, error) {
	var node model.Node
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&node).Error; err != nil {
		return nil, err
	}
	return &node, nil
}

// List 列出节点
func (r *nodeRepository) List(ctx context.Context) ([]*model.Node, error) {
	var nodes []*model.Node
	if err := r.db.WithContext(ctx).Order("id").Find(&nodes).Error; err != nil {
		return nil, err
	}
	return nodes, nil
}

// Update 更新节点
func (r *nodeRepository) Update(ctx context.Context, node *model.Node) error {
	return r.db.WithContext(ctx).Save(node).Error
}

// SetMAC 只更新 MAC，不覆盖并发写入的状态
func (r *nodeRepository) SetMAC(ctx context.Context, id, mac string) error {
	return r.db.WithContext(ctx).Model(&model.Node{}).Where("id = ?", id).Update("mac", mac).Error
}

// SetState 条件更新节点状态
func (r *nodeRepository) SetState(ctx context.Context, id string, to entity.NodeState, from ...entity.NodeState) error {
	return compareAndSwapState(ctx, r.db, &model.Node{}, id, to, from)
}
