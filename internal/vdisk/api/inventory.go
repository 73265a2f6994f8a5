package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/jimyag/vdisk/internal/vdisk/entity"
	"github.com/jimyag/vdisk/internal/vdisk/service"
	"github.com/jimyag/vdisk/pkg/ginx"
)

// InventoryServiceInterface 定义清单查询的接口
type InventoryServiceInterface interface {
	ListStorages(ctx context.Context) ([]entity.Storage, error)
	ListNodes(ctx context.Context) ([]entity.Node, error)
	GetVM(ctx context.Context, id string) (*entity.VM, error)
}

type Inventory struct {
	inventoryService InventoryServiceInterface
}

func NewInventory(inventoryService *service.InventoryService) *Inventory {
	return &Inventory{
		inventoryService: inventoryService,
	}
}

func (i *Inventory) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/storages", ginx.Adapt3(i.ListStorages))
	router.GET("/nodes", ginx.Adapt3(i.ListNodes))
	router.GET("/vms/:id", ginx.Adapt5(i.GetVM))
}

func (i *Inventory) ListStorages(ctx *gin.Context) (*entity.ListResponse[entity.Storage], error) {
	storages, err := i.inventoryService.ListStorages(ctx)
	if err != nil {
		return nil, err
	}
	return &entity.ListResponse[entity.Storage]{Items: storages}, nil
}

func (i *Inventory) ListNodes(ctx *gin.Context) (*entity.ListResponse[entity.Node], error) {
	nodes, err := i.inventoryService.ListNodes(ctx)
	if err != nil {
		return nil, err
	}
	return &entity.ListResponse[entity.Node]{Items: nodes}, nil
}

func (i *Inventory) GetVM(ctx *gin.Context, req *entity.GetVMRequest) (*entity.VM, error) {
	return i.inventoryService.GetVM(ctx, req.ID)
}
