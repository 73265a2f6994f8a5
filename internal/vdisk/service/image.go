package service

import (
	"context"
	"fmt"

	"github.com/jimyag/vdisk/internal/vdisk/entity"
	"github.com/jimyag/vdisk/internal/vdisk/repository"
	"github.com/jimyag/vdisk/internal/vdisk/repository/model"
	"github.com/jimyag/vdisk/pkg/apierror"
	"github.com/jimyag/vdisk/pkg/idgen"
	"github.com/rs/zerolog"
)

// ImageService 登记和查询镜像
type ImageService struct {
	store *repository.Store
	tasks *TaskService
	ids   *idgen.Generator
}

// NewImageService 创建 ImageService
func NewImageService(store *repository.Store, tasks *TaskService, ids *idgen.Generator) *ImageService {
	if ids == nil {
		ids = idgen.DefaultGenerator()
	}
	return &ImageService{store: store, tasks: tasks, ids: ids}
}

// Create 登记 creating 状态的镜像并提交 create 任务
// 卷名为 <镜像 ID>.<格式>
func (s *ImageService) Create(ctx context.Context, req *entity.CreateImageRequest) (*entity.CreateImageResponse, error) {
	logger := zerolog.Ctx(ctx)

	storage, err := s.store.Storages.GetByID(ctx, req.StorageID)
	if err != nil {
		return nil, lookupError("storage", req.StorageID, err)
	}
	if storage.State == entity.StorageStateDisabled {
		return nil, apierror.WrapError(apierror.ErrConflict, fmt.Sprintf("storage %s is disabled", storage.Name), nil)
	}

	id, err := s.ids.GenerateImageID()
	if err != nil {
		return nil, err
	}
	m := &model.Image{
		ID:          id,
		Name:        req.Name,
		LibvirtName: id + "." + req.Format,
		Format:      req.Format,
		Size:        req.Size,
		State:       entity.ImageStateCreating,
		StorageID:   storage.ID,
	}
	if err := s.store.Images.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("create image: %w", err)
	}
	logger.Info().
		Str("image_id", m.ID).
		Str("storage", storage.Name).
		Int64("size", m.Size).
		Msg("Image registered")

	t, err := s.tasks.Submit(ctx, &entity.SubmitTaskRequest{
		Type:    entity.TaskTypeImage,
		Action:  "create",
		Objects: map[string]string{entity.ObjectImage: m.ID},
	})
	if err != nil {
		return nil, fmt.Errorf("submit create task for %s: %w", m.ID, err)
	}

	image, err := toEntity[entity.Image](m)
	if err != nil {
		return nil, err
	}
	return &entity.CreateImageResponse{Image: image, Task: t}, nil
}

// Get 查询镜像
func (s *ImageService) Get(ctx context.Context, id string) (*entity.Image, error) {
	m, err := s.store.Images.GetByID(ctx, id)
	if err != nil {
		return nil, lookupError("image", id, err)
	}
	return toEntity[entity.Image](m)
}
