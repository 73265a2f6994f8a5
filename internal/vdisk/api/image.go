package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/jimyag/vdisk/internal/vdisk/entity"
	"github.com/jimyag/vdisk/internal/vdisk/service"
	"github.com/jimyag/vdisk/pkg/ginx"
	"github.com/rs/zerolog"
)

// ImageServiceInterface 定义镜像服务的接口
type ImageServiceInterface interface {
	Create(ctx context.Context, req *entity.CreateImageRequest) (*entity.CreateImageResponse, error)
	Get(ctx context.Context, id string) (*entity.Image, error)
}

type Image struct {
	imageService ImageServiceInterface
}

func NewImage(imageService *service.ImageService) *Image {
	return &Image{
		imageService: imageService,
	}
}

func (i *Image) RegisterRoutes(router *gin.RouterGroup) {
	imageRouter := router.Group("/images")
	imageRouter.POST("", ginx.AdaptCreated(i.CreateImage))
	imageRouter.GET("/:id", ginx.Adapt5(i.GetImage))
}

func (i *Image) CreateImage(ctx *gin.Context, req *entity.CreateImageRequest) (*entity.CreateImageResponse, error) {
	logger := zerolog.Ctx(ctx)
	logger.Info().
		Str("name", req.Name).
		Str("format", req.Format).
		Str("storageID", req.StorageID).
		Msg("CreateImage called")

	resp, err := i.imageService.Create(ctx, req)
	if err != nil {
		logger.Error().
			Err(err).
			Msg("Failed to create image")
		return nil, err
	}

	logger.Info().
		Str("imageID", resp.Image.ID).
		Str("taskID", resp.Task.ID).
		Msg("Image registered successfully")
	return resp, nil
}

func (i *Image) GetImage(ctx *gin.Context, req *entity.GetImageRequest) (*entity.Image, error) {
	return i.imageService.Get(ctx, req.ID)
}
