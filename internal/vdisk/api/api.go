// Package api 提供运维接口：提交和查询任务、登记镜像、查看清单以及 prometheus 指标
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jimyag/vdisk/internal/vdisk/service"
	"github.com/jimyag/vdisk/pkg/ginx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type API struct {
	engine *gin.Engine
	server *http.Server

	task      *Task
	image     *Image
	inventory *Inventory
}

func New(
	address string,
	taskService *service.TaskService,
	imageService *service.ImageService,
	inventoryService *service.InventoryService,
	gatherer prometheus.Gatherer,
) *API {
	api := &API{
		task:      NewTask(taskService),
		image:     NewImage(imageService),
		inventory: NewInventory(inventoryService),
	}
	api.engine = newEngine(gatherer, api.task, api.image, api.inventory)
	api.server = &http.Server{
		Addr:    address,
		Handler: api.engine,
	}
	return api
}

type routes interface {
	RegisterRoutes(router *gin.RouterGroup)
}

func newEngine(gatherer prometheus.Gatherer, groups ...routes) *gin.Engine {
	engine := gin.New()
	engine.ContextWithFallback = true
	engine.Use(gin.Recovery(), requestLogger())

	apiGroup := engine.Group("/api")
	for _, g := range groups {
		g.RegisterRoutes(apiGroup)
	}
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	engine.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	return engine
}

// requestLogger 把带请求 ID 的 logger 放进请求的 context，并记录每个请求
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := zerolog.Ctx(c.Request.Context()).With().
			Str("request_id", c.GetHeader(ginx.RequestIDHeader)).
			Logger()
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context()))

		c.Next()

		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("Request handled")
	}
}

// Name 实现 grace.Grace 接口
func (a *API) Name() string {
	return "API Server"
}

func (a *API) Run(ctx context.Context) error {
	zerolog.Ctx(ctx).Info().Str("address", a.server.Addr).Msg("API server listening")
	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *API) Shutdown(ctx context.Context) error {
	return a.server.Shutdown(ctx)
}
