// Package vdisk 组装 vdisk 服务：数据库、agent、任务 worker 和运维 API
package vdisk

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jimmicro/grace"
	"github.com/jimyag/vdisk/internal/vdisk/agent"
	"github.com/jimyag/vdisk/internal/vdisk/api"
	"github.com/jimyag/vdisk/internal/vdisk/config"
	"github.com/jimyag/vdisk/internal/vdisk/repository"
	"github.com/jimyag/vdisk/internal/vdisk/service"
	"github.com/jimyag/vdisk/internal/vdisk/worker"
	"github.com/jimyag/vdisk/pkg/idgen"
	"github.com/jimyag/vdisk/pkg/libvirt"
	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
)

type Server struct {
	cfg    *config.Config
	repo   *repository.Repository
	api    *api.API
	worker *worker.Worker
	tasks  *service.TaskService
}

// SetupLogger 设置全局 context logger
func SetupLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &logger
	return logger
}

func New(cfg *config.Config) (*Server, error) {
	logger := SetupLogger(cfg.LogLevel)

	// 1. 打开数据库
	repo, err := repository.New(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	store := repository.NewStore(repo)
	logger.Info().Str("database", cfg.Database).Msg("Repository opened")

	ids := idgen.DefaultGenerator()
	if cfg.MachineID != 0 {
		ids = idgen.New(idgen.WithMachineID(cfg.MachineID))
	}

	// 2. 创建 agent 和 worker
	agents := agent.New(agent.Deps{
		Store:  store,
		Dialer: libvirt.URIDialer{},
		Config: cfg,
		HTTP:   &http.Client{Timeout: cfg.Image.DownloadTimeout},
		IDGen:  ids,
		Clock:  clock.WallClock,
	})

	registry := prometheus.NewRegistry()
	collector := worker.NewCollector()
	registry.MustRegister(
		collector,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	w := worker.New(store, agents, cfg.Worker, worker.WithCollector(collector))

	// 3. 创建 service 和 API
	tasks := service.NewTaskService(store, ids, clock.WallClock)
	images := service.NewImageService(store, tasks, ids)
	inventory := service.NewInventoryService(store)
	apiServer := api.New(cfg.Address, tasks, images, inventory, registry)

	return &Server{
		cfg:    cfg,
		repo:   repo,
		api:    apiServer,
		worker: w,
		tasks:  tasks,
	}, nil
}

// Run 启动 API 和 worker，收到退出信号后依次关闭
func (s *Server) Run(ctx context.Context) error {
	defer s.Close()

	services := []grace.Grace{
		s.api,
		s.worker,
	}

	shepherd := grace.NewShepherd(
		services,
		grace.WithTimeout(30*time.Second),
		grace.WithLogger(&zerologLogger{}),
	)

	shepherd.Start(ctx)
	return nil
}

// RunTask 同步执行一个任务，不启动 API
func (s *Server) RunTask(ctx context.Context, id string) error {
	return s.worker.RunOnce(ctx, id)
}

// Tasks 返回任务服务，命令行提交任务时使用
func (s *Server) Tasks() *service.TaskService {
	return s.tasks
}

// Close 关闭数据库
func (s *Server) Close() error {
	return s.repo.Close()
}

// zerologLogger 实现 grace.Logger 接口
type zerologLogger struct{}

func (l *zerologLogger) Info(msg string, args ...interface{}) {
	logger := zerolog.DefaultContextLogger.Info()
	if len(args) > 0 {
		logger.Msgf(msg, args...)
	} else {
		logger.Msg(msg)
	}
}

func (l *zerologLogger) Error(msg string, args ...interface{}) {
	logger := zerolog.DefaultContextLogger.Error()
	if len(args) > 0 {
		logger.Msgf(msg, args...)
	} else {
		logger.Msg(msg)
	}
}
