package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// LibvirtURI 是本机 libvirt 连接 URI，存储池和镜像任务使用
	// 可以通过环境变量 LIBVIRT_URI 配置，默认 qemu:///system
	LibvirtURI string `yaml:"libvirt_uri"`

	// DataDir 是 vdisk 数据目录，存放数据库
	// 可以通过环境变量 VDISK_DATA_DIR 配置
	// 默认：~/.local/share/vdisk
	DataDir string `yaml:"data_dir"`

	// Database 数据库文件路径，为空时使用 DataDir/vdisk.db
	Database string `yaml:"database"`

	// Address API 监听地址，可以通过环境变量 VDISK_ADDRESS 配置
	Address string `yaml:"address"`

	// MachineID ID 生成器的 machine ID，多个进程共用数据库时必须不同
	// 为 0 时由本机私有 IP 推导
	MachineID uint16 `yaml:"machine_id"`

	// LogLevel zerolog 日志级别，可以通过环境变量 VDISK_LOG_LEVEL 配置
	LogLevel string `yaml:"log_level"`

	Storage Storage `yaml:"storage"`
	Node    Node    `yaml:"node"`
	Image   Image   `yaml:"image"`
	Worker  Worker  `yaml:"worker"`
}

// Storage 存储池相关配置
type Storage struct {
	// StagingDir netfs 存储池在本机的挂载根目录，每个存储池一个子目录
	StagingDir string `yaml:"staging_dir"`
}

// Node 节点 agent 配置
type Node struct {
	// ImagesPool 节点本地存储池名称
	ImagesPool string `yaml:"images_pool"`
	// ImagesPoolPath 节点本地存储池目录
	ImagesPoolPath string `yaml:"images_pool_path"`
	// URITemplate 节点 libvirt URI 模板，%s 替换为节点地址
	URITemplate string `yaml:"uri_template"`
	// SuspendDuration 挂起到内存后自动唤醒的时间
	SuspendDuration time.Duration `yaml:"suspend_duration"`
	// WakeupGrace 发送唤醒包后等待节点启动的时间
	WakeupGrace time.Duration `yaml:"wakeup_grace"`
	// WakeBroadcast Wake-on-LAN 广播地址
	WakeBroadcast string `yaml:"wake_broadcast"`
}

// URI 返回节点的 libvirt URI
func (n Node) URI(address string) string {
	return fmt.Sprintf(n.URITemplate, address)
}

// Image 镜像 agent 配置
type Image struct {
	// ChunkSize upload_url 每次上传的字节数
	ChunkSize int `yaml:"chunk_size"`
	// QemuImgPath qemu-img 路径
	QemuImgPath string `yaml:"qemu_img_path"`
	// UseSudo 通过 sudo 执行 qemu-img
	UseSudo bool `yaml:"use_sudo"`
	// DownloadTimeout upload_url 整体下载超时
	DownloadTimeout time.Duration `yaml:"download_timeout"`
}

// Worker 任务执行配置
type Worker struct {
	Concurrency  int           `yaml:"concurrency"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxAttempts  int           `yaml:"max_attempts"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		LibvirtURI: "qemu:///system",
		DataDir:    defaultDataDir(),
		Address:    "0.0.0.0:7780",
		LogLevel:   "info",
		Storage: Storage{
			StagingDir: "/var/lib/vdisk/storage",
		},
		Node: Node{
			ImagesPool:      "images",
			ImagesPoolPath:  "/var/lib/vdisk/images",
			URITemplate:     "qemu+tcp://%s/system",
			SuspendDuration: time.Hour,
			WakeupGrace:     2 * time.Minute,
			WakeBroadcast:   "255.255.255.255:9",
		},
		Image: Image{
			ChunkSize:       250 * 1024,
			QemuImgPath:     "qemu-img",
			UseSudo:         true,
			DownloadTimeout: 6 * time.Hour,
		},
		Worker: Worker{
			Concurrency:  4,
			PollInterval: 2 * time.Second,
			MaxAttempts:  5,
			RetryDelay:   30 * time.Second,
		},
	}
}

// New 加载配置：默认值 -> 配置文件 -> 环境变量
// path 为空时读取环境变量 VDISK_CONFIG，都为空则不读文件
func New(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("VDISK_CONFIG")
	}
	if path != "" {
		if err := cfg.load(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if cfg.Database == "" {
		cfg.Database = filepath.Join(cfg.DataDir, "vdisk.db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// applyEnv 环境变量优先级最高
func (c *Config) applyEnv() {
	if uri := os.Getenv("LIBVIRT_URI"); uri != "" {
		c.LibvirtURI = uri
	}
	if dir := os.Getenv("VDISK_DATA_DIR"); dir != "" {
		c.DataDir = dir
	}
	if addr := os.Getenv("VDISK_ADDRESS"); addr != "" {
		c.Address = addr
	}
	if level := os.Getenv("VDISK_LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
}

// Validate 检查配置
func (c *Config) Validate() error {
	var errs []error
	if c.Image.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("image.chunk_size must be positive, got %d", c.Image.ChunkSize))
	}
	if c.Worker.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("worker.concurrency must be positive, got %d", c.Worker.Concurrency))
	}
	if c.Worker.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("worker.max_attempts must be positive, got %d", c.Worker.MaxAttempts))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.Node.ImagesPool == "" {
		errs = append(errs, errors.New("node.images_pool is required"))
	}
	return errors.Join(errs...)
}

// defaultDataDir 默认数据目录
func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "vdisk")
	}
	return filepath.Join(".", "data")
}
