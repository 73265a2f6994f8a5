package idgen

import (
	"fmt"
	"sync"
	"time"

	"github.com/sony/sonyflake"
)

// Kind 资源类型，决定 ID 前缀
type Kind string

const (
	KindTask   Kind = "task"
	KindImage  Kind = "img"
	KindDevice Kind = "dev"
)

// epoch sonyflake 的起始时间
var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Generator 生成 "<kind>-<sonyflake>" 形式的 ID
// 共用一个数据库的多个进程需要配置不同的 machine ID
type Generator struct {
	sf *sonyflake.Sonyflake
}

// Option 配置 Generator
type Option func(*sonyflake.Settings)

// WithMachineID 固定 machine ID，默认取本机私有 IP 的低 16 位
func WithMachineID(id uint16) Option {
	return func(s *sonyflake.Settings) {
		s.MachineID = func() (uint16, error) { return id, nil }
	}
}

var (
	defaultGenerator     *Generator
	defaultGeneratorOnce sync.Once
)

// DefaultGenerator 返回进程内共享的生成器
func DefaultGenerator() *Generator {
	defaultGeneratorOnce.Do(func() {
		defaultGenerator = New()
	})
	return defaultGenerator
}

// New 创建生成器
// 没有私有 IP 可用时 sonyflake 返回 nil，此时退回到 machine ID 0
func New(opts ...Option) *Generator {
	settings := sonyflake.Settings{StartTime: epoch}
	for _, opt := range opts {
		opt(&settings)
	}
	sf := sonyflake.NewSonyflake(settings)
	if sf == nil {
		settings.MachineID = func() (uint16, error) { return 0, nil }
		sf = sonyflake.NewSonyflake(settings)
	}
	return &Generator{sf: sf}
}

// Next 生成 kind 对应前缀的 ID
func (g *Generator) Next(kind Kind) (string, error) {
	id, err := g.sf.NextID()
	if err != nil {
		return "", fmt.Errorf("generate %s id: %w", kind, err)
	}
	return fmt.Sprintf("%s-%d", kind, id), nil
}

func (g *Generator) GenerateTaskID() (string, error)   { return g.Next(KindTask) }
func (g *Generator) GenerateImageID() (string, error)  { return g.Next(KindImage) }
func (g *Generator) GenerateDeviceID() (string, error) { return g.Next(KindDevice) }

// GenerateTaskID 使用默认生成器
func GenerateTaskID() (string, error) {
	return DefaultGenerator().GenerateTaskID()
}
