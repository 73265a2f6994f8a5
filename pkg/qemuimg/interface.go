package qemuimg

import "context"

// QemuImgClient 定义了 qemu-img 客户端的接口
// 用于抽象 qemu-img 操作，便于测试和 mock
type QemuImgClient interface {
	// Rebase 以 unsafe 模式把镜像的 backing file 置空
	Rebase(ctx context.Context, format, imagePath string) error
}

// SupportsBackingFile 判断格式是否支持 backing chain
func SupportsBackingFile(format string) bool {
	switch format {
	case "qcow2", "qed":
		return true
	default:
		return false
	}
}
