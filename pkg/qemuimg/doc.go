// Package qemuimg 封装 qemu-img 命令行工具的操作
//
// 目前只提供 Rebase：上传完成后把 qcow2/qed 镜像的 backing file 清空，
// 使镜像不再依赖外部文件。
//
// 示例：
//
//	client := qemuimg.New("").WithSudo(true)
//	err := client.Rebase(ctx, "qcow2", "/var/lib/vdisk/shared/img-1")
package qemuimg
