// Package idgen 基于 sonyflake 生成带资源前缀的递增 ID：
// task-<n>、img-<n>、dev-<n>。
//
//	gen := idgen.New(idgen.WithMachineID(3))
//	id, err := gen.Next(idgen.KindImage)
package idgen
