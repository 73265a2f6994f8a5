// Package service 提供 API 和命令行共用的业务逻辑：提交任务、登记镜像和查询清单
package service

import (
	"fmt"

	"github.com/jimyag/vdisk/internal/vdisk/repository"
	"github.com/jimyag/vdisk/pkg/apierror"
	"github.com/jinzhu/copier"
)

// toEntity 按同名字段把数据库模型复制为 entity
func toEntity[E any, M any](m *M) (*E, error) {
	e := new(E)
	if err := copier.Copy(e, m); err != nil {
		return nil, fmt.Errorf("convert %T: %w", m, err)
	}
	return e, nil
}

func toEntities[E any, M any](models []*M) ([]E, error) {
	items := make([]E, 0, len(models))
	for _, m := range models {
		e, err := toEntity[E](m)
		if err != nil {
			return nil, err
		}
		items = append(items, *e)
	}
	return items, nil
}

// lookupError 记录不存在时转换为 404
func lookupError(kind, id string, err error) error {
	if repository.IsNotFound(err) {
		return apierror.WrapError(apierror.ErrNotFound, fmt.Sprintf("%s %s does not exist", kind, id), err)
	}
	return fmt.Errorf("get %s %s: %w", kind, id, err)
}
