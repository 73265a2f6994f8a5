package ginx

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// bindArgs 绑定请求参数到 args
// 路由带参数时绑定 URI，带 body 的请求绑定 JSON，否则绑定 Query
func bindArgs(ctx *gin.Context, args any) error {
	if len(ctx.Params) > 0 {
		return ctx.ShouldBindUri(args)
	}
	switch ctx.Request.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return ctx.ShouldBindJSON(args)
	default:
		return ctx.ShouldBindQuery(args)
	}
}
