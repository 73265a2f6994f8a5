package ginx

import (
	"errors"
	"net/http"
	"reflect"

	"github.com/gin-gonic/gin"
	"github.com/jimyag/vdisk/pkg/apierror"
	"github.com/rs/zerolog"
)

// RequestIDHeader 请求 ID 头，错误响应中原样返回
const RequestIDHeader = "X-Request-ID"

// renderResponse 以 JSON 渲染响应，nil 返回 204
func renderResponse(ctx *gin.Context, status int, response any) {
	if isNil(response) {
		ctx.Status(http.StatusNoContent)
		return
	}
	if s, ok := response.(string); ok {
		ctx.String(status, s)
		return
	}
	ctx.JSON(status, response)
}

// renderError 渲染错误响应
// *apierror.Error 使用自身的状态码，其他错误按 statusCode 包装为 InternalError
func renderError(ctx *gin.Context, statusCode int, err error) {
	var apiErr *apierror.Error
	if !errors.As(err, &apiErr) {
		apiErr = apierror.WrapError(apierror.ErrInternal, err.Error(), err)
		apiErr.HTTPStatus = statusCode
	}

	if apiErr.Status() >= http.StatusInternalServerError {
		zerolog.Ctx(ctx.Request.Context()).Error().
			Err(err).
			Str("path", ctx.FullPath()).
			Msg("Request failed")
	}
	ctx.JSON(apiErr.Status(), apierror.NewErrorResponse(ctx.GetHeader(RequestIDHeader), apiErr))
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
