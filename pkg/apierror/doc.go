// Package apierror 定义 HTTP API 的错误类型和 JSON 错误响应
//
// 响应格式：
//
//	{
//	    "errors": [
//	        {
//	            "code": "NotFound",
//	            "message": "image img-123 does not exist"
//	        }
//	    ],
//	    "request_id": "..."
//	}
//
// 使用示例：
//
//	err := apierror.WrapError(apierror.ErrNotFound, "image img-123 does not exist", dbErr)
//	c.JSON(err.Status(), apierror.NewErrorResponse("", err))
package apierror
