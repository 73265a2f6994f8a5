// Package ginx 提供 gin 的 handler 适配器，自动绑定参数并以 JSON 渲染响应和错误
//
// 支持的 handler 签名：
//
//	// 无参数，有返回值和 error
//	func(c *gin.Context) (resp, error)
//
//	// 有参数，有返回值和 error
//	func(c *gin.Context, args *Args) (resp, error)
//
// 参数绑定：路由带 URI 参数时绑定 `uri` tag，POST/PUT/PATCH 绑定 JSON body，
// 其余请求绑定 Query。绑定失败或 IsValid 返回错误时响应 400。
//
// 错误处理：handler 返回的错误链中有 *apierror.Error 时使用它的 Code 和状态码，
// 否则响应 500 InternalError。
//
// 使用示例：
//
//	router := gin.New()
//	router.GET("/images/:id", ginx.Adapt5(func(c *gin.Context, args *GetImageRequest) (*Image, error) {
//	    return store.Get(c, args.ID)
//	}))
package ginx
