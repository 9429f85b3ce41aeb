package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/hadiid1718/VI-downloader/internal/errs"
)

// MediaRequest 携带媒体地址的通用请求体
type MediaRequest struct {
	URL    string `json:"url" binding:"required"`
	Format string `json:"format"`
}

// fail 统一的失败响应：错误类型决定状态码
func fail(c *gin.Context, err error) {
	c.JSON(errs.HTTPStatus(err), gin.H{
		"success": false,
		"error":   err.Error(),
	})
}

// failBind 请求体解析失败
func failBind(c *gin.Context, err error) {
	fail(c, errs.Validationf("invalid request body: %v", err))
}
