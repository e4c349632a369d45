// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"netsight-go/internal/middleware"
	"netsight-go/internal/model"
	"netsight-go/internal/service"
	"netsight-go/pkg/log"
)

func ok(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": message, "data": data})
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"code": status, "message": message, "data": nil})
}

// statusOf 把业务错误映射为 HTTP 状态码。
func statusOf(err error) int {
	var genErr *service.GenerationError
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrNotOwner), errors.Is(err, service.ErrImmutable):
		return http.StatusForbidden
	case errors.Is(err, service.ErrDuplicateContent), errors.Is(err, service.ErrSessionBusy):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, service.ErrInvalidTarget):
		return http.StatusBadRequest
	case errors.As(err, &genErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// failWith 输出错误响应，5xx 记录日志且不向调用方暴露内部细节。
func failWith(c *gin.Context, op string, err error) {
	status := statusOf(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		log.Errorf("%s failed: %v", op, err)
		message = "服务器内部错误"
	}
	fail(c, status, message)
}

// identityOrAbort 取出当前身份；缺失说明路由没有挂认证中间件。
func identityOrAbort(c *gin.Context) (model.Identity, bool) {
	identity, exists := middleware.IdentityFrom(c)
	if !exists {
		fail(c, http.StatusUnauthorized, "无法获取身份信息")
		return model.Identity{}, false
	}
	return identity, true
}
