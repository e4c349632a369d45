// Package middleware 存放 Gin 框架的中间件。
package middleware

import (
	"bytes"
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"netsight-go/pkg/log"
)

// maxLoggedBody 限制日志中记录的请求体长度。
const maxLoggedBody = 4096

// RequestLogger 是一个 Gin 中间件，记录请求的状态码、耗时和请求体。
// 文件上传和 WebSocket 升级请求不读取请求体。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		var requestBody []byte
		if shouldCaptureBody(c) {
			requestBody, _ = io.ReadAll(c.Request.Body)
			// 将读取的请求体重新设置回去，以便后续处理函数可以正常读取
			c.Request.Body = io.NopCloser(bytes.NewBuffer(requestBody))
		}

		c.Next()

		body := string(requestBody)
		if len(body) > maxLoggedBody {
			body = body[:maxLoggedBody] + "..."
		}
		log.Infow("HTTP Request Log",
			"statusCode", c.Writer.Status(),
			"latency", time.Since(startTime).String(),
			"clientIP", c.ClientIP(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"requestBody", body,
		)
	}
}

func shouldCaptureBody(c *gin.Context) bool {
	if c.Request.Body == nil || c.IsWebsocket() {
		return false
	}
	return !strings.HasPrefix(c.ContentType(), "multipart/")
}
