package middleware

import (
	"bytes"
	"io"
	"strings"
	"time"

	"aero-doc-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// 请求体和响应体在日志中最多保留的字节数
const maxLoggedBody = 2048

// bodyLogWriter 用于捕获响应体
type bodyLogWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

// Write 将响应同时写入 gin.ResponseWriter 和内部 buffer
func (w bodyLogWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// RequestLogger 是一个 Gin 中间件，用于记录请求和响应日志。
// multipart 上传和 websocket 升级请求不记录 body。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		var requestBody []byte
		if loggableBody(c) {
			requestBody, _ = io.ReadAll(c.Request.Body)
			// 放回 body，后续处理函数才能读取
			c.Request.Body = io.NopCloser(bytes.NewReader(requestBody))
		}

		blw := &bodyLogWriter{body: &bytes.Buffer{}, ResponseWriter: c.Writer}
		if c.IsWebsocket() {
			blw = nil
		} else {
			c.Writer = blw
		}

		c.Next()

		var responseBody string
		if blw != nil {
			responseBody = truncate(blw.body.String())
		}
		log.Infow("HTTP Request Log",
			"statusCode", c.Writer.Status(),
			"latency", time.Since(startTime).String(),
			"clientIP", c.ClientIP(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"requestBody", truncate(string(requestBody)),
			"responseBody", responseBody,
		)
	}
}

func loggableBody(c *gin.Context) bool {
	if c.Request.Body == nil || c.IsWebsocket() {
		return false
	}
	return !strings.HasPrefix(c.ContentType(), "multipart/")
}

func truncate(s string) string {
	if len(s) <= maxLoggedBody {
		return s
	}
	return s[:maxLoggedBody] + "...(truncated)"
}
