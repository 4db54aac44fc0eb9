// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"aero-doc-go/internal/middleware"
	"aero-doc-go/internal/model"
	"aero-doc-go/internal/service"

	"github.com/gin-gonic/gin"
)

func ok(c *gin.Context, status int, message string, data any) {
	c.JSON(status, gin.H{"code": status, "message": message, "data": data})
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"code": status, "message": message, "data": nil})
}

// failFromError 把 service 层的错误映射为 HTTP 状态码。
func failFromError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		fail(c, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrInvalidFileType):
		fail(c, http.StatusBadRequest, "Invalid file type")
	case errors.Is(err, service.ErrFileTooLarge):
		fail(c, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, service.ErrInvalidInput):
		fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrUserExists):
		fail(c, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrInvalidCredentials):
		fail(c, http.StatusUnauthorized, err.Error())
	default:
		fail(c, http.StatusInternalServerError, "服务器内部错误")
	}
}

// currentUser 取出 AuthMiddleware 注入的用户。
func currentUser(c *gin.Context) (*model.User, bool) {
	v, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil, false
	}
	user, isUser := v.(*model.User)
	return user, isUser
}

// requireUser 在用户缺失时直接写 500，调用方只需判断返回值。
func requireUser(c *gin.Context) (*model.User, bool) {
	user, found := currentUser(c)
	if !found {
		fail(c, http.StatusInternalServerError, "无法获取用户信息")
	}
	return user, found
}
