// Package service 包含了应用的业务逻辑层。
package service

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrUserExists         = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidFileType    = errors.New("invalid file type")
	ErrFileTooLarge       = errors.New("file too large")
	// ErrMissingOwner 表示调用方没有提供 owner，检索不允许在无过滤条件下执行。
	ErrMissingOwner = errors.New("owner id is required")
)

// notFound 把 gorm 的记录不存在转换为 ErrNotFound，其余错误原样返回。
func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %w", what, ErrNotFound)
	}
	return err
}
