// Package parser 把上传的二进制文档转换成纯文本。
package parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"aero-doc-go/internal/config"
)

var (
	// ErrUnsupportedFormat 表示解析器不支持该文件类型。
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrParse 表示解析引擎执行失败。
	ErrParse = errors.New("parse error")
)

// Parser 从文档中提取文本，units 为页数（无分页概念的格式为 1）。
type Parser interface {
	Parse(ctx context.Context, r io.Reader, filename string) (text string, units int, err error)
}

// NewFromConfig 按 document.parser 选择解析器。
func NewFromConfig(doc config.DocumentConfig, tika config.TikaConfig) (Parser, error) {
	switch strings.ToLower(doc.Parser) {
	case "", "tika":
		return NewTikaParser(tika.ServerURL, doc.AllowedExtensions), nil
	case "local":
		return NewLocalParser(), nil
	default:
		return nil, fmt.Errorf("unknown parser %q", doc.Parser)
	}
}

func extOf(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}

func unsupported(filename string) error {
	return fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(filename))
}
