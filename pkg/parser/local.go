package parser

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// LocalParser 在进程内解析 PDF 和纯文本，不依赖外部服务。
type LocalParser struct{}

var _ Parser = LocalParser{}

func NewLocalParser() LocalParser { return LocalParser{} }

func (LocalParser) Parse(ctx context.Context, r io.Reader, filename string) (string, int, error) {
	switch extOf(filename) {
	case ".pdf":
		data, err := io.ReadAll(r)
		if err != nil {
			return "", 0, fmt.Errorf("%w: read input: %w", ErrParse, err)
		}
		return parsePDF(ctx, data)
	case ".txt", ".md":
		data, err := io.ReadAll(r)
		if err != nil {
			return "", 0, fmt.Errorf("%w: read input: %w", ErrParse, err)
		}
		if !utf8.Valid(data) {
			return "", 0, fmt.Errorf("%w: %s is not valid UTF-8", ErrParse, filename)
		}
		return string(data), 1, nil
	default:
		return "", 0, unsupported(filename)
	}
}

// parsePDF 逐页提取文本，页与页之间插入 "--- Page N ---" 标记。
func parsePDF(ctx context.Context, data []byte) (text string, pages int, err error) {
	// 损坏的 PDF 会让库直接 panic
	defer func() {
		if rec := recover(); rec != nil {
			text, pages, err = "", 0, fmt.Errorf("%w: pdf: %v", ErrParse, rec)
		}
	}()

	rd, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, fmt.Errorf("%w: pdf: %w", ErrParse, err)
	}

	var sb strings.Builder
	n := rd.NumPage()
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return "", 0, err
		}
		page := rd.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return "", 0, fmt.Errorf("%w: pdf page %d: %w", ErrParse, i, err)
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "--- Page %d ---\n", i)
		sb.WriteString(content)
	}
	return sb.String(), n, nil
}
