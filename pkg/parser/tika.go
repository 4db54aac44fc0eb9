package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"aero-doc-go/pkg/log"
)

// TikaParser 调用 Apache Tika Server 提取文本。
type TikaParser struct {
	serverURL  string
	extensions []string
	client     *http.Client
}

var _ Parser = (*TikaParser)(nil)

// NewTikaParser 创建一个 Tika 解析器，extensions 为空时不限制文件类型。
func NewTikaParser(serverURL string, extensions []string) *TikaParser {
	exts := make([]string, 0, len(extensions))
	for _, e := range extensions {
		exts = append(exts, strings.ToLower(e))
	}
	return &TikaParser{
		serverURL:  strings.TrimRight(serverURL, "/"),
		extensions: exts,
		client:     &http.Client{},
	}
}

func (p *TikaParser) Parse(ctx context.Context, r io.Reader, filename string) (string, int, error) {
	if len(p.extensions) > 0 && !slices.Contains(p.extensions, extOf(filename)) {
		return "", 0, unsupported(filename)
	}
	// 文本和元数据要各请求一次，先读进内存
	data, err := io.ReadAll(r)
	if err != nil {
		return "", 0, fmt.Errorf("%w: read input: %w", ErrParse, err)
	}

	text, err := p.put(ctx, "/tika", "text/plain", data, filename)
	if err != nil {
		return "", 0, err
	}

	units := 1
	meta, err := p.put(ctx, "/meta", "application/json", data, filename)
	if err != nil {
		log.Warnf("[TikaParser] 获取元数据失败, 页数按 1 计: file=%s, err=%v", filename, err)
	} else if n := pageCount(meta); n > 0 {
		units = n
	}
	return text, units, nil
}

func (p *TikaParser) put(ctx context.Context, path, accept string, data []byte, filename string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, p.serverURL+path, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: 创建请求失败: %w", ErrParse, err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("Content-Type", detectMimeType(filename))

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: 调用 Tika 失败: %w", ErrParse, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: 读取 Tika 响应失败: %w", ErrParse, err)
	}
	switch {
	case resp.StatusCode == http.StatusUnsupportedMediaType:
		return "", unsupported(filename)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("%w: Tika 返回错误 [%d]: %s", ErrParse, resp.StatusCode, string(body))
	}
	return string(body), nil
}

// pageCount 从 /meta 的 JSON 中读取页数，Tika 对不同格式使用不同的键。
func pageCount(meta string) int {
	var m map[string]any
	if err := json.Unmarshal([]byte(meta), &m); err != nil {
		return 0
	}
	for _, key := range []string{"xmpTPg:NPages", "meta:page-count", "Page-Count"} {
		switch v := m[key].(type) {
		case string:
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		case float64:
			return int(v)
		case []any:
			if len(v) > 0 {
				if s, ok := v[0].(string); ok {
					if n, err := strconv.Atoi(s); err == nil {
						return n
					}
				}
			}
		}
	}
	return 0
}

// detectMimeType 根据文件扩展名判断 Content-Type
func detectMimeType(fileName string) string {
	ext := extOf(fileName)
	if ext == "" {
		return "application/octet-stream"
	}
	mimeType := mime.TypeByExtension(ext)
	if mimeType == "" {
		return "application/octet-stream"
	}
	return mimeType
}
