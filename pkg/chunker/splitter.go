// Package chunker 将解析后的文档文本切分为带重叠的片段。
//
// 切分按分隔符优先级递归进行：先尝试段落（"\n\n"），片段仍然超长时再退到换行、空格，
// 最后按字符切。长度以 rune 计，中文与英文一视同仁。
package chunker

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrInvalidConfig 表示 chunkSize/overlap 配置非法。
var ErrInvalidConfig = errors.New("invalid chunker configuration")

// DefaultSeparators 是默认的分隔符优先级，空串表示按字符切分。
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// Splitter 是无状态的，可以被多个 goroutine 共享。
type Splitter struct {
	chunkSize  int
	overlap    int
	separators []string
}

// Option 用于定制 Splitter。
type Option func(*Splitter)

// WithSeparators 替换默认分隔符列表。列表末尾若没有空串会自动补上，保证一定能切开。
func WithSeparators(seps []string) Option {
	return func(s *Splitter) {
		s.separators = append([]string(nil), seps...)
	}
}

// New 创建 Splitter，要求 chunkSize > overlap >= 0。
func New(chunkSize, overlap int, opts ...Option) (*Splitter, error) {
	if overlap < 0 || chunkSize <= overlap {
		return nil, fmt.Errorf("%w: chunk_size=%d overlap=%d, need chunk_size > overlap >= 0", ErrInvalidConfig, chunkSize, overlap)
	}
	s := &Splitter{
		chunkSize:  chunkSize,
		overlap:    overlap,
		separators: DefaultSeparators,
	}
	for _, opt := range opts {
		opt(s)
	}
	if n := len(s.separators); n == 0 || s.separators[n-1] != "" {
		s.separators = append(s.separators, "")
	}
	return s, nil
}

// Split 是一次性调用的便捷函数。
func Split(text string, chunkSize, overlap int) ([]string, error) {
	s, err := New(chunkSize, overlap)
	if err != nil {
		return nil, err
	}
	return s.Split(text), nil
}

func (s *Splitter) ChunkSize() int { return s.chunkSize }
func (s *Splitter) Overlap() int   { return s.overlap }

// Split 切分文本。空文本或只有空白的文本返回空切片。
// 相同输入与配置总是得到相同输出。
func (s *Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return s.split(text, s.separators)
}

func (s *Splitter) split(text string, separators []string) []string {
	// 选出第一个在文本中出现的分隔符，更细的分隔符留给超长片段递归使用
	sep := ""
	var finer []string
	for i, candidate := range separators {
		if candidate == "" {
			break
		}
		if strings.Contains(text, candidate) {
			sep = candidate
			finer = separators[i+1:]
			break
		}
	}

	var (
		chunks []string
		small  []string
	)
	for _, piece := range splitKeepingSeparator(text, sep) {
		if utf8.RuneCountInString(piece) < s.chunkSize {
			small = append(small, piece)
			continue
		}
		if len(small) > 0 {
			chunks = append(chunks, s.merge(small)...)
			small = nil
		}
		if len(finer) == 0 {
			if trimmed := strings.TrimSpace(piece); trimmed != "" {
				chunks = append(chunks, trimmed)
			}
			continue
		}
		chunks = append(chunks, s.split(piece, finer)...)
	}
	if len(small) > 0 {
		chunks = append(chunks, s.merge(small)...)
	}
	return chunks
}

// merge 把小片段拼成不超过 chunkSize 的块，相邻块之间保留不超过 overlap 的尾部片段。
func (s *Splitter) merge(pieces []string) []string {
	var (
		out     []string
		current []string
		total   int
	)
	for _, piece := range pieces {
		n := utf8.RuneCountInString(piece)
		if total+n > s.chunkSize && len(current) > 0 {
			if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
				out = append(out, doc)
			}
			for total > s.overlap || (total+n > s.chunkSize && total > 0) {
				total -= utf8.RuneCountInString(current[0])
				current = current[1:]
			}
		}
		current = append(current, piece)
		total += n
	}
	if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
		out = append(out, doc)
	}
	return out
}

// splitKeepingSeparator 按 sep 切分，分隔符保留在后一个片段的开头。
// sep 为空时按 rune 切分。
func splitKeepingSeparator(text, sep string) []string {
	if sep == "" {
		pieces := make([]string, 0, utf8.RuneCountInString(text))
		for _, r := range text {
			pieces = append(pieces, string(r))
		}
		return pieces
	}
	parts := strings.Split(text, sep)
	pieces := make([]string, 0, len(parts))
	for i, part := range parts {
		if i > 0 {
			part = sep + part
		}
		if part != "" {
			pieces = append(pieces, part)
		}
	}
	return pieces
}
