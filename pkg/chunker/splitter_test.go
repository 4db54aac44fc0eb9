package chunker

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name      string
		chunkSize int
		overlap   int
	}{
		{"overlap equals size", 100, 100},
		{"overlap larger than size", 100, 150},
		{"negative overlap", 100, -1},
		{"zero size", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.chunkSize, tt.overlap)
			assert.ErrorIs(t, err, ErrInvalidConfig)

			_, err = Split("some text", tt.chunkSize, tt.overlap)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestSplitEmptyText(t *testing.T) {
	s, err := New(1000, 200)
	require.NoError(t, err)

	assert.Empty(t, s.Split(""))
	assert.Empty(t, s.Split("   \n\n\t "))
}

func TestSplitCharacterFallback(t *testing.T) {
	text := strings.Repeat("x", 2500)

	chunks, err := Split(text, 1000, 200)
	require.NoError(t, err)

	require.Len(t, chunks, 3)
	assert.Equal(t, text[0:1000], chunks[0])
	assert.Equal(t, text[800:1800], chunks[1])
	assert.Equal(t, text[1600:2500], chunks[2])
}

func TestSplitPrefersWordBoundaries(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 500; i++ {
		fmt.Fprintf(&sb, "w%03d ", i)
	}
	text := sb.String()
	require.Equal(t, 2500, len(text))

	chunks, err := Split(text, 1000, 200)
	require.NoError(t, err)

	require.Len(t, chunks, 3)
	assert.True(t, strings.HasPrefix(chunks[0], "w000 "))
	assert.True(t, strings.HasPrefix(chunks[1], "w160 "))
	assert.True(t, strings.HasPrefix(chunks[2], "w320 "))
	assert.True(t, strings.HasSuffix(chunks[2], "w499"))
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 1000)
		for _, word := range strings.Fields(c) {
			assert.Len(t, word, 4, "chunk boundaries never cut a word")
		}
	}
	// 相邻块之间的重叠内容
	overlap := chunks[1][:strings.Index(chunks[1], "w200")-1]
	assert.True(t, strings.HasSuffix(chunks[0], overlap))
}

func TestSplitPrefersParagraphs(t *testing.T) {
	p1 := strings.Repeat("a", 30)
	p2 := strings.Repeat("b", 30)

	chunks, err := Split(p1+"\n\n"+p2, 40, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{p1, p2}, chunks)
}

func TestSplitLongParagraphFallsBackToLines(t *testing.T) {
	line := strings.Repeat("c", 20)
	para := strings.Join([]string{line, line, line, line}, "\n")
	text := "short intro\n\n" + para

	chunks, err := Split(text, 50, 0)
	require.NoError(t, err)

	assert.Equal(t, "short intro", chunks[0])
	for _, c := range chunks[1:] {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 50)
		assert.NotContains(t, c, "\n\n")
	}
	assert.Equal(t, 4, strings.Count(strings.Join(chunks[1:], "\n"), line))
}

func TestSplitCoverageWithoutGaps(t *testing.T) {
	// 每个字符都不同，这样可以唯一定位每个块在原文中的位置
	var sb strings.Builder
	for i := 0; i < 600; i++ {
		sb.WriteRune(rune(0x4E00 + i))
	}
	text := sb.String()
	runes := []rune(text)

	configs := []struct{ size, overlap int }{
		{100, 0},
		{100, 30},
		{7, 3},
		{1, 0},
		{1000, 999},
	}
	for _, cfg := range configs {
		t.Run(fmt.Sprintf("%d_%d", cfg.size, cfg.overlap), func(t *testing.T) {
			chunks, err := Split(text, cfg.size, cfg.overlap)
			require.NoError(t, err)
			require.NotEmpty(t, chunks)

			prevEnd := 0
			for i, c := range chunks {
				n := utf8.RuneCountInString(c)
				assert.LessOrEqual(t, n, cfg.size)

				start := indexOfRune(runes, []rune(c)[0])
				require.GreaterOrEqual(t, start, 0)
				assert.Equal(t, c, string(runes[start:start+n]))
				if i == 0 {
					assert.Equal(t, 0, start)
				} else {
					assert.LessOrEqual(t, start, prevEnd, "no gap between chunk %d and %d", i-1, i)
					assert.LessOrEqual(t, prevEnd-start, cfg.overlap)
				}
				prevEnd = start + n
			}
			assert.Equal(t, len(runes), prevEnd)
		})
	}
}

func TestSplitIsDeterministic(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog.\n", 80)
	s, err := New(120, 40)
	require.NoError(t, err)

	assert.Equal(t, s.Split(text), s.Split(text))
}

func TestWithSeparatorsAppendsCharacterFallback(t *testing.T) {
	s, err := New(5, 0, WithSeparators([]string{"|"}))
	require.NoError(t, err)

	chunks := s.Split("aaaaaaaaaa")
	assert.Equal(t, []string{"aaaaa", "aaaaa"}, chunks)
}

func indexOfRune(runes []rune, r rune) int {
	for i, x := range runes {
		if x == r {
			return i
		}
	}
	return -1
}
