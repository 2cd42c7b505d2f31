package message

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertChunks(t *testing.T, s string, limit int, chunks []string) {
	t.Helper()
	assert.Equal(t, s, strings.Join(chunks, ""), "chunks must concatenate to the input")
	for i, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), limit, "chunk %d too long", i)
		assert.NotEmpty(t, c, "chunk %d empty", i)
	}
}

func TestSplitText_Short(t *testing.T) {
	assert.Equal(t, []string{"hello"}, SplitText("hello", 10, ""))
	assert.Nil(t, SplitText("", 10, ""))
}

func TestSplitText_PrefersParagraph(t *testing.T) {
	s := "first paragraph\n\nsecond one line\nstill second"
	chunks := SplitText(s, 30, "")
	assertChunks(t, s, 30, chunks)
	require.Len(t, chunks, 2)
	assert.Equal(t, "first paragraph\n\n", chunks[0])
}

func TestSplitText_FallsBackToLine(t *testing.T) {
	s := "line one is here\nline two is here\nline three"
	chunks := SplitText(s, 25, "")
	assertChunks(t, s, 25, chunks)
	assert.Equal(t, "line one is here\n", chunks[0])
}

func TestSplitText_FallsBackToWord(t *testing.T) {
	s := "alpha beta gamma delta epsilon zeta"
	chunks := SplitText(s, 12, "")
	assertChunks(t, s, 12, chunks)
	for _, c := range chunks[:len(chunks)-1] {
		assert.True(t, strings.HasSuffix(c, " "), "word break expected, got %q", c)
	}
}

func TestSplitText_HardCutWithoutBreaks(t *testing.T) {
	s := strings.Repeat("x", 25)
	chunks := SplitText(s, 10, "")
	assertChunks(t, s, 10, chunks)
	assert.Len(t, chunks, 3)
}

func TestSplitText_CountsRunes(t *testing.T) {
	s := strings.Repeat("ção ", 300)
	chunks := SplitText(s, 100, "")
	assertChunks(t, s, 100, chunks)
}

func TestSplitText_ProviderLimitRoundTrip(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 400; i++ {
		b.WriteString("Paragraph with several words that keep going for a while.")
		if i%3 == 0 {
			b.WriteString("\n\n")
		} else {
			b.WriteString("\n")
		}
	}
	s := b.String()
	chunks := SplitText(s, TextLimit, "")
	require.Greater(t, len(chunks), 1)
	assertChunks(t, s, TextLimit, chunks)
}

func TestSplitText_HTMLDoesNotCutInsideTag(t *testing.T) {
	s := "aaaa <b>bold</b>"
	chunks := SplitText(s, 7, "HTML")
	assertChunks(t, s, 7, chunks)
	for _, c := range chunks {
		assert.False(t, strings.Count(c, "<") > strings.Count(c, ">"), "dangling tag in %q", c)
	}
}

func TestPlainTextLen(t *testing.T) {
	assert.Equal(t, 4, PlainTextLen("ação", ""))
	assert.Equal(t, 7, PlainTextLen("<b>bold</b> &amp;x", "HTML"))
	assert.Equal(t, 11, PlainTextLen("<b>bold</b>", "Markdown"))
}
