package message

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Provider limits, counted in characters of visible text.
const (
	TextLimit    = 4096
	CaptionLimit = 1024
)

// SplitText cuts s into chunks of at most limit runes. Each cut prefers the
// last paragraph break in the window, then the last line break, then the
// last space; a chunk is hard-cut mid-word only when the window has none of
// these. Separators stay attached to the chunk they end, so concatenating the
// chunks reproduces s exactly.
//
// For HTML parse mode a cut that would land inside a tag is moved to the
// start of that tag.
func SplitText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = TextLimit
	}
	if s == "" {
		return nil
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	isHTML := strings.EqualFold(parseMode, "HTML")
	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end >= len(rs) {
			out = append(out, string(rs[start:]))
			break
		}

		cut := findCut(rs, start, end, limit)
		if isHTML {
			cut = avoidTagSplit(rs, start, cut)
		}
		out = append(out, string(rs[start:cut]))
		start = cut
	}
	return out
}

// findCut returns the exclusive end index of the chunk starting at start.
// Paragraph and line breaks are only taken if they leave a chunk of at least
// a quarter of the limit, so one early blank line does not produce a tiny
// message.
func findCut(rs []rune, start, end, limit int) int {
	minChunk := limit / 4

	for i := end - 1; i > start; i-- {
		if rs[i] == '\n' && rs[i-1] == '\n' && i+1-start >= minChunk {
			return i + 1
		}
	}
	for i := end - 1; i >= start; i-- {
		if rs[i] == '\n' && i+1-start >= minChunk {
			return i + 1
		}
	}
	for i := end - 1; i >= start; i-- {
		if rs[i] == ' ' || rs[i] == '\t' {
			return i + 1
		}
	}
	return end
}

func avoidTagSplit(rs []rune, start, cut int) int {
	lastOpen, lastClose := -1, -1
	for i := start; i < cut; i++ {
		switch rs[i] {
		case '<':
			lastOpen = i
		case '>':
			lastClose = i
		}
	}
	if lastOpen > lastClose && lastOpen > start {
		return lastOpen
	}
	return cut
}

var htmlTagRegex = regexp.MustCompile(`<[^>]*>`)

// PlainTextLen returns the number of characters the recipient will see.
// HTML tags are not counted and entities count as one character.
func PlainTextLen(text, parseMode string) int {
	if strings.EqualFold(parseMode, "HTML") {
		text = html.UnescapeString(htmlTagRegex.ReplaceAllString(text, ""))
	}
	return utf8.RuneCountInString(text)
}
