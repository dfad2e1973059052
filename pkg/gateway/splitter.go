package gateway

import "strings"

// sentence-ending runes, CJK punctuation included
var boundaries = map[rune]bool{
	'.': true, '!': true, '?': true,
	'。': true, '！': true, '？': true,
	'\n': true,
}

// SentenceSplitter accumulates streamed deltas and yields completed
// sentences. It is stateful: a sentence split across chunks comes out
// whole once its boundary arrives.
type SentenceSplitter struct {
	buf strings.Builder
}

// NewSentenceSplitter builds an empty splitter.
func NewSentenceSplitter() *SentenceSplitter {
	return &SentenceSplitter{}
}

// Feed appends a delta and returns any sentences it completed, boundary
// punctuation attached. Numbered list markers ("1.") and decimals don't
// split: a dot only ends a sentence when the text before it isn't a bare
// number.
func (s *SentenceSplitter) Feed(delta string) []string {
	var done []string
	for _, r := range delta {
		s.buf.WriteRune(r)
		if !boundaries[r] {
			continue
		}
		current := s.buf.String()
		if r == '.' && endsInNumber(current) {
			continue
		}
		if piece := strings.TrimSpace(current); piece != "" {
			done = append(done, piece)
		}
		s.buf.Reset()
	}
	return done
}

// Flush returns whatever is buffered without a boundary, trimmed.
func (s *SentenceSplitter) Flush() string {
	out := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	return out
}

// endsInNumber reports whether the text before the final dot is a number
// ("1." or "3.14" mid-write).
func endsInNumber(text string) bool {
	if len(text) < 2 {
		return false
	}
	i := len(text) - 2 // before the dot
	j := i
	for j >= 0 && text[j] >= '0' && text[j] <= '9' {
		j--
	}
	if j == i {
		return false // no digits before the dot
	}
	// a digit run preceded by start, whitespace, or another dot (decimals)
	return j < 0 || text[j] == ' ' || text[j] == '\n' || text[j] == '.'
}
