package provider

import (
	"strings"
	"unicode/utf8"
)

var sentenceEnders = map[byte]bool{'.': true, '!': true, '?': true}

func isWordBoundary(ch byte) bool {
	return ch == ' ' || ch == '\n' || ch == '\t'
}

// splitSentences cuts text after every sentence ender (.!?) that is
// followed by whitespace. Empty pieces are dropped.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := range len(text) - 1 {
		if sentenceEnders[text[i]] && isWordBoundary(text[i+1]) {
			if s := strings.TrimSpace(text[start : i+1]); s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

// chunkText packs whole sentences into chunks of at most max bytes.
// A single sentence longer than max is split at the last space that fits,
// or at a rune boundary when there is none.
func chunkText(text string, max int) []string {
	var chunks []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
	}
	for _, s := range splitSentences(text) {
		for len(s) > max {
			flush()
			head, tail := cutAt(s, max)
			chunks = append(chunks, head)
			s = tail
		}
		if s == "" {
			continue
		}
		if cur.Len() > 0 && cur.Len()+1+len(s) > max {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(s)
	}
	flush()
	return chunks
}

func cutAt(s string, max int) (string, string) {
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if sp := strings.LastIndexByte(s[:cut], ' '); sp > 0 {
		cut = sp
	}
	return strings.TrimSpace(s[:cut]), strings.TrimSpace(s[cut:])
}

// truncateBytes cuts s to at most max bytes on a rune boundary.
func truncateBytes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
