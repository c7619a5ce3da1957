package content

import (
	"strings"
	"unicode/utf8"

	"github.com/rivo/uniseg"
)

// Length limits, counted in grapheme clusters.
const (
	MaxReplyLength = 280
	MaxPostLength  = 300
)

// Truncate shortens text to max graphemes, replacing the tail with "..." when
// it has to cut.
func Truncate(text string, max int) string {
	if uniseg.GraphemeClusterCount(text) <= max {
		return text
	}
	keep := max - 3
	if keep < 0 {
		keep = 0
	}
	var b strings.Builder
	gr := uniseg.NewGraphemes(text)
	for i := 0; i < keep && gr.Next(); i++ {
		b.WriteString(gr.Str())
	}
	return b.String() + "..."
}

// LimitEmojis keeps the first max emoji and drops the rest. Multi-codepoint
// emoji (flags, skin tones, ZWJ families) count as one. max <= 0 is no limit.
func LimitEmojis(text string, max int) string {
	if max <= 0 {
		return text
	}
	var b strings.Builder
	count := 0
	gr := uniseg.NewGraphemes(text)
	for gr.Next() {
		cluster := gr.Str()
		if isEmoji(cluster) {
			if count >= max {
				continue
			}
			count++
		}
		b.WriteString(cluster)
	}
	return b.String()
}

// CountEmojis counts emoji grapheme clusters.
func CountEmojis(text string) int {
	n := 0
	gr := uniseg.NewGraphemes(text)
	for gr.Next() {
		if isEmoji(gr.Str()) {
			n++
		}
	}
	return n
}

func isEmoji(cluster string) bool {
	if strings.ContainsRune(cluster, '\uFE0F') {
		return true
	}
	r, _ := utf8.DecodeRuneInString(cluster)
	switch {
	case r >= 0x1F000 && r <= 0x1FAFF: // pictographs, emoticons, flags, transport
		return true
	case r >= 0x2600 && r <= 0x27BF: // misc symbols, dingbats
		return true
	case r >= 0x2300 && r <= 0x23FF: // watch, hourglass, alarm clock
		return true
	case r >= 0x2B05 && r <= 0x2B55: // arrows, star, circle
		return true
	}
	return false
}
