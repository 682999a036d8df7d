// Package textfmt normalizes extracted document text for human readers.
// Raw extraction output is full of hard-wrapped lines, inconsistent bullet
// glyphs and stray spacing; Format reflows it into paragraphs while keeping
// the structure that matters: headings stay on their own line, list items
// stay list items.
package textfmt

import (
	"strings"
	"unicode"
)

// Format reflows text: wrapped lines merge into paragraphs, heading-shaped
// lines stand alone, bullet markers normalize to "• ", runs of blanks
// collapse. Deterministic and idempotent.
func Format(text string) string {
	lines := strings.Split(text, "\n")

	var blocks []string
	var para []string

	flush := func() {
		if len(para) > 0 {
			blocks = append(blocks, collapseSpaces(strings.Join(para, " ")))
			para = nil
		}
	}

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		switch {
		case line == "":
			flush()
		case isBullet(line):
			flush()
			blocks = append(blocks, "• "+collapseSpaces(stripBullet(line)))
		case isHeading(line):
			flush()
			blocks = append(blocks, collapseSpaces(line))
		default:
			para = append(para, line)
		}
	}
	flush()

	return strings.Join(blocks, "\n\n")
}

// isHeading recognizes short standalone title lines: one to eight words,
// either ALL CAPS or Title Case throughout.
func isHeading(line string) bool {
	words := strings.Fields(line)
	if len(words) == 0 || len(words) > 8 {
		return false
	}
	if strings.HasSuffix(line, ",") || strings.HasSuffix(line, ";") {
		return false
	}
	if isAllCaps(line) {
		return true
	}
	for _, w := range words {
		r := firstLetter(w)
		if r == 0 {
			return false
		}
		if !unicode.IsUpper(r) {
			return false
		}
	}
	return true
}

func isAllCaps(line string) bool {
	hasLetter := false
	for _, r := range line {
		if unicode.IsLetter(r) {
			hasLetter = true
			if !unicode.IsUpper(r) {
				return false
			}
		}
	}
	return hasLetter
}

func firstLetter(word string) rune {
	for _, r := range word {
		if unicode.IsLetter(r) {
			return r
		}
		if unicode.IsDigit(r) {
			return 0
		}
	}
	return 0
}

// bulletPrefixes are the marker styles normalized away. Numbered markers
// ("1.", "12)", "(a)") are handled separately in stripBullet.
var bulletPrefixes = []string{"- ", "• ", "* ", "– ", "· "}

func isBullet(line string) bool {
	for _, p := range bulletPrefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return numberedMarkerLen(line) > 0
}

func stripBullet(line string) string {
	for _, p := range bulletPrefixes {
		if strings.HasPrefix(line, p) {
			return strings.TrimSpace(line[len(p):])
		}
	}
	if n := numberedMarkerLen(line); n > 0 {
		return strings.TrimSpace(line[n:])
	}
	return line
}

// numberedMarkerLen returns the byte length of a leading "1.", "23)" or
// "(a)" marker followed by a space, or 0 when the line has none.
func numberedMarkerLen(line string) int {
	// (a) style.
	if len(line) >= 4 && line[0] == '(' {
		i := 1
		for i < len(line) && i <= 3 && isAlnumByte(line[i]) {
			i++
		}
		if i > 1 && i < len(line)-1 && line[i] == ')' && line[i+1] == ' ' {
			return i + 2
		}
	}
	// 1. / 23) style.
	i := 0
	for i < len(line) && i < 4 && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0
	}
	if i+1 < len(line) && (line[i] == '.' || line[i] == ')') && line[i+1] == ' ' {
		return i + 2
	}
	return 0
}

func isAlnumByte(b byte) bool {
	return b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}

func collapseSpaces(s string) string {
	var b strings.Builder
	space := false
	for _, r := range s {
		if r == ' ' || r == '\t' {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}
