package pdftext

import (
	"bytes"
	"regexp"
	"strings"
	"unicode"
)

// literalStringRe matches PDF literal strings: (text).
var literalStringRe = regexp.MustCompile(`\(([^)]*)\)`)

// textFromContent walks a decoded page content stream and collects the text
// shown by the Tj/TJ/'/" operators. Positioning operators become separators
// so words don't fuse: Td/TD insert a space, T* a newline. This is a
// line-oriented scan, not a full operator parser; the PDFs that defeat it
// (operators split across lines, hex strings) fall through to OCR via the
// quality gate.
func textFromContent(data []byte) string {
	var sb strings.Builder

	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		switch {
		case bytes.HasSuffix(line, []byte("Tj")), bytes.HasSuffix(line, []byte("TJ")):
			appendLiterals(&sb, line, false)
		case bytes.HasSuffix(line, []byte("'")) && bytes.Contains(line, []byte("(")):
			appendLiterals(&sb, line, true)
		case bytes.HasSuffix(line, []byte("\"")) && bytes.Contains(line, []byte("(")):
			appendLiterals(&sb, line, true)
		case bytes.Equal(line, []byte("T*")):
			sb.WriteByte('\n')
		case bytes.HasSuffix(line, []byte("Td")), bytes.HasSuffix(line, []byte("TD")):
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
		}
	}

	return tidy(sb.String())
}

func appendLiterals(sb *strings.Builder, line []byte, newline bool) {
	for _, m := range literalStringRe.FindAllSubmatch(line, -1) {
		text := decodeLiteral(m[1])
		if text == "" {
			continue
		}
		if newline && sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(text)
	}
}

// decodeLiteral resolves backslash escapes, including octal byte values.
func decodeLiteral(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\\' || i+1 >= len(raw) {
			sb.WriteByte(raw[i])
			continue
		}
		i++
		switch raw[i] {
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case '\\', '(', ')':
			sb.WriteByte(raw[i])
		default:
			if raw[i] >= '0' && raw[i] <= '7' {
				val := int(raw[i] - '0')
				for d := 0; d < 2 && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7'; d++ {
					i++
					val = val*8 + int(raw[i]-'0')
				}
				sb.WriteByte(byte(val))
			} else {
				sb.WriteByte(raw[i])
			}
		}
	}
	return sb.String()
}

// tidy collapses runs of blanks while keeping line breaks, so downstream
// formatting still sees the page's line structure.
func tidy(text string) string {
	var sb strings.Builder
	prevSpace := false
	for _, r := range text {
		switch {
		case r == '\n':
			sb.WriteByte('\n')
			prevSpace = true
		case unicode.IsSpace(r):
			if !prevSpace && sb.Len() > 0 {
				sb.WriteByte(' ')
				prevSpace = true
			}
		default:
			sb.WriteRune(r)
			prevSpace = false
		}
	}
	return strings.TrimSpace(sb.String())
}
