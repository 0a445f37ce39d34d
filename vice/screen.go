package vice

import "bytes"

const (
	// DefaultScreenStart is the default text screen address of the main computer.
	DefaultScreenStart uint16 = 0x0400
	// ScreenColumns is the width of the text screen.
	ScreenColumns = 40
	// ScreenRows is the height of the text screen.
	ScreenRows = 25

	screenBlank byte = 0x20
)

// ScreenCodes converts upper case ASCII text to the screen codes stored in text screen memory. Letters map to
// 1..26, '@' to 0, and digits, space and punctuation in 0x20..0x3f keep their value. Other bytes become blanks.
func ScreenCodes(s string) []byte {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch >= 'a' && ch <= 'z':
			out[i] = ch - 'a' + 1
		case ch >= 'A' && ch <= 'Z':
			out[i] = ch - 'A' + 1
		case ch == '@':
			out[i] = 0
		case ch >= 0x20 && ch <= 0x3F:
			out[i] = ch
		default:
			out[i] = screenBlank
		}
	}
	return out
}

// ScreenText renders screen codes back to ASCII, the inverse of ScreenCodes for the supported range. Reverse video
// is ignored.
func ScreenText(codes []byte) string {
	out := make([]byte, len(codes))
	for i, c := range codes {
		c &= 0x7F
		switch {
		case c == 0:
			out[i] = '@'
		case c >= 1 && c <= 26:
			out[i] = 'A' + c - 1
		case c >= 0x20 && c <= 0x3F:
			out[i] = c
		default:
			out[i] = '.'
		}
	}
	return string(out)
}

// ScreenLines splits a screen dump into rows of ScreenColumns and trims trailing blanks.
func ScreenLines(codes []byte) []string {
	var lines []string
	for off := 0; off < len(codes); off += ScreenColumns {
		row := codes[off:min(off+ScreenColumns, len(codes))]
		lines = append(lines, string(bytes.TrimRight([]byte(ScreenText(row)), " ")))
	}
	return lines
}
