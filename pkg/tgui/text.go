package tgui

import "unicode/utf8"

// TruncRunes returns s truncated to at most n runes, with an ellipsis
// appended when anything was cut. List previews use it so one long note
// cannot blow up a whole page.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	cut := 0
	for i, r := range s {
		count++
		if count == n {
			cut = i + utf8.RuneLen(r)
			continue
		}
		if count > n {
			if cut <= 0 {
				cut = i
			}
			return s[:cut] + "…"
		}
	}
	return s
}
