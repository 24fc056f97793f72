package service

import "regexp"

// ansiRe matches CSI escape sequences (colors, cursor movement) and OSC
// title sequences, the escapes dev servers commonly emit.
var ansiRe = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)`)

// StripANSI removes terminal escape sequences from a captured line so the
// persisted text is plain.
func StripANSI(s string) string {
	if !containsEscape(s) {
		return s
	}
	return ansiRe.ReplaceAllString(s, "")
}

func containsEscape(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == 0x1b {
			return true
		}
	}
	return false
}
