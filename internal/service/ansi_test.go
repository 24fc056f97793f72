package service

import "testing"

func TestStripANSI(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain text", "plain text"},
		{"\x1b[31merror\x1b[0m occurred", "error occurred"},
		{"\x1b[1;32;40mbold green\x1b[m", "bold green"},
		{"\x1b[2K\x1b[1Gprogress 50%", "progress 50%"},
		{"\x1b]0;window title\x07body", "body"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := StripANSI(tt.in); got != tt.want {
			t.Fatalf("StripANSI(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
