package service

import (
	"os/exec"
	"strings"
)

// shellMetaChars are the characters that force a command through the shell.
const shellMetaChars = "|&;<>*?`$\"'(){}[]~"

// BuildCommand constructs an *exec.Cmd for a configured service command.
// Commands containing shell metacharacters run through the shell so
// compound commands ("npm install && npm start", pipes, redirects) work.
// Plain commands are split on whitespace and exec'd directly, so a missing
// binary surfaces as a spawn error instead of a shell exit code.
// An explicit shell invocation already present in the command string
// (e.g. "sh -c 'echo hi'") is honored without adding another layer.
func BuildCommand(command string) *exec.Cmd {
	cmdStr := strings.TrimSpace(command)
	if cmdStr == "" {
		return trueCommand()
	}
	if after, ok := parseExplicitShell(cmdStr); ok {
		return shellCommand(after)
	}
	if strings.ContainsAny(cmdStr, shellMetaChars) {
		return shellCommand(cmdStr)
	}
	parts := strings.Fields(cmdStr)
	name := parts[0]
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	// #nosec G204
	return exec.Command(name, args...)
}

// parseExplicitShell detects patterns like "sh -c <ARG>" or "/bin/sh -c <ARG>"
// at the beginning of cmdStr and returns the script after "-c". A single pair
// of wrapping quotes around the script is stripped so the shell sees the
// actual script rather than one quoted word.
func parseExplicitShell(cmdStr string) (string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	candidates := []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "}
	for _, p := range candidates {
		if strings.HasPrefix(trim, p) {
			after := trim[len(p):]
			if n := len(after); n >= 2 {
				if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
					after = after[1 : n-1]
				}
			}
			return after, true
		}
	}
	return "", false
}
