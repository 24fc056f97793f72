package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// FuzzServiceConfigTOML feeds random-ish service fields into a tiny TOML and
// ensures the loader does not panic and keeps the port constraint.
func FuzzServiceConfigTOML(f *testing.F) {
	f.Add("web", "sleep 0.01", 0, "demo")
	f.Add("", "true", 70000, "")
	f.Add("api", "npm run dev && echo up", 3000, "demo")

	f.Fuzz(func(t *testing.T, name, cmd string, port int, workspace string) {
		clean := func(s string) string {
			s = strings.ReplaceAll(s, "\"", "")
			s = strings.ReplaceAll(s, "\n", " ")
			s = strings.ReplaceAll(s, "\r", " ")
			return strings.ReplaceAll(s, "\\", "")
		}
		name = clean(name)
		cmd = clean(cmd)
		workspace = clean(workspace)
		if workspace == "" {
			workspace = "w"
		}

		var b strings.Builder
		b.WriteString("[[workspaces]]\nname = \"" + workspace + "\"\n\n")
		b.WriteString("[[services]]\n")
		b.WriteString("workspace = \"" + workspace + "\"\n")
		b.WriteString("name = \"" + name + "\"\n")
		b.WriteString("command = \"" + cmd + "\"\n")
		b.WriteString("port = " + strconv.Itoa(port) + "\n")

		p := filepath.Join(t.TempDir(), "fuzz.toml")
		if err := os.WriteFile(p, []byte(b.String()), 0o644); err != nil {
			t.Skip()
		}
		fc, err := Load(p)
		if err != nil {
			return
		}
		for _, s := range fc.Services {
			if s.Port < 0 || s.Port > 65535 {
				t.Fatalf("out-of-range port survived validation: %d", s.Port)
			}
			if strings.TrimSpace(s.Name) == "" || strings.TrimSpace(s.Command) == "" {
				t.Fatalf("empty name/command survived validation: %+v", s)
			}
		}
	})
}
