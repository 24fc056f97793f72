package env

import (
	"os"
	"path/filepath"
	"testing"
)

func lookup(env []string, key string) (string, bool) {
	prefix := key + "="
	for _, kv := range env {
		if len(kv) >= len(prefix) && kv[:len(prefix)] == prefix {
			return kv[len(prefix):], true
		}
	}
	return "", false
}

func TestMergePrecedence(t *testing.T) {
	t.Setenv("SERVON_TEST_OS", "from-os")
	t.Setenv("SERVON_TEST_SHARED", "from-os")

	e := New()
	e.FromOS()
	e.Set("SERVON_TEST_SHARED", "from-global")
	e.Set("SERVON_TEST_GLOBAL", "global-only")

	out := e.Merge(map[string]string{
		"SERVON_TEST_SHARED": "from-service",
		"PORT":               "8080",
	})

	if v, _ := lookup(out, "SERVON_TEST_OS"); v != "from-os" {
		t.Fatalf("os var = %q", v)
	}
	if v, _ := lookup(out, "SERVON_TEST_GLOBAL"); v != "global-only" {
		t.Fatalf("global var = %q", v)
	}
	if v, _ := lookup(out, "SERVON_TEST_SHARED"); v != "from-service" {
		t.Fatalf("per-service override lost: %q", v)
	}
	if v, _ := lookup(out, "PORT"); v != "8080" {
		t.Fatalf("PORT = %q", v)
	}
}

func TestMergeExpansion(t *testing.T) {
	e := New()
	e.FromOS()
	e.Set("API_HOST", "localhost")
	out := e.Merge(map[string]string{"API_URL": "http://${API_HOST}:${PORT}/v1", "PORT": "3000"})
	if v, _ := lookup(out, "API_URL"); v != "http://localhost:3000/v1" {
		t.Fatalf("expanded = %q", v)
	}
}

func TestMergeSkipsEmptyKeys(t *testing.T) {
	e := New()
	e.FromOS()
	out := e.Merge(map[string]string{"": "dropped", "KEEP": "1"})
	if _, ok := lookup(out, ""); ok {
		t.Fatal("empty key survived merge")
	}
	if v, _ := lookup(out, "KEEP"); v != "1" {
		t.Fatalf("KEEP = %q", v)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "svc.env")
	content := "# comment\nFOO=bar\n\nexport BAZ=qux\nMALFORMED\n=nokey\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	e := New()
	if err := e.LoadFile(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if e.Var["FOO"] != "bar" {
		t.Fatalf("FOO = %q", e.Var["FOO"])
	}
	if e.Var["BAZ"] != "qux" {
		t.Fatalf("BAZ = %q", e.Var["BAZ"])
	}
	if _, ok := e.Var["MALFORMED"]; ok {
		t.Fatal("malformed line should be skipped")
	}

	if err := e.LoadFile(filepath.Join(dir, "absent.env")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestUnset(t *testing.T) {
	e := New()
	e.Set("A", "1")
	e.Unset("A")
	if _, ok := e.Var["A"]; ok {
		t.Fatal("A still set after Unset")
	}
}
