package config

import (
	"os"
	"path/filepath"
	"testing"
)

func pairsToMap(pairs []string) map[string]string {
	m := make(map[string]string)
	for _, kv := range pairs {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				m[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return m
}

func TestLoadGlobalEnvMerge(t *testing.T) {
	dir := t.TempDir()
	dotenv := filepath.Join(dir, ".env")
	t.Setenv("OS_ONLY", "osv")
	if err := os.WriteFile(dotenv, []byte("FILE_ONLY=fv\nCHAIN=${OS_ONLY}-x\n"), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}
	data := "" +
		"use_os_env = true\n" +
		"env_files = [\"" + dotenv + "\"]\n" +
		"env = [\"TOP=tv\", \"FILE_ONLY=override\"]\n"
	cfgPath := filepath.Join(dir, "cfg.toml")
	if err := os.WriteFile(cfgPath, []byte(data), 0o644); err != nil {
		t.Fatalf("write cfg: %v", err)
	}

	pairs, err := LoadGlobalEnv(cfgPath)
	if err != nil {
		t.Fatalf("LoadGlobalEnv: %v", err)
	}
	m := pairsToMap(pairs)

	if m["OS_ONLY"] != "osv" {
		t.Fatalf("missing OS_ONLY: %q", m["OS_ONLY"])
	}
	// top-level env overrides file values
	if m["FILE_ONLY"] != "override" {
		t.Fatalf("FILE_ONLY = %q", m["FILE_ONLY"])
	}
	if m["TOP"] != "tv" {
		t.Fatalf("missing TOP: %q", m["TOP"])
	}
	// expansion is deferred to spawn time
	if m["CHAIN"] != "${OS_ONLY}-x" {
		t.Fatalf("CHAIN expanded early: %q", m["CHAIN"])
	}
}

func TestLoadGlobalEnvWithoutOSEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SHOULD_NOT_LEAK", "x")
	cfgPath := filepath.Join(dir, "cfg.toml")
	if err := os.WriteFile(cfgPath, []byte("env = [\"ONLY=1\"]\n"), 0o644); err != nil {
		t.Fatalf("write cfg: %v", err)
	}
	pairs, err := LoadGlobalEnv(cfgPath)
	if err != nil {
		t.Fatalf("LoadGlobalEnv: %v", err)
	}
	m := pairsToMap(pairs)
	if _, ok := m["SHOULD_NOT_LEAK"]; ok {
		t.Fatalf("OS env leaked without use_os_env: %+v", m)
	}
	if m["ONLY"] != "1" {
		t.Fatalf("missing ONLY: %+v", m)
	}
}

func TestLoadGlobalEnvFileCommentsAndExport(t *testing.T) {
	dir := t.TempDir()
	dotenv := filepath.Join(dir, ".env")
	if err := os.WriteFile(dotenv, []byte("# comment\nexport A=1\nB=two\n\nMALFORMED\n"), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}
	cfgPath := filepath.Join(dir, "cfg.toml")
	if err := os.WriteFile(cfgPath, []byte("env_files = [\""+dotenv+"\"]\n"), 0o644); err != nil {
		t.Fatalf("write cfg: %v", err)
	}
	pairs, err := LoadGlobalEnv(cfgPath)
	if err != nil {
		t.Fatalf("LoadGlobalEnv: %v", err)
	}
	m := pairsToMap(pairs)
	if m["A"] != "1" || m["B"] != "two" {
		t.Fatalf("unexpected pairs: %+v", m)
	}
	if len(m) != 2 {
		t.Fatalf("malformed line produced entries: %+v", m)
	}
}
