package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
addr: ":9090"
script_dir: /srv/scripts
force_json: true
exec_timeout: 30s
max_concurrent: 8
`)
	c, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := validateConfig(c); err != nil {
		t.Fatal(err)
	}
	if c.Addr != ":9090" || c.ScriptDir != "/srv/scripts" || !c.ForceJSON {
		t.Fatalf("config = %+v", c)
	}
	if c.execTimeout != 30*time.Second {
		t.Fatalf("execTimeout = %v", c.execTimeout)
	}
	if c.MaxConcurrent != 8 {
		t.Fatalf("max_concurrent = %d", c.MaxConcurrent)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, "script_dir: /srv/scripts\n")
	c, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := validateConfig(c); err != nil {
		t.Fatal(err)
	}
	if c.Addr != ":8080" || c.MaxConcurrent != 64 || c.execTimeout != 60*time.Second {
		t.Fatalf("defaults not applied: %+v", c)
	}
}

func TestLoadConfigUnknownKey(t *testing.T) {
	path := writeConfig(t, "script_dir: /srv/scripts\nbogus: 1\n")
	if _, err := loadConfig(path); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestValidateConfig(t *testing.T) {
	cases := []struct {
		name string
		mod  func(*Config)
	}{
		{"missing script_dir", func(c *Config) { c.ScriptDir = "" }},
		{"bad exec_timeout", func(c *Config) { c.ExecTimeout = "soon" }},
		{"negative exec_timeout", func(c *Config) { c.ExecTimeout = "-1s" }},
		{"zero max_concurrent", func(c *Config) { c.MaxConcurrent = 0 }},
		{"cert without key", func(c *Config) { c.TLSCert = "cert.pem" }},
	}
	for _, tc := range cases {
		c := defaultConfig()
		c.ScriptDir = "/srv/scripts"
		tc.mod(c)
		if err := validateConfig(c); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}
