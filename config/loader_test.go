package config

import (
	"os"
	"path/filepath"
	"testing"
)

func userConfigFile(home string) string {
	return filepath.Join(home, UserConfigDir, UserConfigFile)
}

func TestEnsureUserConfigCreatesDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	loader := NewLoader(nil)
	if err := loader.EnsureUserConfig(); err != nil {
		t.Fatalf("EnsureUserConfig() error = %v", err)
	}

	cfg, err := LoadFromFile(userConfigFile(home))
	if err != nil {
		t.Fatalf("created config does not load: %v", err)
	}
	if cfg.Server.Addr != ":8787" {
		t.Errorf("expected default addr in created config, got %s", cfg.Server.Addr)
	}
}

func TestEnsureUserConfigKeepsExisting(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path := userConfigFile(home)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	existing := "server:\n  addr: \":9999\"\n"
	if err := os.WriteFile(path, []byte(existing), 0644); err != nil {
		t.Fatalf("write existing config: %v", err)
	}

	if err := NewLoader(nil).EnsureUserConfig(); err != nil {
		t.Fatalf("EnsureUserConfig() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if string(data) != existing {
		t.Error("EnsureUserConfig overwrote an existing config file")
	}
}

func TestLoaderLoadAppliesUserConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(t.TempDir())

	path := userConfigFile(home)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("server:\n  addr: \":9999\"\n"), 0644); err != nil {
		t.Fatalf("write user config: %v", err)
	}

	cfg, err := NewLoader(nil).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Addr != ":9999" {
		t.Errorf("expected user config addr :9999, got %s", cfg.Server.Addr)
	}
	// Defaults back-fill everything the user file omits
	if cfg.Model.Default == "" {
		t.Error("expected model default to survive the merge")
	}
}
