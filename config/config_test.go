package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `Owner = "0101010101010101010101010101010101010101"`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != defaultListenAddress {
		t.Fatalf("listen address = %q", cfg.ListenAddress)
	}
	if cfg.DataDir != defaultDataDir {
		t.Fatalf("data dir = %q", cfg.DataDir)
	}
	if cfg.EventLogSize != defaultEventLogSize {
		t.Fatalf("event log size = %d", cfg.EventLogSize)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
Owner = "0101010101010101010101010101010101010101"
Unexpected = true
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("unknown keys must be rejected")
	}
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	// The default file has no owner, so Load must surface an error telling
	// the operator to fill it in.
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error prompting for the owner")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default file must be written: %v", err)
	}
}

func TestOwnerAddress(t *testing.T) {
	cases := []struct {
		name    string
		owner   string
		wantErr bool
	}{
		{"plain hex", "0101010101010101010101010101010101010101", false},
		{"0x prefix", "0x0101010101010101010101010101010101010101", false},
		{"empty", "", true},
		{"short", "0101", true},
		{"not hex", "zz01010101010101010101010101010101010101", true},
		{"zero address", "0000000000000000000000000000000000000000", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{Owner: tc.owner}
			addr, err := cfg.OwnerAddress()
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if addr[0] != 0x01 || addr[19] != 0x01 {
				t.Fatalf("unexpected address %x", addr)
			}
		})
	}
}
