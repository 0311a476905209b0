package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config captures the runtime configuration of the escrow daemon.
type Config struct {
	ListenAddress         string `toml:"ListenAddress"`
	DataDir               string `toml:"DataDir"`
	Owner                 string `toml:"Owner"`
	EscrowIntervalSeconds uint64 `toml:"EscrowIntervalSeconds"`
	EventLogSize          int    `toml:"EventLogSize"`
}

const (
	defaultListenAddress = ":8545"
	defaultDataDir       = "./escrowd-data"
	// 30 days, matching the engine's stock claim window.
	defaultIntervalSeconds = 2_592_000
	defaultEventLogSize    = 256
)

// Load loads the configuration from the given path, creating a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s contains unknown field %s", path, undecoded[0])
	}

	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = defaultListenAddress
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = defaultDataDir
	}
	if cfg.EventLogSize <= 0 {
		cfg.EventLogSize = defaultEventLogSize
	}
}

// Validate checks the loaded configuration for operator mistakes that should
// stop the daemon before it opens the database.
func (c *Config) Validate() error {
	if _, err := c.OwnerAddress(); err != nil {
		return err
	}
	return nil
}

// OwnerAddress parses the configured operator address.
func (c *Config) OwnerAddress() ([20]byte, error) {
	var owner [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(c.Owner), "0x")
	if trimmed == "" {
		return owner, fmt.Errorf("config: Owner must be set to the operator address")
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return owner, fmt.Errorf("config: invalid Owner address: %w", err)
	}
	if len(raw) != len(owner) {
		return owner, fmt.Errorf("config: Owner address must be %d bytes", len(owner))
	}
	copy(owner[:], raw)
	if owner == ([20]byte{}) {
		return owner, fmt.Errorf("config: Owner address must not be zero")
	}
	return owner, nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{
		ListenAddress:         defaultListenAddress,
		DataDir:               defaultDataDir,
		EscrowIntervalSeconds: defaultIntervalSeconds,
		EventLogSize:          defaultEventLogSize,
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, fmt.Errorf("config: wrote default file to %s; set Owner before starting", path)
}
