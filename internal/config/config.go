// Package config loads the TOML configuration for the matchatd server
// and the matchat client.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Server configures the matchatd daemon. Environment variables
// MATCHAT_ADDR and MATCHAT_DATA_DIR take precedence over the file.
type Server struct {
	Addr    string     `toml:"addr"`
	DataDir string     `toml:"data_dir"`
	Seed    []SeedUser `toml:"seed_user"`
}

// SeedUser is a pre-registered account loaded at startup.
type SeedUser struct {
	ID          string `toml:"id"`
	Email       string `toml:"email"`
	Name        string `toml:"name"`
	Institution string `toml:"institution"`
	Department  string `toml:"department"`
}

// Client configures the matchat terminal client.
type Client struct {
	ServerURL      string `toml:"server_url"`
	DefaultProfile string `toml:"default_profile"`
	UserID         string `toml:"user_id"`
}

// LoadServer reads a server config and applies env overrides and
// defaults.
func LoadServer(path string) (*Server, error) {
	var cfg Server
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}
	if addr := os.Getenv("MATCHAT_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if dir := os.Getenv("MATCHAT_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}
	if cfg.Addr == "" {
		cfg.Addr = ":3001"
	}
	if cfg.DataDir == "" {
		home, _ := os.UserHomeDir()
		cfg.DataDir = filepath.Join(home, ".matchatd")
	}
	return &cfg, nil
}

// LoadClient reads a client config. Missing file is an error so the
// caller can distinguish "unconfigured" from defaults.
func LoadClient(path string) (*Client, error) {
	var cfg Client
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	if url := os.Getenv("MATCHAT_SERVER_URL"); url != "" {
		cfg.ServerURL = url
	}
	if cfg.ServerURL == "" {
		cfg.ServerURL = "http://localhost:3001"
	}
	return &cfg, nil
}

// SaveClient writes a client config, creating parent dirs as needed.
func SaveClient(path string, cfg *Client) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
