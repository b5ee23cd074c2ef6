package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/aeolun/wired/pkg/crypto"
	"github.com/aeolun/wired/pkg/protocol"
)

// DefaultConfigPath is where wired-server looks for its config file.
const DefaultConfigPath = "~/.wired/server.toml"

// TOMLConfig represents the structure of the server config file
type TOMLConfig struct {
	Server    ServerSection    `toml:"server"`
	Security  SecuritySection  `toml:"security"`
	Keepalive KeepaliveSection `toml:"keepalive"`
	Accounts  []AccountSection `toml:"accounts"`
}

type ServerSection struct {
	Address     string `toml:"address"`
	HTTPAddress string `toml:"http_address"`
	Name        string `toml:"name"`
	Description string `toml:"description"`
	BannerPath  string `toml:"banner_path"`
	KeyPath     string `toml:"key_path"`
	Spec        string `toml:"spec"`
}

type SecuritySection struct {
	Ciphers                 []string `toml:"ciphers"`
	Compressions            []string `toml:"compressions"`
	Checksums               []string `toml:"checksums"`
	AllowGuest              bool     `toml:"allow_guest"`
	GuestPrivileges         []string `toml:"guest_privileges"`
	HandshakeTimeoutSeconds int      `toml:"handshake_timeout_seconds"`
}

type KeepaliveSection struct {
	PingIntervalSeconds int `toml:"ping_interval_seconds"`
}

type AccountSection struct {
	Login      string   `toml:"login"`
	Password   string   `toml:"password"`
	Privileges []string `toml:"privileges"`
}

// ServerConfig holds the resolved server configuration
type ServerConfig struct {
	Address     string
	HTTPAddress string // empty disables the HTTP surface
	Name        string
	Description string
	Banner      []byte
	KeyPath     string
	Spec        string

	// The first entry of each list is the fallback offered to clients
	// proposing something else.
	Ciphers      []crypto.CipherKind
	Compressions []protocol.Compression
	Checksums    []crypto.ChecksumKind

	AllowGuest       bool
	GuestPrivileges  []string
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	Accounts         []Account
}

// Account is a login the server accepts.
type Account struct {
	Login      string
	Password   string
	Privileges []string
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Server: ServerSection{
			Address:     ":4871",
			HTTPAddress: ":4872",
			Name:        "Wired Server",
			Description: "A Wired server",
			KeyPath:     "~/.wired/server",
		},
		Security: SecuritySection{
			Ciphers: []string{
				crypto.CipherECDHChaCha20SHA256.String(),
				crypto.CipherECDHAES256SHA256.String(),
				crypto.CipherRSAAES256.String(),
				crypto.CipherNone.String(),
			},
			Compressions: []string{
				protocol.CompressionNone.String(),
				protocol.CompressionDeflate.String(),
				protocol.CompressionLZ4.String(),
			},
			Checksums: []string{
				crypto.ChecksumHMAC256.String(),
				crypto.ChecksumNone.String(),
				crypto.ChecksumSHA2256.String(),
				crypto.ChecksumSHA3256.String(),
				crypto.ChecksumPoly1305.String(),
			},
			AllowGuest:              true,
			HandshakeTimeoutSeconds: 30,
		},
		Keepalive: KeepaliveSection{
			PingIntervalSeconds: 30,
		},
	}
}

// DefaultConfig returns default server configuration
func DefaultConfig() ServerConfig {
	tc := DefaultTOMLConfig()
	cfg, err := tc.ToServerConfig()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadConfig loads configuration from a TOML file, creates default if not found,
// and applies environment variable overrides
func LoadConfig(path string) (TOMLConfig, error) {
	path, err := expandPath(path)
	if err != nil {
		return TOMLConfig{}, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		// If we can't write, just run with defaults.
		_ = writeDefaultConfig(path)
		return applyEnvOverrides(config), nil
	}

	config := DefaultTOMLConfig()
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return applyEnvOverrides(config), nil
}

func expandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, path[2:]), nil
}

func splitList(val string) []string {
	parts := strings.Split(val, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// applyEnvOverrides applies environment variable overrides to the config
// Environment variables follow the pattern: WIRED_SECTION_KEY
// Example: WIRED_SERVER_ADDRESS=:5000
func applyEnvOverrides(config TOMLConfig) TOMLConfig {
	if val := os.Getenv("WIRED_SERVER_ADDRESS"); val != "" {
		config.Server.Address = val
	}
	if val, ok := os.LookupEnv("WIRED_SERVER_HTTP_ADDRESS"); ok {
		// Set but empty disables the HTTP surface.
		config.Server.HTTPAddress = val
	}
	if val := os.Getenv("WIRED_SERVER_NAME"); val != "" {
		config.Server.Name = val
	}
	if val := os.Getenv("WIRED_SERVER_DESCRIPTION"); val != "" {
		config.Server.Description = val
	}
	if val := os.Getenv("WIRED_SERVER_BANNER_PATH"); val != "" {
		config.Server.BannerPath = val
	}
	if val := os.Getenv("WIRED_SERVER_KEY_PATH"); val != "" {
		config.Server.KeyPath = val
	}
	if val := os.Getenv("WIRED_SERVER_SPEC"); val != "" {
		config.Server.Spec = val
	}

	if val := os.Getenv("WIRED_SECURITY_CIPHERS"); val != "" {
		config.Security.Ciphers = splitList(val)
	}
	if val := os.Getenv("WIRED_SECURITY_COMPRESSIONS"); val != "" {
		config.Security.Compressions = splitList(val)
	}
	if val := os.Getenv("WIRED_SECURITY_CHECKSUMS"); val != "" {
		config.Security.Checksums = splitList(val)
	}
	if val := os.Getenv("WIRED_SECURITY_ALLOW_GUEST"); val != "" {
		if allow, err := strconv.ParseBool(val); err == nil {
			config.Security.AllowGuest = allow
		}
	}
	if val := os.Getenv("WIRED_SECURITY_HANDSHAKE_TIMEOUT_SECONDS"); val != "" {
		if seconds, err := strconv.Atoi(val); err == nil {
			config.Security.HandshakeTimeoutSeconds = seconds
		}
	}

	if val := os.Getenv("WIRED_KEEPALIVE_PING_INTERVAL_SECONDS"); val != "" {
		if seconds, err := strconv.Atoi(val); err == nil {
			config.Keepalive.PingIntervalSeconds = seconds
		}
	}

	return config
}

// ToServerConfig resolves suite names, reads the banner and converts
// TOMLConfig to ServerConfig.
func (c *TOMLConfig) ToServerConfig() (ServerConfig, error) {
	cfg := ServerConfig{
		Address:         c.Server.Address,
		HTTPAddress:     c.Server.HTTPAddress,
		Name:            c.Server.Name,
		Description:     c.Server.Description,
		Spec:            c.Server.Spec,
		AllowGuest:      c.Security.AllowGuest,
		GuestPrivileges: c.Security.GuestPrivileges,
	}

	var err error
	if cfg.KeyPath, err = expandPath(c.Server.KeyPath); err != nil {
		return cfg, err
	}
	if c.Server.BannerPath != "" {
		path, err := expandPath(c.Server.BannerPath)
		if err != nil {
			return cfg, err
		}
		if cfg.Banner, err = os.ReadFile(path); err != nil {
			return cfg, fmt.Errorf("failed to read banner: %w", err)
		}
	}

	for _, name := range c.Security.Ciphers {
		kind, err := crypto.ParseCipherKind(name)
		if err != nil {
			return cfg, fmt.Errorf("security.ciphers: %w", err)
		}
		cfg.Ciphers = append(cfg.Ciphers, kind)
	}
	for _, name := range c.Security.Compressions {
		kind, err := protocol.ParseCompression(name)
		if err != nil {
			return cfg, fmt.Errorf("security.compressions: %w", err)
		}
		cfg.Compressions = append(cfg.Compressions, kind)
	}
	for _, name := range c.Security.Checksums {
		kind, err := crypto.ParseChecksumKind(name)
		if err != nil {
			return cfg, fmt.Errorf("security.checksums: %w", err)
		}
		cfg.Checksums = append(cfg.Checksums, kind)
	}

	if c.Security.HandshakeTimeoutSeconds > 0 {
		cfg.HandshakeTimeout = time.Duration(c.Security.HandshakeTimeoutSeconds) * time.Second
	}
	if c.Keepalive.PingIntervalSeconds > 0 {
		cfg.PingInterval = time.Duration(c.Keepalive.PingIntervalSeconds) * time.Second
	}

	seen := make(map[string]bool)
	for _, a := range c.Accounts {
		if a.Login == "" {
			return cfg, fmt.Errorf("accounts: empty login")
		}
		if seen[a.Login] {
			return cfg, fmt.Errorf("accounts: duplicate login %q", a.Login)
		}
		seen[a.Login] = true
		cfg.Accounts = append(cfg.Accounts, Account{Login: a.Login, Password: a.Password, Privileges: a.Privileges})
	}
	return cfg, nil
}

// writeDefaultConfig writes the default config to a file with all options documented
func writeDefaultConfig(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content := `# Wired Server Configuration
# This file was auto-generated with default values
# Restart the server for changes to take effect
#
# Environment variables can override these settings:
# WIRED_SECTION_KEY (e.g., WIRED_SERVER_ADDRESS=:5000)

[server]
# P7 listener
address = ":4871"

# HTTP listener for /health, /metrics and the /ws websocket transport
# Set to "" to disable
http_address = ":4872"

name = "Wired Server"
description = "A Wired server"
# banner_path = "~/.wired/banner.png"

# Directory holding the RSA key used by rsa_aes256
key_path = "~/.wired/server"

# Protocol specification: a file path or http(s) URL.
# Leave empty to use the built-in wired specification.
# spec = "~/.wired/wired.xml"

[security]
# Accepted suites. The first entry of each list is offered to clients
# that propose something not listed.
ciphers = ["ecdh_chacha20_sha256", "ecdh_aes256_sha256", "rsa_aes256", "none"]
compressions = ["none", "deflate", "lz4"]
checksums = ["hmac_256", "none", "sha2_256", "sha3_256", "poly_1305"]

# Accept the "guest" login with an empty password
allow_guest = true
# guest_privileges = ["wired.account.chat.create_chats"]

handshake_timeout_seconds = 30

[keepalive]
# How often wired.send_ping is sent to every client
ping_interval_seconds = 30

# [[accounts]]
# login = "admin"
# password = "secret"
# privileges = ["wired.account.user.kick_users", "wired.account.user.ban_users"]
`

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
