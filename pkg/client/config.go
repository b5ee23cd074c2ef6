package client

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
	"github.com/aeolun/wired/pkg/wire"
)

// DefaultConfigPath is where the client looks for its config file.
const DefaultConfigPath = "~/.wired/client.toml"

// Config represents the structure of the client config file
type Config struct {
	Client      ClientSection      `toml:"client"`
	Transport   TransportSection   `toml:"transport"`
	Keepalive   KeepaliveSection   `toml:"keepalive"`
	Application ApplicationSection `toml:"application"`
}

type ClientSection struct {
	Nick      string `toml:"nick"`
	Status    string `toml:"status"`
	IconPath  string `toml:"icon_path"`
	Spec      string `toml:"spec"`
	StatePath string `toml:"state_path"`
}

type TransportSection struct {
	Cipher         string `toml:"cipher"`
	Compression    string `toml:"compression"`
	Checksum       string `toml:"checksum"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type KeepaliveSection struct {
	CheckIntervalSeconds int `toml:"check_interval_seconds"`
	TimeoutSeconds       int `toml:"timeout_seconds"`
}

type ApplicationSection struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
	Build   string `toml:"build"`
}

// DefaultConfig returns the default client configuration
func DefaultConfig() Config {
	id := DefaultIdentity()
	return Config{
		Client: ClientSection{
			Nick:      id.Nick,
			StatePath: "~/.wired/state.db",
		},
		Transport: TransportSection{
			Cipher:         crypto.CipherRSAAES256.String(),
			Compression:    protocol.CompressionNone.String(),
			Checksum:       crypto.ChecksumHMAC256.String(),
			TimeoutSeconds: int(wire.DefaultTimeout / time.Second),
		},
		Keepalive: KeepaliveSection{
			CheckIntervalSeconds: int(DefaultKeepaliveInterval / time.Second),
			TimeoutSeconds:       int(DefaultKeepaliveTimeout / time.Second),
		},
		Application: ApplicationSection{
			Name:    id.Application.Name,
			Version: id.Application.Version,
			Build:   id.Application.Build,
		},
	}
}

// LoadConfig loads configuration from a TOML file, creates default if not found,
// and applies environment variable overrides
func LoadConfig(path string) (Config, error) {
	path, err := ExpandPath(path)
	if err != nil {
		return Config{}, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultConfig()
		// A read-only home still gets a working default config.
		_ = writeDefaultConfig(path)
		return applyEnvOverrides(config), nil
	}

	config := DefaultConfig()
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return applyEnvOverrides(config), nil
}

// ExpandPath expands a leading ~/ to the home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, path[2:]), nil
}

// applyEnvOverrides applies environment variable overrides to the config
// Environment variables follow the pattern: WIRED_SECTION_KEY
// Example: WIRED_TRANSPORT_CIPHER=ecdh_chacha20_sha256
func applyEnvOverrides(config Config) Config {
	overrideString := func(name string, dst *string) {
		if val := os.Getenv(name); val != "" {
			*dst = val
		}
	}
	overrideInt := func(name string, dst *int) {
		if val := os.Getenv(name); val != "" {
			if n, err := strconv.Atoi(val); err == nil {
				*dst = n
			}
		}
	}

	overrideString("WIRED_CLIENT_NICK", &config.Client.Nick)
	overrideString("WIRED_CLIENT_STATUS", &config.Client.Status)
	overrideString("WIRED_CLIENT_ICON_PATH", &config.Client.IconPath)
	overrideString("WIRED_CLIENT_SPEC", &config.Client.Spec)
	overrideString("WIRED_CLIENT_STATE_PATH", &config.Client.StatePath)

	overrideString("WIRED_TRANSPORT_CIPHER", &config.Transport.Cipher)
	overrideString("WIRED_TRANSPORT_COMPRESSION", &config.Transport.Compression)
	overrideString("WIRED_TRANSPORT_CHECKSUM", &config.Transport.Checksum)
	overrideInt("WIRED_TRANSPORT_TIMEOUT_SECONDS", &config.Transport.TimeoutSeconds)

	overrideInt("WIRED_KEEPALIVE_CHECK_INTERVAL_SECONDS", &config.Keepalive.CheckIntervalSeconds)
	overrideInt("WIRED_KEEPALIVE_TIMEOUT_SECONDS", &config.Keepalive.TimeoutSeconds)

	overrideString("WIRED_APPLICATION_NAME", &config.Application.Name)
	overrideString("WIRED_APPLICATION_VERSION", &config.Application.Version)
	overrideString("WIRED_APPLICATION_BUILD", &config.Application.Build)

	return config
}

// TransportOptions converts the [transport] section to channel options.
func (c *Config) TransportOptions() (wire.Options, error) {
	opts := wire.DefaultOptions()

	cipher, err := crypto.ParseCipherKind(c.Transport.Cipher)
	if err != nil {
		return opts, fmt.Errorf("transport.cipher: %w", err)
	}
	compression, err := protocol.ParseCompression(c.Transport.Compression)
	if err != nil {
		return opts, fmt.Errorf("transport.compression: %w", err)
	}
	checksum, err := crypto.ParseChecksumKind(c.Transport.Checksum)
	if err != nil {
		return opts, fmt.Errorf("transport.checksum: %w", err)
	}

	opts.Cipher = cipher
	opts.Compression = compression
	opts.Checksum = checksum
	if c.Transport.TimeoutSeconds > 0 {
		opts.Timeout = time.Duration(c.Transport.TimeoutSeconds) * time.Second
	}
	return opts, nil
}

// Identity builds the login identity, reading the icon file if one is set.
func (c *Config) Identity() (Identity, error) {
	id := Identity{
		Nick:   c.Client.Nick,
		Status: c.Client.Status,
		Application: Application{
			Name:    c.Application.Name,
			Version: c.Application.Version,
			Build:   c.Application.Build,
		},
	}
	if c.Client.IconPath != "" {
		path, err := ExpandPath(c.Client.IconPath)
		if err != nil {
			return id, err
		}
		icon, err := os.ReadFile(path)
		if err != nil {
			return id, fmt.Errorf("failed to read icon: %w", err)
		}
		id.Icon = icon
	}
	return id, nil
}

// SessionOptions converts the config into Session options.
func (c *Config) SessionOptions() ([]Option, error) {
	transport, err := c.TransportOptions()
	if err != nil {
		return nil, err
	}
	id, err := c.Identity()
	if err != nil {
		return nil, err
	}

	opts := []Option{WithTransport(transport), WithIdentity(id)}
	if c.Keepalive.CheckIntervalSeconds > 0 && c.Keepalive.TimeoutSeconds > 0 {
		opts = append(opts, WithKeepalive(
			time.Duration(c.Keepalive.CheckIntervalSeconds)*time.Second,
			time.Duration(c.Keepalive.TimeoutSeconds)*time.Second,
		))
	}
	return opts, nil
}

// writeDefaultConfig writes the default config to a file with all options documented
func writeDefaultConfig(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content := `# Wired Client Configuration
# This file was auto-generated with default values
#
# Environment variables can override these settings:
# WIRED_SECTION_KEY (e.g., WIRED_TRANSPORT_CIPHER=ecdh_chacha20_sha256)

[client]
# Nickname, status text and icon announced after login
nick = "Wired Go"
# status = "Away"
# icon_path = "~/.wired/icon.png"

# Protocol specification: a file path or http(s) URL.
# Leave empty to use the built-in wired specification.
# spec = "~/.wired/wired.xml"

# SQLite database for pinned server keys and connection history
state_path = "~/.wired/state.db"

[transport]
# none, rsa_aes256, ecdh_aes256_sha256, ecdh_chacha20_sha256
cipher = "rsa_aes256"

# none, deflate, lz4
compression = "none"

# none, sha2_256, sha3_256, hmac_256, poly_1305
checksum = "hmac_256"

# Handshake timeout
timeout_seconds = 30

[keepalive]
# How often to check for server pings
check_interval_seconds = 10

# Disconnect after this long without a ping
timeout_seconds = 65

[application]
name = "wired"
version = "1.0"
build = "1"
`

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
