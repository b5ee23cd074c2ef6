package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeolun/wired/pkg/crypto"
	"github.com/aeolun/wired/pkg/protocol"
)

func TestLoadConfigWritesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.toml")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultTOMLConfig(), cfg)

	_, err = os.Stat(path)
	require.NoError(t, err)

	again, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again, "the written file decodes to the defaults")
}

func TestLoadConfigAccounts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
address = "127.0.0.1:5000"
name = "Home"

[security]
ciphers = ["rsa_aes256"]
checksums = ["sha2_256"]
compressions = ["deflate"]
allow_guest = false

[keepalive]
ping_interval_seconds = 5

[[accounts]]
login = "admin"
password = "secret"
privileges = ["wired.account.user.kick_users"]

[[accounts]]
login = "bob"
password = "hunter2"
`), 0644))

	tc, err := LoadConfig(path)
	require.NoError(t, err)
	cfg, err := tc.ToServerConfig()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:5000", cfg.Address)
	assert.Equal(t, ":4872", cfg.HTTPAddress, "unset keys keep defaults")
	assert.Equal(t, "Home", cfg.Name)
	assert.Equal(t, []crypto.CipherKind{crypto.CipherRSAAES256}, cfg.Ciphers)
	assert.Equal(t, []crypto.ChecksumKind{crypto.ChecksumSHA2256}, cfg.Checksums)
	assert.Equal(t, []protocol.Compression{protocol.CompressionDeflate}, cfg.Compressions)
	assert.False(t, cfg.AllowGuest)
	assert.Equal(t, 5*time.Second, cfg.PingInterval)
	require.Len(t, cfg.Accounts, 2)
	assert.Equal(t, Account{Login: "admin", Password: "secret", Privileges: []string{"wired.account.user.kick_users"}}, cfg.Accounts[0])
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.toml")
	t.Setenv("WIRED_SERVER_ADDRESS", ":9999")
	t.Setenv("WIRED_SERVER_HTTP_ADDRESS", "")
	t.Setenv("WIRED_SECURITY_CIPHERS", "none, ecdh_aes256_sha256")
	t.Setenv("WIRED_SECURITY_ALLOW_GUEST", "false")
	t.Setenv("WIRED_KEEPALIVE_PING_INTERVAL_SECONDS", "12")

	tc, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", tc.Server.Address)
	assert.Empty(t, tc.Server.HTTPAddress)
	assert.Equal(t, []string{"none", "ecdh_aes256_sha256"}, tc.Security.Ciphers)
	assert.False(t, tc.Security.AllowGuest)
	assert.Equal(t, 12, tc.Keepalive.PingIntervalSeconds)
}

func TestToServerConfigErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*TOMLConfig)
		want   string
	}{
		{"cipher", func(c *TOMLConfig) { c.Security.Ciphers = []string{"rot13"} }, "security.ciphers"},
		{"compression", func(c *TOMLConfig) { c.Security.Compressions = []string{"zip"} }, "security.compressions"},
		{"checksum", func(c *TOMLConfig) { c.Security.Checksums = []string{"crc"} }, "security.checksums"},
		{"empty login", func(c *TOMLConfig) { c.Accounts = []AccountSection{{Password: "x"}} }, "empty login"},
		{"duplicate login", func(c *TOMLConfig) {
			c.Accounts = []AccountSection{{Login: "a"}, {Login: "a"}}
		}, "duplicate login"},
		{"banner", func(c *TOMLConfig) { c.Server.BannerPath = "/nonexistent/banner.png" }, "banner"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := DefaultTOMLConfig()
			tt.mutate(&tc)
			_, err := tc.ToServerConfig()
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestNewServerRequiresKeyForRSA(t *testing.T) {
	cfg := testConfig()
	_, err := NewServer(cfg, testCatalog(t), nil)
	assert.Error(t, err)

	cfg.Ciphers = []crypto.CipherKind{crypto.CipherECDHAES256SHA256}
	_, err = NewServer(cfg, testCatalog(t), nil)
	assert.NoError(t, err)
}
