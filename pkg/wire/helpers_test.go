package wire

import (
	"context"
	"crypto/rsa"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aeolun/wired/pkg/crypto"
	"github.com/aeolun/wired/pkg/protocol"
	"github.com/aeolun/wired/pkg/spec"
)

var testRSAKey = sync.OnceValues(func() (*rsa.PrivateKey, error) {
	return crypto.GenerateRSAKey(1024)
})

func defaultCatalog(t testing.TB) *spec.Catalog {
	t.Helper()
	c, err := spec.Default()
	require.NoError(t, err)
	return c
}

// variantCatalog rewrites the embedded document, e.g. to bump its version.
func variantCatalog(t testing.TB, replacements ...string) *spec.Catalog {
	t.Helper()
	doc := string(defaultCatalog(t).Document())
	r := strings.NewReplacer(replacements...)
	c, err := spec.LoadBytes([]byte(r.Replace(doc)))
	require.NoError(t, err)
	return c
}

func testPolicy(t testing.TB) ServerPolicy {
	t.Helper()
	key, err := testRSAKey()
	require.NoError(t, err)

	return ServerPolicy{
		Ciphers: []crypto.CipherKind{
			crypto.CipherRSAAES256,
			crypto.CipherECDHAES256SHA256,
			crypto.CipherECDHChaCha20SHA256,
			crypto.CipherNone,
		},
		Compressions: []protocol.Compression{
			protocol.CompressionNone,
			protocol.CompressionDeflate,
			protocol.CompressionLZ4,
		},
		Checksums: []crypto.ChecksumKind{
			crypto.ChecksumHMAC256,
			crypto.ChecksumNone,
			crypto.ChecksumSHA2256,
			crypto.ChecksumSHA3256,
			crypto.ChecksumPoly1305,
		},
		RSAKey: key,
		Passwords: PasswordFunc(func(login string) (string, bool) {
			switch login {
			case "guest":
				return crypto.PasswordDigest(""), true
			case "admin":
				return crypto.PasswordDigest("secret"), true
			}
			return "", false
		}),
		Timeout: 10 * time.Second,
	}
}

func adminOptions(cipher crypto.CipherKind, checksum crypto.ChecksumKind, compression protocol.Compression) Options {
	return Options{
		Cipher:      cipher,
		Checksum:    checksum,
		Compression: compression,
		Username:    "admin",
		Password:    "secret",
		Timeout:     10 * time.Second,
	}
}

type channelPair struct {
	client    *Channel
	server    *Channel
	clientErr error
	serverErr error
}

// connectPair runs both halves of a handshake over a loopback TCP socket.
func connectPair(t *testing.T, clientCatalog, serverCatalog *spec.Catalog, opts Options, policy ServerPolicy) *channelPair {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	t.Cleanup(cancel)

	p := &channelPair{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			p.serverErr = err
			return
		}
		p.server, p.serverErr = Accept(ctx, conn, serverCatalog, policy)
	}()

	p.client, p.clientErr = Dial(ctx, ln.Addr().String(), clientCatalog, opts)
	if p.clientErr != nil {
		// Let a server blocked on its next read see the closed socket.
		<-done
	} else {
		select {
		case <-done:
		case <-ctx.Done():
			t.Fatal("server handshake did not finish")
		}
	}

	t.Cleanup(func() {
		if p.client != nil {
			p.client.Release()
		}
		if p.server != nil {
			p.server.Release()
		}
	})
	return p
}

func mustMessage(t testing.TB, c *spec.Catalog, name string, fields ...any) *protocol.Message {
	t.Helper()
	m, err := protocol.NewMessage(c, name)
	require.NoError(t, err)
	for i := 0; i+1 < len(fields); i += 2 {
		require.NoError(t, m.Set(fields[i].(string), fields[i+1]))
	}
	return m
}
