// Package wire implements the P7 channel: the handshake that negotiates
// cipher, compression and checksum, and the framed message transport that
// runs over it afterwards.
package wire

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/aeolun/wired/pkg/crypto"
	"github.com/aeolun/wired/pkg/protocol"
	"github.com/aeolun/wired/pkg/spec"
)

// Channel is a negotiated P7 connection. Writes may come from any goroutine
// and are serialized internally; reads must come from one goroutine at a time.
type Channel struct {
	conn    net.Conn
	catalog *spec.Catalog
	role    crypto.Role
	log     zerolog.Logger

	reader   io.Reader
	writer   io.Writer
	maxFrame uint32

	writeMu sync.Mutex // encode, seal and socket write
	readMu  sync.Mutex

	cipher      *crypto.CipherState
	cipherKind  crypto.CipherKind
	checksum    crypto.ChecksumKind
	compression protocol.Compression
	compressing bool

	remoteName    string
	remoteVersion string
	username      string
	serverKey     string

	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func newChannel(conn net.Conn, catalog *spec.Catalog, role crypto.Role, maxFrame uint32, log zerolog.Logger) *Channel {
	if maxFrame == 0 {
		maxFrame = protocol.MaxFrameSize
	}
	c := &Channel{
		conn:     conn,
		catalog:  catalog,
		role:     role,
		maxFrame: maxFrame,
		log:      log.With().Str("remote", conn.RemoteAddr().String()).Str("role", role.String()).Logger(),
	}
	c.reader = bufio.NewReader(&countingReader{r: conn, counter: &c.bytesReceived})
	c.writer = &countingWriter{w: conn, counter: &c.bytesSent}
	return c
}

// Dial connects to a P7 server over TCP and performs the client handshake.
func Dial(ctx context.Context, address string, catalog *spec.Catalog, opts Options) (*Channel, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, ioError("dial", err)
	}
	return Connect(ctx, conn, catalog, opts)
}

// Connect performs the client handshake over an established connection. On
// failure the connection is closed.
func Connect(ctx context.Context, conn net.Conn, catalog *spec.Catalog, opts Options) (*Channel, error) {
	if err := opts.validate(); err != nil {
		conn.Close()
		return nil, err
	}

	c := newChannel(conn, catalog, crypto.RoleClient, opts.MaxFrameSize, loggerOrNop(opts.Logger))
	c.username = opts.Username
	if opts.Handshaking != nil {
		opts.Handshaking()
	}

	start := time.Now()
	err := c.handshake(ctx, opts.Timeout, func() error { return c.clientHandshake(opts) })
	recordHandshake(crypto.RoleClient, opts.Cipher, err, time.Since(start))
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Accept performs the server handshake over an accepted connection. On
// failure the connection is closed.
func Accept(ctx context.Context, conn net.Conn, catalog *spec.Catalog, policy ServerPolicy) (*Channel, error) {
	if err := policy.validate(); err != nil {
		conn.Close()
		return nil, err
	}

	c := newChannel(conn, catalog, crypto.RoleServer, policy.MaxFrameSize, loggerOrNop(policy.Logger))

	start := time.Now()
	err := c.handshake(ctx, policy.Timeout, func() error { return c.serverHandshake(policy) })
	recordHandshake(crypto.RoleServer, c.cipherKind, err, time.Since(start))
	if err != nil {
		return nil, err
	}
	return c, nil
}

// handshake runs fn under the handshake deadline, aborting it if ctx ends.
func (c *Channel) handshake(ctx context.Context, timeout time.Duration, fn func() error) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	_ = c.conn.SetDeadline(time.Now().Add(timeout))
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})

	err := fn()
	if !stop() && err == nil {
		err = ctx.Err()
	}
	if err == nil {
		err = ioError("handshake", c.conn.SetDeadline(time.Time{}))
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = &IoError{Op: "handshake", Err: ctxErr}
		}
		c.log.Warn().Err(err).Msg("handshake failed")
		c.Release()
		return err
	}

	c.log.Info().
		Str("protocol", c.remoteName).
		Str("version", c.remoteVersion).
		Str("cipher", c.cipherKind.String()).
		Str("checksum", c.checksum.String()).
		Str("compression", c.compression.String()).
		Msg("handshake complete")
	return nil
}

// WriteMessage encodes m and sends it through the negotiated transform.
func (c *Channel) WriteMessage(m *protocol.Message) error {
	payload, err := m.Encode()
	if err != nil {
		return err
	}
	if err := c.writePayload(payload); err != nil {
		return err
	}
	c.log.Trace().Str("message", m.Name()).Msg("sent")
	return nil
}

// ReadMessage reads and decodes the next message. Fields unknown to the
// catalog are skipped and logged, as are fields the message does not declare. A spec.Error means the frame named an
// unknown message; the stream is still in sync and reading may continue.
func (c *Channel) ReadMessage() (*protocol.Message, error) {
	payload, err := c.readPayload()
	if err != nil {
		return nil, err
	}
	m, err := protocol.Decode(c.catalog, payload)
	if err != nil {
		return nil, err
	}
	if skipped := m.Skipped(); len(skipped) > 0 {
		c.log.Debug().Str("message", m.Name()).Uints32("fields", skipped).Msg("skipped unknown fields")
	}
	if undeclared := m.Undeclared(); len(undeclared) > 0 {
		c.log.Debug().Str("message", m.Name()).Strs("fields", undeclared).Msg("undeclared fields")
	}
	c.log.Trace().Str("message", m.Name()).Msg("received")
	return m, nil
}

// WriteOOB sends a raw out-of-band payload through the negotiated transform.
func (c *Channel) WriteOOB(data []byte) error {
	return c.writePayload(data)
}

// ReadOOB reads the next out-of-band payload.
func (c *Channel) ReadOOB() ([]byte, error) {
	return c.readPayload()
}

func (c *Channel) writePayload(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return ioError("write", ErrClosed)
	}

	var err error
	if c.compressing {
		if payload, err = protocol.Compress(c.compression, payload); err != nil {
			return ioError("compress", err)
		}
	}

	var trailer []byte
	if c.cipher != nil {
		if payload, trailer, err = c.cipher.Seal(payload); err != nil {
			return err
		}
	}

	if err := protocol.EncodeFrame(c.writer, &protocol.Frame{Payload: payload, Trailer: trailer}, c.maxFrame); err != nil {
		return ioError("write", err)
	}
	recordFrame("out", len(payload))
	return nil
}

func (c *Channel) readPayload() ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if c.closed.Load() {
		return nil, ioError("read", ErrClosed)
	}

	trailerLen := 0
	if c.cipher != nil {
		trailerLen = c.cipher.TagSize()
	}

	frame, err := protocol.DecodeFrame(c.reader, c.maxFrame, trailerLen)
	if err != nil {
		if c.closed.Load() {
			err = errors.Join(ErrClosed, err)
		}
		return nil, ioError("read", err)
	}
	recordFrame("in", len(frame.Payload))

	payload := frame.Payload
	if c.cipher != nil {
		if payload, err = c.cipher.Open(payload, frame.Trailer); err != nil {
			recordCryptoFailure("open")
			c.log.Error().Bool("security", true).Err(err).Msg("frame rejected")
			return nil, err
		}
	}

	if c.compressing {
		if payload, err = protocol.Decompress(c.compression, payload, c.maxFrame); err != nil {
			return nil, &ProtocolError{Kind: KindUnexpected, Detail: "undecodable frame", Err: err}
		}
	}
	return payload, nil
}

// enableCipher switches both directions to the negotiated cipher. The key
// material is copied and the caller's slices wiped.
func (c *Channel) enableCipher(kind crypto.CipherKind, checksum crypto.ChecksumKind, key, iv, macKey []byte) error {
	defer wipe(key, iv, macKey)

	state, err := crypto.NewCipherState(kind, checksum, key, iv, macKey, c.role)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	c.readMu.Lock()
	c.cipher = state
	c.readMu.Unlock()
	c.writeMu.Unlock()
	return nil
}

func wipe(bufs ...[]byte) {
	for _, b := range bufs {
		for i := range b {
			b[i] = 0
		}
	}
}

// SetReadDeadline sets the deadline for the underlying connection's reads.
func (c *Channel) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// Close closes the socket, unblocking any pending read. It is safe to call
// more than once.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// Release closes the channel and zeroes its key material. It waits for any
// in-flight read or write to return.
func (c *Channel) Release() {
	c.Close()

	c.writeMu.Lock()
	c.readMu.Lock()
	if c.cipher != nil {
		c.cipher.Zero()
		c.cipher = nil
	}
	c.readMu.Unlock()
	c.writeMu.Unlock()
}

// Catalog returns the catalog messages are decoded against.
func (c *Channel) Catalog() *spec.Catalog { return c.catalog }

// RemoteName returns the protocol name announced by the peer.
func (c *Channel) RemoteName() string { return c.remoteName }

// RemoteVersion returns the protocol version announced by the peer.
func (c *Channel) RemoteVersion() string { return c.remoteVersion }

// Username returns the authenticated login. On the client it is the login
// that was offered.
func (c *Channel) Username() string { return c.username }

// Cipher returns the negotiated cipher.
func (c *Channel) Cipher() crypto.CipherKind { return c.cipherKind }

// Checksum returns the negotiated checksum.
func (c *Channel) Checksum() crypto.ChecksumKind { return c.checksum }

// Compression returns the negotiated compression.
func (c *Channel) Compression() protocol.Compression { return c.compression }

// ServerKeyFingerprint returns the fingerprint of the server's RSA key, or ""
// for other ciphers.
func (c *Channel) ServerKeyFingerprint() string { return c.serverKey }

// RemoteAddr returns the peer address.
func (c *Channel) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *Channel) BytesSent() uint64     { return c.bytesSent.Load() }
func (c *Channel) BytesReceived() uint64 { return c.bytesReceived.Load() }
