package wire

import (
	"github.com/aeolun/wired/pkg/crypto"
	"github.com/aeolun/wired/pkg/protocol"
	"github.com/aeolun/wired/pkg/spec"
)

const (
	msgClientHandshake = "p7.handshake.client_handshake"
	msgServerHandshake = "p7.handshake.server_handshake"
	msgAcknowledge     = "p7.handshake.acknowledge"
	msgServerKey       = "p7.encryption.server_key"
	msgClientKey       = "p7.encryption.client_key"
	msgEncryptionAck   = "p7.encryption.acknowledge"
	msgAuthError       = "p7.encryption.authentication_error"
	msgSpecification   = "p7.compatibility_check.specification"
	msgStatus          = "p7.compatibility_check.status"

	fieldVersion         = "p7.handshake.version"
	fieldProtocolName    = "p7.handshake.protocol.name"
	fieldProtocolVersion = "p7.handshake.protocol.version"
	fieldEncryption      = "p7.handshake.encryption"
	fieldCompression     = "p7.handshake.compression"
	fieldChecksum        = "p7.handshake.checksum"
	fieldCompatCheck     = "p7.handshake.compatibility_check"
	fieldPublicKey       = "p7.encryption.public_key"
	fieldCipherKey       = "p7.encryption.cipher.key"
	fieldCipherIV        = "p7.encryption.cipher.iv"
	fieldUsername        = "p7.encryption.username"
	fieldClientPassword  = "p7.encryption.client_password"
	fieldServerPassword  = "p7.encryption.server_password"
	fieldSpecification   = "p7.compatibility_check.specification"
	fieldStatus          = "p7.compatibility_check.status"
)

func (c *Channel) newMessage(name string) (*protocol.Message, error) {
	return protocol.NewMessage(c.catalog, name)
}

// send builds a message from alternating field names and values and writes it.
func (c *Channel) send(name string, fields ...any) error {
	m, err := c.newMessage(name)
	if err != nil {
		return err
	}
	for i := 0; i+1 < len(fields); i += 2 {
		if err := m.Set(fields[i].(string), fields[i+1]); err != nil {
			return err
		}
	}
	return c.WriteMessage(m)
}

// expect reads the next message and fails unless it is named name.
func (c *Channel) expect(name string) (*protocol.Message, error) {
	m, err := c.ReadMessage()
	if err != nil {
		return nil, err
	}
	if m.Name() != name {
		return nil, unexpected(m.Name(), name)
	}
	return m, nil
}

func requireData(m *protocol.Message, field string) ([]byte, error) {
	b, ok := m.Data(field)
	if !ok {
		return nil, NewProtocolError(KindUnexpected, "%s without %s", m.Name(), field)
	}
	return b, nil
}

func (c *Channel) clientHandshake(opts Options) error {
	hs, err := c.newMessage(msgClientHandshake)
	if err != nil {
		return err
	}
	hs.MustSet(fieldVersion, spec.P7Version).
		MustSet(fieldProtocolName, c.catalog.Name()).
		MustSet(fieldProtocolVersion, c.catalog.Version())
	if opts.Cipher != crypto.CipherNone {
		hs.MustSet(fieldEncryption, uint32(opts.Cipher))
	}
	if opts.Compression != protocol.CompressionNone {
		hs.MustSet(fieldCompression, uint32(opts.Compression))
	}
	if opts.Checksum != crypto.ChecksumNone {
		hs.MustSet(fieldChecksum, uint32(opts.Checksum))
	}
	if err := c.WriteMessage(hs); err != nil {
		return err
	}

	reply, err := c.expect(msgServerHandshake)
	if err != nil {
		return err
	}
	if v, _ := reply.String(fieldVersion); v != spec.P7Version {
		return NewProtocolError(KindVersionMismatch, "server speaks P7 %q, want %q", v, spec.P7Version)
	}
	c.remoteName, _ = reply.String(fieldProtocolName)
	c.remoteVersion, _ = reply.String(fieldProtocolVersion)

	cipher, _ := reply.Enum(fieldEncryption)
	compression, _ := reply.Enum(fieldCompression)
	checksum, _ := reply.Enum(fieldChecksum)
	switch {
	case crypto.CipherKind(cipher) != opts.Cipher:
		return NewProtocolError(KindCipherRejected, "proposed %s, server chose %s", opts.Cipher, crypto.CipherKind(cipher))
	case protocol.Compression(compression) != opts.Compression:
		return NewProtocolError(KindCipherRejected, "proposed compression %s, server chose %s", opts.Compression, protocol.Compression(compression))
	case crypto.ChecksumKind(checksum) != opts.Checksum:
		return NewProtocolError(KindCipherRejected, "proposed checksum %s, server chose %s", opts.Checksum, crypto.ChecksumKind(checksum))
	}
	c.cipherKind, c.checksum, c.compression = opts.Cipher, opts.Checksum, opts.Compression

	remoteFlag, _ := reply.Bool(fieldCompatCheck)
	localFlag := !c.catalog.Compatible(c.remoteName, c.remoteVersion)

	ack, err := c.newMessage(msgAcknowledge)
	if err != nil {
		return err
	}
	if localFlag {
		ack.MustSet(fieldCompatCheck, true)
	}
	if err := c.WriteMessage(ack); err != nil {
		return err
	}
	c.compressing = c.compression != protocol.CompressionNone

	switch {
	case opts.Cipher == crypto.CipherRSAAES256:
		err = c.clientRSAExchange(opts)
	case opts.Cipher.IsECDH():
		err = c.clientECDHExchange(opts)
	}
	if err != nil {
		return err
	}

	if remoteFlag {
		if err := c.sendSpecification(); err != nil {
			return err
		}
	}
	if localFlag {
		if err := c.checkSpecification(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Channel) serverHandshake(policy ServerPolicy) error {
	hs, err := c.expect(msgClientHandshake)
	if err != nil {
		return err
	}
	if v, _ := hs.String(fieldVersion); v != spec.P7Version {
		return NewProtocolError(KindVersionMismatch, "client speaks P7 %q, want %q", v, spec.P7Version)
	}
	c.remoteName, _ = hs.String(fieldProtocolName)
	c.remoteVersion, _ = hs.String(fieldProtocolVersion)

	proposedCipher, _ := hs.Enum(fieldEncryption)
	proposedCompression, _ := hs.Enum(fieldCompression)
	proposedChecksum, _ := hs.Enum(fieldChecksum)

	c.cipherKind = negotiate(crypto.CipherKind(proposedCipher), policy.Ciphers)
	c.compression = negotiate(protocol.Compression(proposedCompression), policy.Compressions)
	c.checksum = negotiate(crypto.ChecksumKind(proposedChecksum), policy.Checksums)
	if c.cipherKind == crypto.CipherNone {
		c.checksum = crypto.ChecksumNone
	}

	localFlag := !c.catalog.Compatible(c.remoteName, c.remoteVersion)

	reply, err := c.newMessage(msgServerHandshake)
	if err != nil {
		return err
	}
	reply.MustSet(fieldVersion, spec.P7Version).
		MustSet(fieldProtocolName, c.catalog.Name()).
		MustSet(fieldProtocolVersion, c.catalog.Version())
	if c.cipherKind != crypto.CipherNone {
		reply.MustSet(fieldEncryption, uint32(c.cipherKind))
	}
	if c.compression != protocol.CompressionNone {
		reply.MustSet(fieldCompression, uint32(c.compression))
	}
	if c.checksum != crypto.ChecksumNone {
		reply.MustSet(fieldChecksum, uint32(c.checksum))
	}
	if localFlag {
		reply.MustSet(fieldCompatCheck, true)
	}
	if err := c.WriteMessage(reply); err != nil {
		return err
	}

	ack, err := c.expect(msgAcknowledge)
	if err != nil {
		return err
	}
	remoteFlag, _ := ack.Bool(fieldCompatCheck)
	c.compressing = c.compression != protocol.CompressionNone

	switch {
	case c.cipherKind == crypto.CipherRSAAES256:
		err = c.serverRSAExchange(policy)
	case c.cipherKind.IsECDH():
		err = c.serverECDHExchange(policy)
	}
	if err != nil {
		return err
	}

	if localFlag {
		if err := c.checkSpecification(); err != nil {
			return err
		}
	}
	if remoteFlag {
		if err := c.sendSpecification(); err != nil {
			return err
		}
	}
	return nil
}

// sendSpecification sends our document to a peer that flagged us as
// incompatible and waits for its verdict.
func (c *Channel) sendSpecification() error {
	if err := c.send(msgSpecification, fieldSpecification, string(c.catalog.Document())); err != nil {
		return err
	}
	status, err := c.expect(msgStatus)
	if err != nil {
		return err
	}
	if ok, _ := status.Bool(fieldStatus); !ok {
		return NewProtocolError(KindIncompatible, "peer rejected %s %s", c.catalog.Name(), c.catalog.Version())
	}
	return nil
}

// checkSpecification receives the peer's document, compares it with ours
// and reports the verdict.
func (c *Channel) checkSpecification() error {
	m, err := c.expect(msgSpecification)
	if err != nil {
		return err
	}
	doc, _ := m.String(fieldSpecification)

	compatible := false
	peer, loadErr := spec.LoadBytes([]byte(doc))
	if loadErr == nil {
		compatible = c.catalog.CompatibleWith(peer)
	}
	if err := c.send(msgStatus, fieldStatus, compatible); err != nil {
		return err
	}
	if !compatible {
		pe := NewProtocolError(KindIncompatible, "%s %s cannot interoperate with %s %s",
			c.remoteName, c.remoteVersion, c.catalog.Name(), c.catalog.Version())
		pe.Err = loadErr
		return pe
	}
	c.log.Info().Str("protocol", c.remoteName).Str("version", c.remoteVersion).Msg("peer specification accepted")
	return nil
}
