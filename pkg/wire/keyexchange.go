package wire

import (
	"bytes"
	"errors"

	"github.com/aeolun/wired/pkg/crypto"
)

// HKDF info labels. Stage one protects the username during an ECDH
// exchange; the session keys are bound to the server's proof.
const (
	infoStageOne    = "p7 stage one"
	infoSigningSeed = "p7 signing seed"
	infoSession     = "p7 session"
	infoChecksum    = "p7 checksum"
)

func authFailed(format string, args ...any) *ProtocolError {
	return NewProtocolError(KindAuthenticationFailed, format, args...)
}

func (c *Channel) clientRSAExchange(opts Options) error {
	sk, err := c.expect(msgServerKey)
	if err != nil {
		return err
	}
	pubDER, err := requireData(sk, fieldPublicKey)
	if err != nil {
		return err
	}
	c.serverKey = crypto.Fingerprint(pubDER)

	if opts.VerifyServerKey != nil {
		if err := opts.VerifyServerKey(c.serverKey, pubDER); err != nil {
			c.log.Error().Bool("security", true).Str("fingerprint", c.serverKey).Err(err).Msg("server key rejected")
			return &ProtocolError{Kind: KindAuthenticationFailed, Detail: "server key rejected", Err: err}
		}
	}

	pub, err := crypto.ParseRSAPublicKey(pubDER)
	if err != nil {
		return err
	}

	key, err := crypto.RandomBytes(crypto.SymmetricKeySize)
	if err != nil {
		return err
	}
	iv, err := crypto.RandomIV(crypto.CipherRSAAES256)
	if err != nil {
		return err
	}
	defer wipe(key, iv)

	digest := []byte(crypto.PasswordDigest(opts.Password))
	clientProof := crypto.Proof(digest, pubDER)

	fields := make([]any, 0, 8)
	for _, f := range []struct {
		name  string
		value []byte
	}{
		{fieldCipherKey, key},
		{fieldCipherIV, iv},
		{fieldUsername, []byte(opts.Username)},
		{fieldClientPassword, []byte(clientProof)},
	} {
		ct, err := crypto.RSAEncrypt(pub, f.value)
		if err != nil {
			return err
		}
		fields = append(fields, f.name, ct)
	}
	if err := c.send(msgClientKey, fields...); err != nil {
		return err
	}

	reply, err := c.ReadMessage()
	if err != nil {
		return err
	}
	switch reply.Name() {
	case msgAuthError:
		return authFailed("server rejected credentials for %q", opts.Username)
	case msgEncryptionAck:
	default:
		return unexpected(reply.Name(), msgEncryptionAck)
	}

	sealed, err := requireData(reply, fieldServerPassword)
	if err != nil {
		return err
	}
	serverProof, err := crypto.DecryptAESCBC(key, iv, sealed)
	if err != nil {
		c.log.Error().Bool("security", true).Err(err).Msg("server proof undecryptable")
		return err
	}
	if !crypto.EqualProof(serverProof, []byte(crypto.Proof(pubDER, digest))) {
		c.log.Error().Bool("security", true).Msg("server proof mismatch")
		return authFailed("server proof mismatch")
	}

	return c.enableRSA(key, iv)
}

func (c *Channel) serverRSAExchange(policy ServerPolicy) error {
	pubDER, err := crypto.MarshalRSAPublicKey(&policy.RSAKey.PublicKey)
	if err != nil {
		return err
	}
	c.serverKey = crypto.Fingerprint(pubDER)
	if err := c.send(msgServerKey, fieldPublicKey, pubDER); err != nil {
		return err
	}

	ck, err := c.expect(msgClientKey)
	if err != nil {
		return err
	}

	var plain [4][]byte
	for i, name := range []string{fieldCipherKey, fieldCipherIV, fieldUsername, fieldClientPassword} {
		ct, err := requireData(ck, name)
		if err != nil {
			return err
		}
		if plain[i], err = crypto.RSADecrypt(policy.RSAKey, ct); err != nil {
			c.log.Error().Bool("security", true).Err(err).Str("field", name).Msg("client key undecryptable")
			return err
		}
	}
	key, iv, login, clientProof := plain[0], plain[1], string(plain[2]), plain[3]
	defer wipe(key, iv)

	digest, ok := policy.Passwords.PasswordDigest(login)
	if !ok || !crypto.EqualProof(clientProof, []byte(crypto.Proof([]byte(digest), pubDER))) {
		return c.rejectLogin(login)
	}

	sealed, err := crypto.EncryptAESCBC(key, iv, []byte(crypto.Proof(pubDER, []byte(digest))))
	if err != nil {
		return err
	}
	if err := c.send(msgEncryptionAck, fieldServerPassword, sealed); err != nil {
		return err
	}
	c.username = login

	return c.enableRSA(key, iv)
}

func (c *Channel) enableRSA(key, iv []byte) error {
	var macKey []byte
	if c.checksum.Keyed() {
		var err error
		if macKey, err = crypto.DeriveKey(key, iv, infoChecksum, crypto.MACKeySize); err != nil {
			return err
		}
	}
	return c.enableCipher(crypto.CipherRSAAES256, c.checksum,
		bytes.Clone(key), bytes.Clone(iv), macKey)
}

func (c *Channel) rejectLogin(login string) error {
	c.log.Warn().Bool("security", true).Str("login", login).Msg("authentication failed")
	if err := c.send(msgAuthError); err != nil {
		return errors.Join(authFailed("login %q", login), err)
	}
	return authFailed("login %q", login)
}

// ecdhMaterial is what both ends derive from the shared secret before the
// client has proven its password.
type ecdhMaterial struct {
	shared   []byte
	stageKey []byte
	stageIV  []byte
	signer   []byte
}

func deriveECDH(kind crypto.CipherKind, shared, serverPub []byte) (*ecdhMaterial, error) {
	ivLen := kind.IVSize()
	stage, err := crypto.DeriveKey(shared, serverPub, infoStageOne, crypto.SymmetricKeySize+ivLen)
	if err != nil {
		return nil, err
	}
	seed, err := crypto.DeriveKey(shared, serverPub, infoSigningSeed, crypto.SymmetricKeySize)
	if err != nil {
		return nil, err
	}
	return &ecdhMaterial{
		shared:   shared,
		stageKey: stage[:crypto.SymmetricKeySize],
		stageIV:  stage[crypto.SymmetricKeySize:],
		signer:   seed,
	}, nil
}

func (m *ecdhMaterial) wipe() {
	wipe(m.shared, m.stageKey, m.stageIV, m.signer)
}

// enableECDH derives the session keys from the shared secret salted with
// the server proof.
func (c *Channel) enableECDH(m *ecdhMaterial, serverProof string) error {
	ivLen := c.cipherKind.IVSize()
	final, err := crypto.DeriveKey(m.shared, []byte(serverProof), infoSession,
		crypto.SymmetricKeySize+ivLen+crypto.MACKeySize)
	if err != nil {
		return err
	}
	defer wipe(final)

	key := bytes.Clone(final[:crypto.SymmetricKeySize])
	iv := bytes.Clone(final[crypto.SymmetricKeySize : crypto.SymmetricKeySize+ivLen])
	macKey := bytes.Clone(final[crypto.SymmetricKeySize+ivLen:])
	return c.enableCipher(c.cipherKind, c.checksum, key, iv, macKey)
}

func (c *Channel) clientECDHExchange(opts Options) error {
	sk, err := c.expect(msgServerKey)
	if err != nil {
		return err
	}
	serverPub, err := requireData(sk, fieldPublicKey)
	if err != nil {
		return err
	}

	priv, err := crypto.GenerateECDHKey()
	if err != nil {
		return err
	}
	shared, err := crypto.SharedSecret(priv, serverPub)
	if err != nil {
		return err
	}
	mat, err := deriveECDH(c.cipherKind, shared, serverPub)
	if err != nil {
		return err
	}
	defer mat.wipe()

	signer, err := crypto.SigningKeyFromSeed(mat.signer)
	if err != nil {
		return err
	}
	signPub, err := crypto.MarshalSigningKey(&signer.PublicKey)
	if err != nil {
		return err
	}

	digest := []byte(crypto.PasswordDigest(opts.Password))
	username, err := c.cipherKind.Encrypt(mat.stageKey, mat.stageIV, []byte(opts.Username))
	if err != nil {
		return err
	}
	signature, err := crypto.Sign(signer, []byte(crypto.Proof(digest, serverPub)))
	if err != nil {
		return err
	}

	cipherKey := append(bytes.Clone(priv.PublicKey().Bytes()), signPub...)
	if err := c.send(msgClientKey,
		fieldCipherKey, cipherKey,
		fieldUsername, username,
		fieldClientPassword, signature,
	); err != nil {
		return err
	}

	reply, err := c.ReadMessage()
	if err != nil {
		return err
	}
	switch reply.Name() {
	case msgAuthError:
		return authFailed("server rejected credentials for %q", opts.Username)
	case msgEncryptionAck:
	default:
		return unexpected(reply.Name(), msgEncryptionAck)
	}

	serverSig, err := requireData(reply, fieldServerPassword)
	if err != nil {
		return err
	}
	serverProof := crypto.Proof(serverPub, digest)
	if err := crypto.Verify(&signer.PublicKey, []byte(serverProof), serverSig); err != nil {
		c.log.Error().Bool("security", true).Err(err).Msg("server proof signature invalid")
		return &ProtocolError{Kind: KindAuthenticationFailed, Detail: "server proof", Err: err}
	}

	return c.enableECDH(mat, serverProof)
}

func (c *Channel) serverECDHExchange(policy ServerPolicy) error {
	priv, err := crypto.GenerateECDHKey()
	if err != nil {
		return err
	}
	serverPub := priv.PublicKey().Bytes()
	if err := c.send(msgServerKey, fieldPublicKey, serverPub); err != nil {
		return err
	}

	ck, err := c.expect(msgClientKey)
	if err != nil {
		return err
	}
	cipherKey, err := requireData(ck, fieldCipherKey)
	if err != nil {
		return err
	}
	if len(cipherKey) != crypto.ECDHPublicKeySize+crypto.SigningPublicKeySize {
		return NewProtocolError(KindUnexpected, "client key is %d bytes", len(cipherKey))
	}
	clientPub, signPub := cipherKey[:crypto.ECDHPublicKeySize], cipherKey[crypto.ECDHPublicKeySize:]

	shared, err := crypto.SharedSecret(priv, clientPub)
	if err != nil {
		return err
	}
	mat, err := deriveECDH(c.cipherKind, shared, serverPub)
	if err != nil {
		return err
	}
	defer mat.wipe()

	signer, err := crypto.SigningKeyFromSeed(mat.signer)
	if err != nil {
		return err
	}
	expectedSignPub, err := crypto.MarshalSigningKey(&signer.PublicKey)
	if err != nil {
		return err
	}
	if !bytes.Equal(expectedSignPub, signPub) {
		c.log.Error().Bool("security", true).Msg("client signing key does not match key agreement")
		return c.rejectLogin("")
	}

	sealedUser, err := requireData(ck, fieldUsername)
	if err != nil {
		return err
	}
	user, err := c.cipherKind.Decrypt(mat.stageKey, mat.stageIV, sealedUser)
	if err != nil {
		c.log.Error().Bool("security", true).Err(err).Msg("username undecryptable")
		return err
	}
	login := string(user)

	signature, err := requireData(ck, fieldClientPassword)
	if err != nil {
		return err
	}
	digest, ok := policy.Passwords.PasswordDigest(login)
	if !ok || crypto.Verify(&signer.PublicKey, []byte(crypto.Proof([]byte(digest), serverPub)), signature) != nil {
		return c.rejectLogin(login)
	}

	serverProof := crypto.Proof(serverPub, []byte(digest))
	serverSig, err := crypto.Sign(signer, []byte(serverProof))
	if err != nil {
		return err
	}
	if err := c.send(msgEncryptionAck, fieldServerPassword, serverSig); err != nil {
		return err
	}
	c.username = login

	return c.enableECDH(mat, serverProof)
}
