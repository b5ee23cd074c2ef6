package crypto

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// KeysDirName is the subdirectory name for storing private keys
	KeysDirName = "keys"

	// KeyFileExtension is the extension for key files
	KeyFileExtension = ".pem"

	// KeyFileMode is the file permission for key files (owner read/write only)
	KeyFileMode = 0600

	// KeyDirMode is the directory permission for the keys directory
	KeyDirMode = 0700
)

var (
	ErrKeyNotFound    = errors.New("key not found")
	ErrKeyFileCorrupt = errors.New("key file is corrupt")
	ErrInvalidKeyName = errors.New("invalid key name")
)

// KeyStore persists long-lived RSA private keys, such as a server's
// handshake key, so that clients pinning it see the same key across restarts.
type KeyStore struct {
	baseDir string
}

// NewKeyStore creates a KeyStore rooted at dir.
func NewKeyStore(dir string) *KeyStore {
	return &KeyStore{baseDir: dir}
}

// keysDir returns the path to the keys directory, creating it if necessary.
func (ks *KeyStore) keysDir() (string, error) {
	dir := filepath.Join(ks.baseDir, KeysDirName)
	if err := os.MkdirAll(dir, KeyDirMode); err != nil {
		return "", fmt.Errorf("failed to create keys directory: %w", err)
	}
	return dir, nil
}

func (ks *KeyStore) keyFilePath(name string) (string, error) {
	safe := sanitizeName(name)
	if safe == "" {
		return "", ErrInvalidKeyName
	}

	dir, err := ks.keysDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, safe+KeyFileExtension), nil
}

// sanitizeName converts a key name (often host:port) to a safe filename component.
func sanitizeName(name string) string {
	safe := strings.ReplaceAll(name, ":", "_")
	safe = strings.ReplaceAll(safe, "/", "_")
	safe = strings.ReplaceAll(safe, "\\", "_")
	safe = strings.ReplaceAll(safe, "..", "_")
	return safe
}

// SaveRSAKey writes key under name atomically with owner-only permissions.
func (ks *KeyStore) SaveRSAKey(name string, key *rsa.PrivateKey) error {
	path, err := ks.keyFilePath(name)
	if err != nil {
		return err
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, EncodeRSAPrivateKeyPEM(key), KeyFileMode); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}

	// Rename to final path (atomic on POSIX)
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to save key file: %w", err)
	}

	return nil
}

// LoadRSAKey reads the key stored under name.
func (ks *KeyStore) LoadRSAKey(name string) (*rsa.PrivateKey, error) {
	path, err := ks.keyFilePath(name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	key, err := ParseRSAPrivateKeyPEM(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyFileCorrupt, err)
	}
	return key, nil
}

// HasKey reports whether a key is stored under name.
func (ks *KeyStore) HasKey(name string) bool {
	path, err := ks.keyFilePath(name)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}

// DeleteKey removes the key stored under name.
func (ks *KeyStore) DeleteKey(name string) error {
	path, err := ks.keyFilePath(name)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete key file: %w", err)
	}
	return nil
}

// LoadOrGenerateRSAKey loads the key stored under name, generating and saving
// one of the given size if none exists. The bool reports whether it was generated.
func (ks *KeyStore) LoadOrGenerateRSAKey(name string, bits int) (*rsa.PrivateKey, bool, error) {
	key, err := ks.LoadRSAKey(name)
	if err == nil {
		return key, false, nil
	}
	if !errors.Is(err, ErrKeyNotFound) {
		return nil, false, err
	}

	key, err = GenerateRSAKey(bits)
	if err != nil {
		return nil, false, err
	}
	if err := ks.SaveRSAKey(name, key); err != nil {
		return nil, false, err
	}
	return key, true, nil
}

// ListKeys returns the stored key names.
func (ks *KeyStore) ListKeys() ([]string, error) {
	dir, err := ks.keysDir()
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var keys []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), KeyFileExtension) {
			keys = append(keys, strings.TrimSuffix(entry.Name(), KeyFileExtension))
		}
	}
	return keys, nil
}
