// Package securecache wraps a kv.Store to add SHA-256 key hashing
// (always enabled, so an operator browsing the underlying store cannot
// read raw cache keys) and optional authenticated encryption of the
// stored bytes.
package securecache

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"

	"github.com/crawlkit/httpcache/kv"
)

const (
	scryptN   = 32768
	scryptR   = 8
	scryptP   = 1
	keyLength = chacha20poly1305.KeySize
)

// SecureCache wraps an existing kv.Store to add security features:
//   - SHA-256 hashing of all cache keys (always enabled)
//   - Optional ChaCha20-Poly1305 encryption of cached data (when a
//     passphrase is provided)
type SecureCache struct {
	cache      kv.Store
	aead       interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
		NonceSize() int
	}
	passphrase string
	logger     *slog.Logger
}

// Config holds the configuration for creating a SecureCache.
type Config struct {
	// Cache is the underlying kv.Store to wrap.
	Cache kv.Store

	// Passphrase is the secret used to derive the encryption key.
	// If empty, only key hashing is performed (no encryption).
	Passphrase string

	// Logger receives warnings about decrypt/encrypt failures. Defaults
	// to slog.Default().
	Logger *slog.Logger
}

// New creates a new SecureCache that wraps config.Cache. Keys are always
// hashed with SHA-256. If a passphrase is provided, cached data is
// encrypted with ChaCha20-Poly1305.
func New(config Config) (*SecureCache, error) {
	if config.Cache == nil {
		return nil, fmt.Errorf("cache cannot be nil")
	}

	sc := &SecureCache{
		cache:      config.Cache,
		passphrase: config.Passphrase,
		logger:     config.Logger,
	}
	if sc.logger == nil {
		sc.logger = slog.Default()
	}

	if config.Passphrase != "" {
		if err := sc.initEncryption(); err != nil {
			return nil, fmt.Errorf("failed to initialize encryption: %w", err)
		}
	}

	return sc, nil
}

func (sc *SecureCache) initEncryption() error {
	salt := sha256.Sum256([]byte("httpcache-securecache-salt-v1"))
	key, err := scrypt.Key([]byte(sc.passphrase), salt[:], scryptN, scryptR, scryptP, keyLength)
	if err != nil {
		return fmt.Errorf("failed to derive key: %w", err)
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return fmt.Errorf("failed to create AEAD: %w", err)
	}

	sc.aead = aead
	return nil
}

func (sc *SecureCache) hashKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// encrypt encrypts data, prepending a random nonce.
func (sc *SecureCache) encrypt(data []byte) ([]byte, error) {
	if sc.aead == nil {
		return data, nil
	}

	nonce := make([]byte, sc.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return sc.aead.Seal(nonce, nonce, data, nil), nil
}

// decrypt reverses encrypt, expecting the nonce prepended to the
// ciphertext.
func (sc *SecureCache) decrypt(data []byte) ([]byte, error) {
	if sc.aead == nil {
		return data, nil
	}

	nonceSize := sc.aead.NonceSize()
	if len(data) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := sc.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

// Get retrieves a cached value. The key is hashed with SHA-256 before
// lookup; the returned value is decrypted if encryption is enabled.
func (sc *SecureCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	hashedKey := sc.hashKey(key)
	data, ok, err := sc.cache.Get(ctx, hashedKey)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	if sc.aead == nil {
		return data, true, nil
	}

	plaintext, err := sc.decrypt(data)
	if err != nil {
		sc.logger.Warn("securecache: decrypt failed, treating as miss", "key", hashedKey, "error", err)
		return nil, false, nil
	}
	return plaintext, true, nil
}

// Set stores a value. The key is hashed with SHA-256 before storage;
// the value is encrypted first if encryption is enabled.
func (sc *SecureCache) Set(ctx context.Context, key string, data []byte) error {
	hashedKey := sc.hashKey(key)

	toStore, err := sc.encrypt(data)
	if err != nil {
		return fmt.Errorf("securecache: encrypt failed: %w", err)
	}

	return sc.cache.Set(ctx, hashedKey, toStore)
}

// Delete removes a value. The key is hashed with SHA-256 before
// deletion.
func (sc *SecureCache) Delete(ctx context.Context, key string) error {
	return sc.cache.Delete(ctx, sc.hashKey(key))
}

// Close closes the underlying store.
func (sc *SecureCache) Close() error {
	return sc.cache.Close()
}

// IsEncrypted returns true if the cache is configured with encryption.
func (sc *SecureCache) IsEncrypted() bool {
	return sc.aead != nil
}
