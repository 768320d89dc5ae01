// Package encrypt owns the master-key lifecycle and every cryptographic
// primitive used by the credential vault: AES-256-GCM envelope encryption,
// PBKDF2 password hashing, secure random generation, and secret format
// validation. It is stateless with respect to business data; callers hand it
// opaque byte strings.
package encrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

const (
	keySize = 32 // AES-256
	ivSize  = 12 // standard GCM nonce
	tagSize = 16 // GCM auth tag
)

// Sentinel errors returned by Service operations.
var (
	// ErrNotInitialized indicates Encrypt or Decrypt was called before
	// Initialize, or after ClearMasterKey. This is a programmer error;
	// callers should treat it as fatal.
	ErrNotInitialized = errors.New("encryption service not initialized")

	// ErrDecryptionFailed indicates the authentication tag did not verify:
	// the ciphertext was tampered with or was produced under a different
	// master key. No plaintext is ever released on this path.
	ErrDecryptionFailed = errors.New("decryption failed: authentication error")
)

// Service holds the process's single master key and performs all vault
// cryptography. The zero value is unusable; construct via NewService and
// call Initialize before Encrypt/Decrypt.
//
// Initialize and ClearMasterKey are the only mutators of the key buffer;
// Encrypt and Decrypt take a read lock, so they may run concurrently with
// each other.
type Service struct {
	keyPath string
	logger  *slog.Logger

	mu   sync.RWMutex
	key  []byte
	aead cipher.AEAD
}

// NewService creates a Service that manages its master key at keyPath.
// The key is not loaded until Initialize.
func NewService(keyPath string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{keyPath: keyPath, logger: logger}
}

// Initialize loads the master key from the key file, generating and
// persisting a fresh key if no usable file exists. It is idempotent and
// safe to call concurrently: callers serialize on one lock, the first
// performs the work, and the rest observe the already-loaded key.
//
// A missing or corrupt key file is treated as "no key yet" and triggers
// regeneration, which silently invalidates any ciphertext produced under
// the previous key. Any other I/O failure (e.g. permission denied) is
// fatal and leaves the service uninitialized.
func (s *Service) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.aead != nil {
		return nil
	}

	key, err := s.loadOrCreateKey()
	if err != nil {
		return err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		zero(key)
		return fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		zero(key)
		return fmt.Errorf("create gcm: %w", err)
	}

	s.key = key
	s.aead = aead
	return nil
}

// Initialized reports whether a master key is currently loaded.
func (s *Service) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.aead != nil
}

// ClearMasterKey zeroes the in-memory key buffer and drops the key.
// Subsequent Encrypt/Decrypt calls fail with ErrNotInitialized until
// Initialize runs again.
func (s *Service) ClearMasterKey() {
	s.mu.Lock()
	defer s.mu.Unlock()

	zero(s.key)
	s.key = nil
	s.aead = nil
}

// Encrypt seals plaintext under the master key with a fresh random IV and
// returns the three-part envelope. Encrypting identical plaintext twice
// yields different IVs and ciphertexts.
func (s *Service) Encrypt(plaintext []byte) (Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.aead == nil {
		return Envelope{}, ErrNotInitialized
	}

	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return Envelope{}, fmt.Errorf("generate iv: %w", err)
	}

	// Seal appends the auth tag to the ciphertext; split it back out so
	// the envelope stores the three parts explicitly.
	sealed := s.aead.Seal(nil, iv, plaintext, nil)
	n := len(sealed) - tagSize

	return Envelope{
		Data: sealed[:n],
		IV:   iv,
		Tag:  sealed[n:],
	}, nil
}

// Decrypt verifies the envelope's authentication tag and returns the
// plaintext. The tag is checked before any plaintext is released; a failed
// check returns an error wrapping ErrDecryptionFailed and no data.
func (s *Service) Decrypt(env Envelope) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.aead == nil {
		return nil, ErrNotInitialized
	}
	if len(env.IV) != ivSize {
		return nil, fmt.Errorf("%w: bad iv length %d", ErrDecryptionFailed, len(env.IV))
	}

	sealed := make([]byte, 0, len(env.Data)+len(env.Tag))
	sealed = append(sealed, env.Data...)
	sealed = append(sealed, env.Tag...)

	plaintext, err := s.aead.Open(nil, env.IV, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}

// GenerateSecureKey returns byteLength bytes of CSPRNG output encoded as
// unpadded base64url. Used for webhook signing secrets.
func (s *Service) GenerateSecureKey(byteLength int) (string, error) {
	if byteLength <= 0 {
		return "", fmt.Errorf("generate key: invalid length %d", byteLength)
	}
	buf := make([]byte, byteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// loadOrCreateKey reads the key file, falling back to generating a new key
// when the file is absent or its contents are not a valid key. Called with
// s.mu held.
func (s *Service) loadOrCreateKey() ([]byte, error) {
	raw, err := os.ReadFile(s.keyPath)
	switch {
	case err == nil:
		key, decErr := decodeKey(raw)
		if decErr == nil {
			return key, nil
		}
		// Unreadable contents count as "no key yet". Old ciphertexts
		// become permanently undecipherable; that tradeoff is logged
		// loudly rather than failing startup.
		s.logger.Warn("master key file is corrupt, generating a new key; previously stored secrets are no longer recoverable",
			"path", s.keyPath, "error", decErr)
	case errors.Is(err, fs.ErrNotExist):
		s.logger.Info("no master key file found, generating one", "path", s.keyPath)
	default:
		return nil, fmt.Errorf("read master key file: %w", err)
	}

	return s.generateKeyFile()
}

// generateKeyFile creates a new random key and writes it to the key file
// with owner-only permissions, via a same-directory temp file and rename so
// a crash never leaves a partial key on disk.
func (s *Service) generateKeyFile() ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate master key: %w", err)
	}

	dir := filepath.Dir(s.keyPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".planhub-key-*")
	if err != nil {
		return nil, fmt.Errorf("create temp key file: %w", err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	// Restrict permissions before the key bytes hit disk.
	if err := tmp.Chmod(0o600); err != nil {
		cleanup()
		return nil, fmt.Errorf("chmod temp key file: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(key)
	if _, err := tmp.WriteString(encoded + "\n"); err != nil {
		cleanup()
		return nil, fmt.Errorf("write master key file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return nil, fmt.Errorf("close master key file: %w", err)
	}
	if err := os.Rename(tmpName, s.keyPath); err != nil {
		_ = os.Remove(tmpName)
		return nil, fmt.Errorf("install master key file: %w", err)
	}

	s.logger.Info("master key generated", "path", s.keyPath)
	return key, nil
}

// decodeKey parses key file contents: base64 (optionally newline-terminated)
// or raw binary, either way exactly 32 bytes of key material.
func decodeKey(raw []byte) ([]byte, error) {
	trimmed := string(raw)
	for len(trimmed) > 0 && (trimmed[len(trimmed)-1] == '\n' || trimmed[len(trimmed)-1] == '\r') {
		trimmed = trimmed[:len(trimmed)-1]
	}

	if key, err := base64.StdEncoding.DecodeString(trimmed); err == nil && len(key) == keySize {
		return key, nil
	}
	if len(raw) == keySize {
		key := make([]byte, keySize)
		copy(key, raw)
		return key, nil
	}
	return nil, fmt.Errorf("key file does not contain a %d-byte key", keySize)
}

// zero overwrites b in place.
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
