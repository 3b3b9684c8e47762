// Package crypto derives passphrase-based keys and seals database metadata
// with authenticated encryption. Keys live only in memory for the session;
// nothing derived from the passphrase is ever written to disk.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// Iterations is the PBKDF2 iteration count.
	Iterations = 100_000
	// KeySize is the derived AES-256 key length in bytes.
	KeySize = 32
	// SaltSize is the per-database random salt length in bytes.
	SaltSize = 16
)

var (
	// ErrWrongPassphrase indicates a blob failed authentication: either the
	// passphrase is wrong or the ciphertext was tampered with. Callers should
	// prompt for re-authentication rather than treat this as missing data.
	ErrWrongPassphrase = errors.New("decryption failed: wrong passphrase or corrupted data")

	// ErrMalformedBlob indicates a blob is too short to contain its header.
	ErrMalformedBlob = errors.New("malformed encrypted blob")
)

// Keyring derives encryption keys from a session passphrase. Derivation is
// deterministic per (passphrase, salt) pair; derived keys are cached so the
// PBKDF2 cost is paid once per salt per session.
type Keyring struct {
	mu         sync.Mutex
	passphrase []byte
	cache      map[[SaltSize]byte][]byte
}

// NewKeyring creates a keyring for the given session passphrase.
func NewKeyring(passphrase string) *Keyring {
	return &Keyring{
		passphrase: []byte(passphrase),
		cache:      make(map[[SaltSize]byte][]byte),
	}
}

// DeriveKey derives a KeySize-byte key for the given salt using
// PBKDF2-SHA256 with a fixed iteration count.
func (k *Keyring) DeriveKey(salt []byte) []byte {
	var cacheKey [SaltSize]byte
	copy(cacheKey[:], salt)

	k.mu.Lock()
	defer k.mu.Unlock()
	if key, ok := k.cache[cacheKey]; ok {
		return key
	}
	key := pbkdf2.Key(k.passphrase, salt, Iterations, KeySize, sha256.New)
	k.cache[cacheKey] = key
	return key
}

// NewSalt returns a fresh random salt for a new database.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// Seal encrypts plaintext under the keyring and returns a self-contained
// blob: salt || nonce || AES-256-GCM ciphertext. The salt travels with the
// blob so each database can use its own.
func (k *Keyring) Seal(plaintext, salt []byte) ([]byte, error) {
	gcm, err := newGCM(k.DeriveKey(salt))
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	blob := make([]byte, 0, SaltSize+len(nonce)+len(plaintext)+gcm.Overhead())
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	return gcm.Seal(blob, nonce, plaintext, nil), nil
}

// Open decrypts a blob produced by Seal. Authentication failure maps to
// ErrWrongPassphrase so callers can distinguish it from missing data.
func (k *Keyring) Open(blob []byte) ([]byte, error) {
	if len(blob) < SaltSize {
		return nil, ErrMalformedBlob
	}
	salt := blob[:SaltSize]

	gcm, err := newGCM(k.DeriveKey(salt))
	if err != nil {
		return nil, err
	}
	if len(blob) < SaltSize+gcm.NonceSize() {
		return nil, ErrMalformedBlob
	}

	nonce := blob[SaltSize : SaltSize+gcm.NonceSize()]
	ciphertext := blob[SaltSize+gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}
