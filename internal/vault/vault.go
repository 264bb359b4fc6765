// Package vault encrypts exchange API credentials with AES-256-GCM.
//
// The vault performs no I/O. Persisting EncryptedCredential values is the
// caller's job (see internal/credstore).
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/betbot/unitrade/internal/domain"
	"github.com/betbot/unitrade/pkg/secretstore"
)

const (
	// Algorithm is the tag stored next to every ciphertext.
	Algorithm = "AES-256-GCM"
	// MaxPlaintextLen bounds Encrypt input.
	MaxPlaintextLen = 64 << 10
	keyLen          = 32
)

var (
	errShortCiphertext = errors.New("ciphertext too short")
	errAuthFailed      = errors.New("message authentication failed")
)

// Vault holds the process-wide master key inside an AEAD. The raw key is
// not retained after New returns.
type Vault struct {
	aead cipher.AEAD
	rand io.Reader
	now  func() time.Time
}

// New builds a vault from a 32-byte key.
func New(key []byte) (*Vault, error) {
	if len(key) != keyLen {
		return nil, domain.CryptoError(nil, fmt.Sprintf("master key must be %d bytes, got %d", keyLen, len(key)))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, domain.CryptoError(err, "init cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, domain.CryptoError(err, "init gcm")
	}
	return &Vault{aead: gcm, rand: rand.Reader, now: time.Now}, nil
}

// NewFromString parses a hex or base64 master key (32 bytes) and builds a vault.
func NewFromString(raw string) (*Vault, error) {
	key, err := secretstore.ParseKey(raw)
	if err != nil {
		return nil, domain.CryptoError(err, "parse master key")
	}
	if key == nil {
		return nil, domain.CryptoError(nil, "master key is required")
	}
	defer wipe(key)
	return New(key)
}

// Encrypt returns base64(nonce|ciphertext|tag).
func (v *Vault) Encrypt(plainText string) (string, error) {
	if len(plainText) > MaxPlaintextLen {
		return "", domain.CryptoError(nil, fmt.Sprintf("plaintext exceeds %d bytes", MaxPlaintextLen))
	}
	sealed, err := v.seal([]byte(plainText))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Malformed input, a wrong key and a tampered
// ciphertext all fail with a CryptoError; tag comparison inside GCM is
// constant time.
func (v *Vault) Decrypt(cipherText string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(cipherText))
	if err != nil {
		return "", domain.CryptoError(err, "ciphertext is not valid base64")
	}
	pt, err := v.open(raw)
	if err != nil {
		return "", err
	}
	out := string(pt)
	wipe(pt)
	return out, nil
}

func (v *Vault) seal(plain []byte) ([]byte, error) {
	nonce := make([]byte, v.aead.NonceSize(), v.aead.NonceSize()+len(plain)+v.aead.Overhead())
	if _, err := io.ReadFull(v.rand, nonce); err != nil {
		return nil, domain.CryptoError(err, "read nonce")
	}
	return v.aead.Seal(nonce, nonce, plain, nil), nil
}

func (v *Vault) open(raw []byte) ([]byte, error) {
	ns := v.aead.NonceSize()
	if len(raw) < ns+v.aead.Overhead() {
		return nil, domain.CryptoError(errShortCiphertext, "")
	}
	pt, err := v.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		// one message for wrong key and tampering alike
		return nil, domain.CryptoError(errAuthFailed, "")
	}
	return pt, nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
