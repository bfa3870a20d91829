// Package pii encapsulates the handling of guest and employee contact data.
// Names and emails are persisted as AES-GCM ciphertext; lookups run against a
// hash of the normalized email so business logic never decrypts. Decryption
// happens only at response assembly.
package pii

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Codec encrypts and decrypts PII fields with a single service key.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec builds a codec from a 16, 24 or 32 byte key.
func NewCodec(key []byte) (*Codec, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("pii key: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("pii cipher: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// NewCodecFromHex decodes a hex-encoded key, the form carried in MESA_PII_KEY.
func NewCodecFromHex(hexKey string) (*Codec, error) {
	key, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, fmt.Errorf("pii key is not hex: %w", err)
	}
	return NewCodec(key)
}

// Encrypt seals plaintext into base64(nonce || ciphertext). Empty input stays
// empty so optional columns remain NULL-ish.
func (c *Codec) Encrypt(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (c *Codec) Decrypt(enc string) (string, error) {
	if enc == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return "", fmt.Errorf("pii payload is not base64: %w", err)
	}
	ns := c.aead.NonceSize()
	if len(raw) < ns {
		return "", fmt.Errorf("pii payload too short")
	}
	plain, err := c.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("pii payload: %w", err)
	}
	return string(plain), nil
}

// NormalizeEmail lowercases and trims an address before hashing.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// EmailHash returns the lookup hash of a normalized email. Empty input hashes
// to the empty string so anonymous customers carry no real hash.
func EmailHash(email string) string {
	normalized := NormalizeEmail(email)
	if normalized == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

var anonymousEmailPattern = regexp.MustCompile(`^anon\+[0-9a-f-]+@local$`)

// AnonymousEmail mints the sentinel stored when a guest provides no address.
func AnonymousEmail() string {
	return fmt.Sprintf("anon+%s@local", uuid.NewString())
}

// IsAnonymousEmail reports whether the address is the synthetic sentinel.
// Consumers deciding whether to mail a ticket must treat matches as absent.
func IsAnonymousEmail(email string) bool {
	return anonymousEmailPattern.MatchString(NormalizeEmail(email))
}
