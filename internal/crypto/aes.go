// Package crypto seals secret config fields (API credentials) with AES-256-GCM.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	versionPrefix = "v1:"
	separator     = ":"

	// Values written by the previous implementation used a 16-byte IV.
	legacyNonceSize = 16
)

var (
	// ErrMalformed is returned when a value claims to be sealed but cannot be parsed.
	ErrMalformed = errors.New("malformed sealed value")
	// ErrAuth is returned when the authentication tag does not verify.
	ErrAuth = errors.New("decrypt failed: invalid key or corrupted data")
)

// Format identifies how a stored secret string is encoded.
type Format int

const (
	FormatEmpty         Format = iota
	FormatV1                   // "v1:" + hex(nonce) : hex(tag) : hex(ciphertext)
	FormatLegacyTriplet        // hex(iv) : hex(tag) : hex(ciphertext), 16-byte iv
	FormatPlaintext            // unrecognized value, stored before encryption was enabled
)

func (f Format) String() string {
	switch f {
	case FormatEmpty:
		return "empty"
	case FormatV1:
		return "v1"
	case FormatLegacyTriplet:
		return "legacy-triplet"
	case FormatPlaintext:
		return "plaintext"
	}
	return fmt.Sprintf("format(%d)", int(f))
}

// Sealer encrypts and decrypts secret strings with a key derived from the master secret.
// A Sealer is safe for concurrent use.
type Sealer struct {
	aead   cipher.AEAD
	legacy cipher.AEAD
}

// NewSealer derives the AES key from masterSecret and prepares both GCM variants.
func NewSealer(masterSecret string) (*Sealer, error) {
	if masterSecret == "" {
		return nil, errors.New("master secret is required")
	}

	key := DeriveKey(masterSecret)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	legacy, err := cipher.NewGCMWithNonceSize(block, legacyNonceSize)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: gcm, legacy: legacy}, nil
}

// DeriveKey hashes the master secret into a fixed 32-byte AES-256 key.
func DeriveKey(masterSecret string) [32]byte {
	return sha256.Sum256([]byte(masterSecret))
}

// Seal encrypts plaintext with a fresh random nonce.
// Returns "v1:" + hex(nonce) + ":" + hex(tag) + ":" + hex(ciphertext).
// Empty plaintext seals to the empty string (absent secret).
func (s *Sealer) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}

	out := s.aead.Seal(nil, nonce, []byte(plaintext), nil)
	split := len(out) - s.aead.Overhead()
	ciphertext, tag := out[:split], out[split:]

	return versionPrefix + strings.Join([]string{
		hex.EncodeToString(nonce),
		hex.EncodeToString(tag),
		hex.EncodeToString(ciphertext),
	}, separator), nil
}

// Open decrypts a stored value and reports which format it was in.
// Plaintext values are returned verbatim with FormatPlaintext.
// Sealed values that fail to parse or authenticate return an error.
func (s *Sealer) Open(value string) (string, Format, error) {
	format := Classify(value)
	switch format {
	case FormatEmpty:
		return "", format, nil
	case FormatPlaintext:
		return value, format, nil
	case FormatV1:
		plain, err := open(s.aead, strings.TrimPrefix(value, versionPrefix))
		return plain, format, err
	default:
		plain, err := open(s.legacy, value)
		return plain, format, err
	}
}

// Classify inspects a stored value without decrypting it.
func Classify(value string) Format {
	if value == "" {
		return FormatEmpty
	}
	if strings.HasPrefix(value, versionPrefix) {
		return FormatV1
	}
	if isLegacyTriplet(value) {
		return FormatLegacyTriplet
	}
	return FormatPlaintext
}

// IsSealed returns true if the value is in any encrypted format.
func IsSealed(value string) bool {
	f := Classify(value)
	return f == FormatV1 || f == FormatLegacyTriplet
}

func isLegacyTriplet(value string) bool {
	parts := strings.Split(value, separator)
	if len(parts) != 3 {
		return false
	}
	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != legacyNonceSize {
		return false
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != 16 {
		return false
	}
	_, err = hex.DecodeString(parts[2])
	return err == nil
}

func open(aead cipher.AEAD, body string) (string, error) {
	parts := strings.Split(body, separator)
	if len(parts) != 3 {
		return "", ErrMalformed
	}

	nonce, err := hex.DecodeString(parts[0])
	if err != nil || len(nonce) != aead.NonceSize() {
		return "", ErrMalformed
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != aead.Overhead() {
		return "", ErrMalformed
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", ErrMalformed
	}

	plaintext, err := aead.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return "", ErrAuth
	}
	return string(plaintext), nil
}

// GenerateMasterSecret returns a random 32-byte secret, hex-encoded.
func GenerateMasterSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
