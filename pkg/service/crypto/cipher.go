package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the AES-256 key length
	KeySize = 32
	// NonceSize is the GCM standard nonce length
	NonceSize = 12
	// SaltSize is the length of the installation salt
	SaltSize = 32
	// PBKDF2Iterations is fixed; changing it invalidates every stored record
	PBKDF2Iterations = 600000
)

// magic prefixes every ciphertext and is bound as additional data so a
// truncated or re-labelled payload fails authentication.
var magic = []byte("CCv1")

var (
	ErrInvalidKey        = errors.New("encryption key must be 32 bytes")
	ErrInvalidCiphertext = errors.New("ciphertext is too short")
	ErrDecryptionFailed  = errors.New("decryption failed: authentication tag mismatch")
	// ErrLegacyPlaintext is returned for payloads written before encryption was enabled
	ErrLegacyPlaintext = errors.New("payload is not encrypted")
)

// AESGCM implements interfaces.Cipher with AES-256-GCM. The output format is
// magic || nonce || ciphertext || tag.
type AESGCM struct {
	aead cipher.AEAD
}

// DeriveKey stretches a user supplied secret with PBKDF2-SHA256.
func DeriveKey(secret string, salt []byte) []byte {
	return pbkdf2.Key([]byte(secret), salt, PBKDF2Iterations, KeySize, sha256.New)
}

func New(key []byte) (*AESGCM, error) {
	if len(key) != KeySize {
		return nil, goerr.Wrap(ErrInvalidKey, "failed to create cipher", goerr.V("length", len(key)))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create AES cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create GCM cipher")
	}
	return &AESGCM{aead: aead}, nil
}

// NewFromSecret derives the key from secret and salt and returns the cipher.
func NewFromSecret(secret string, salt []byte) (*AESGCM, error) {
	if secret == "" {
		return nil, goerr.New("encryption secret is empty")
	}
	if len(salt) != SaltSize {
		return nil, goerr.Wrap(ErrSaltCorrupt, "unexpected salt length", goerr.V("length", len(salt)))
	}
	key := DeriveKey(secret, salt)
	defer clear(key)
	return New(key)
}

func (c *AESGCM) Encrypt(plaintext []byte) ([]byte, error) {
	out := make([]byte, len(magic)+NonceSize, len(magic)+NonceSize+len(plaintext)+c.aead.Overhead())
	copy(out, magic)
	nonce := out[len(magic) : len(magic)+NonceSize]
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, goerr.Wrap(err, "failed to generate nonce")
	}
	return c.aead.Seal(out, nonce, plaintext, magic), nil
}

func (c *AESGCM) Decrypt(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, magic) {
		return nil, ErrLegacyPlaintext
	}
	body := data[len(magic):]
	if len(body) < NonceSize+c.aead.Overhead() {
		return nil, goerr.Wrap(ErrInvalidCiphertext, "failed to decrypt", goerr.V("length", len(data)))
	}
	plaintext, err := c.aead.Open(nil, body[:NonceSize], body[NonceSize:], magic)
	if err != nil {
		return nil, goerr.Wrap(ErrDecryptionFailed, "failed to decrypt")
	}
	return plaintext, nil
}

// GenerateSalt returns SaltSize random bytes.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, goerr.Wrap(err, "failed to generate salt")
	}
	return salt, nil
}
