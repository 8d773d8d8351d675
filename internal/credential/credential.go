// Package credential resolves the opaque credential references stored in
// settings into plaintext API keys.
//
// Supported references:
//
//	env:NAME                      value of environment variable NAME
//	enc:<salt>:<nonce>:<cipher>   AES-256-GCM, key derived with PBKDF2-SHA256
package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/oliverjessner/Billy/internal/apperr"
)

const (
	PrefixEnv = "env:"
	PrefixEnc = "enc:"

	DefaultSecret = "billy-secret-v1"

	iterations = 100_000
	keyLen     = 32
	saltLen    = 16
)

// Resolver decrypts and looks up credential references.
type Resolver struct {
	secret    []byte
	lookupEnv func(string) (string, bool)
}

// NewResolver returns a Resolver using secret as the PBKDF2 password.
func NewResolver(secret string) *Resolver {
	if secret == "" {
		secret = DefaultSecret
	}
	return &Resolver{secret: []byte(secret), lookupEnv: os.LookupEnv}
}

// IsReference reports whether s is a credential reference rather than a
// plaintext key.
func IsReference(s string) bool {
	return strings.HasPrefix(s, PrefixEnv) || strings.HasPrefix(s, PrefixEnc)
}

// Resolve returns the plaintext credential for ref. Every failure wraps
// apperr.ErrCredential.
func (r *Resolver) Resolve(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return "", fmt.Errorf("%w: extraction credential is not configured", apperr.ErrCredential)

	case strings.HasPrefix(ref, PrefixEnv):
		name := strings.TrimPrefix(ref, PrefixEnv)
		v, ok := r.lookupEnv(name)
		if !ok || strings.TrimSpace(v) == "" {
			return "", fmt.Errorf("%w: environment variable %s is not set", apperr.ErrCredential, name)
		}
		return strings.TrimSpace(v), nil

	case strings.HasPrefix(ref, PrefixEnc):
		v, err := r.decrypt(strings.TrimPrefix(ref, PrefixEnc))
		if err != nil {
			return "", fmt.Errorf("%w: decrypt: %w", apperr.ErrCredential, err)
		}
		return v, nil

	default:
		return "", fmt.Errorf("%w: unsupported credential reference", apperr.ErrCredential)
	}
}

// Encrypt seals plaintext into an enc: reference.
func (r *Resolver) Encrypt(plaintext string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("credential: salt: %w", err)
	}
	gcm, err := r.aead(salt)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("credential: nonce: %w", err)
	}
	ct := gcm.Seal(nil, nonce, []byte(plaintext), nil)

	enc := base64.StdEncoding
	return PrefixEnc + enc.EncodeToString(salt) + ":" + enc.EncodeToString(nonce) + ":" + enc.EncodeToString(ct), nil
}

func (r *Resolver) decrypt(payload string) (string, error) {
	parts := strings.Split(payload, ":")
	if len(parts) != 3 {
		return "", fmt.Errorf("malformed payload")
	}
	enc := base64.StdEncoding
	salt, err := enc.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}
	nonce, err := enc.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	ct, err := enc.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("ciphertext: %w", err)
	}

	gcm, err := r.aead(salt)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("nonce has %d bytes", len(nonce))
	}
	pt, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

func (r *Resolver) aead(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(r.secret, salt, iterations, keyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("credential: cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
