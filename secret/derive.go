package secret

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/teranos/remit/errors"
)

// KeyDeriver turns a payer's identity and PIN into the key that seals their
// signing key
type KeyDeriver interface {
	Name() string
	DeriveKey(email, passwordHash, pin string) ([]byte, error)
}

// ConcatDeriver keys on email ∥ password hash ∥ PIN, hashed to the AEAD
// key size. It matches keys sealed by earlier deployments.
type ConcatDeriver struct{}

func (ConcatDeriver) Name() string { return "concat" }

func (ConcatDeriver) DeriveKey(email, passwordHash, pin string) ([]byte, error) {
	if pin == "" {
		return nil, errors.Mark(errors.New("empty PIN"), errors.ErrSecretRequired)
	}
	sum := sha256.Sum256([]byte(email + passwordHash + pin))
	return sum[:], nil
}

// HKDFDeriver expands the PIN and password hash with HKDF-SHA256, salted by
// the payer's email
type HKDFDeriver struct{}

const hkdfInfo = "remit-signing-key-v1"

func (HKDFDeriver) Name() string { return "hkdf" }

func (HKDFDeriver) DeriveKey(email, passwordHash, pin string) ([]byte, error) {
	if pin == "" {
		return nil, errors.Mark(errors.New("empty PIN"), errors.ErrSecretRequired)
	}
	r := hkdf.New(sha256.New, []byte(passwordHash+"\x00"+pin), []byte(email), []byte(hkdfInfo))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, errors.Wrap(err, "hkdf expand failed")
	}
	return key, nil
}

// DeriverByName returns the deriver for a config value
func DeriverByName(name string) (KeyDeriver, error) {
	switch name {
	case "", "concat":
		return ConcatDeriver{}, nil
	case "hkdf":
		return HKDFDeriver{}, nil
	}
	return nil, errors.NewInvalidRequestError("unknown key derivation %q", name)
}
