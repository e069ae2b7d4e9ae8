package secret

import (
	"crypto/rand"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/teranos/remit/errors"
)

// Seal encrypts plaintext with XChaCha20-Poly1305. The random nonce is
// prepended to the ciphertext.
func Seal(key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, errors.Wrap(err, "invalid sealing key")
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.Wrap(err, "failed to generate nonce")
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open reverses Seal. A wrong key is reported as ErrUnauthorized.
func Open(key, sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, errors.Wrap(err, "invalid sealing key")
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, errors.Mark(errors.New("sealed signing key is truncated"), errors.ErrUnauthorized)
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.Mark(errors.New("signing key could not be unsealed: wrong PIN or corrupted key"), errors.ErrUnauthorized)
	}
	return plaintext, nil
}
