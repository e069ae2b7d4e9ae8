package secret

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/remit/errors"
	"github.com/teranos/remit/logger"
)

// Material is what a payer's account stores for unsealing their signing key
type Material struct {
	PayerID      string
	Email        string
	PasswordHash string
	SealedKey    []byte
}

// Materializer rebuilds signing keys from cached or inline PINs
type Materializer struct {
	cache   Cache
	deriver KeyDeriver
	ttl     time.Duration
	logger  *zap.SugaredLogger
}

// NewMaterializer wires a cache and deriver. ttl <= 0 uses DefaultTTL.
func NewMaterializer(cache Cache, deriver KeyDeriver, ttl time.Duration, log *zap.SugaredLogger) *Materializer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if deriver == nil {
		deriver = ConcatDeriver{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Materializer{cache: cache, deriver: deriver, ttl: ttl, logger: logger.AddSecretSymbol(log)}
}

// SigningKey returns m's unsealed signing key.
//
// An inline PIN takes precedence and, once it opens the key, refreshes the
// cache window. Without one the cached PIN is used; if there is none the
// error is marked ErrSecretRequired. A PIN that fails to open the key is
// ErrUnauthorized and is evicted so it is not retried from cache.
func (s *Materializer) SigningKey(ctx context.Context, m Material, inlinePIN string) ([]byte, error) {
	pin := inlinePIN
	fromCache := false
	if pin == "" {
		cached, ok, err := s.cache.Get(ctx, m.PayerID)
		if err != nil {
			return nil, errors.Wrapf(err, "payer %s", m.PayerID)
		}
		if !ok {
			return nil, errors.Mark(errors.Newf("no PIN available for payer %s", m.PayerID), errors.ErrSecretRequired)
		}
		pin, fromCache = cached, true
	}

	key, err := s.deriver.DeriveKey(m.Email, m.PasswordHash, pin)
	if err != nil {
		return nil, errors.Wrapf(err, "payer %s", m.PayerID)
	}
	signing, err := Open(key, m.SealedKey)
	if err != nil {
		if fromCache {
			if evictErr := s.cache.Evict(ctx, m.PayerID); evictErr != nil {
				s.logger.Warnw("Failed to evict rejected PIN", logger.FieldPayerID, m.PayerID, logger.FieldError, evictErr)
			}
		}
		return nil, errors.Wrapf(err, "payer %s", m.PayerID)
	}

	if !fromCache {
		if err := s.Remember(ctx, m.PayerID, pin); err != nil {
			s.logger.Warnw("Failed to cache PIN", logger.FieldPayerID, m.PayerID, logger.FieldError, err)
		}
	}
	return signing, nil
}

// Remember caches pin for payerID for the configured window
func (s *Materializer) Remember(ctx context.Context, payerID, pin string) error {
	return s.cache.Put(ctx, payerID, pin, s.ttl)
}

// Forget evicts payerID's cached PIN
func (s *Materializer) Forget(ctx context.Context, payerID string) error {
	return s.cache.Evict(ctx, payerID)
}

// SealSigningKey seals signingKey under the key derived from the payer's
// identity and pin, for storage in the account record
func (s *Materializer) SealSigningKey(email, passwordHash, pin string, signingKey []byte) ([]byte, error) {
	key, err := s.deriver.DeriveKey(email, passwordHash, pin)
	if err != nil {
		return nil, err
	}
	return Seal(key, signingKey)
}

// Verify reports whether pin opens m's signing key, without caching it
func (s *Materializer) Verify(m Material, pin string) error {
	key, err := s.deriver.DeriveKey(m.Email, m.PasswordHash, pin)
	if err != nil {
		return err
	}
	_, err = Open(key, m.SealedKey)
	return err
}
