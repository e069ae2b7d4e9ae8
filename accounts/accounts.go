// Package accounts stores payers and payees. The settlement path only reads
// from it; the create methods exist for provisioning.
package accounts

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/remit/errors"
	"github.com/teranos/remit/secret"
)

// Payer is an account that funds schedules
type Payer struct {
	ID               string
	Email            string
	PasswordHash     string
	RoutingAddress   string
	SealedSigningKey []byte
	IdentityHash     string
	CreatedAt        time.Time
}

// Material returns the inputs needed to unseal the payer's signing key
func (p *Payer) Material() secret.Material {
	return secret.Material{
		PayerID:      p.ID,
		Email:        p.Email,
		PasswordHash: p.PasswordHash,
		SealedKey:    p.SealedSigningKey,
	}
}

// Payee is a transfer recipient
type Payee struct {
	ID             string
	Name           string
	RoutingAddress string
	CreatedAt      time.Time
}

// Reader is the read-only view the settlement path depends on
type Reader interface {
	GetPayer(ctx context.Context, id string) (*Payer, error)
	GetPayee(ctx context.Context, id string) (*Payee, error)
}

// Store is the SQL-backed account store
type Store struct {
	db *sql.DB
}

// NewStore creates an account store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// IdentityHash is the stable public identifier for an email address
func IdentityHash(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:])
}

// CreatePayer inserts p, filling ID, IdentityHash and CreatedAt when empty
func (s *Store) CreatePayer(ctx context.Context, p *Payer) error {
	if p.Email == "" || p.PasswordHash == "" || p.RoutingAddress == "" {
		return errors.NewInvalidRequestError("payer needs email, password hash and routing address")
	}
	if len(p.SealedSigningKey) == 0 {
		return errors.NewInvalidRequestError("payer %s has no sealed signing key", p.Email)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.IdentityHash == "" {
		p.IdentityHash = IdentityHash(p.Email)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payers (id, email, password_hash, routing_address, encrypted_signing_key, identity_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Email, p.PasswordHash, p.RoutingAddress, p.SealedSigningKey, p.IdentityHash,
		p.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to create payer %s", p.Email)
	}
	return nil
}

// GetPayer loads a payer by id
func (s *Store) GetPayer(ctx context.Context, id string) (*Payer, error) {
	var p Payer
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, routing_address, encrypted_signing_key, identity_hash, created_at
		FROM payers WHERE id = ?`, id,
	).Scan(&p.ID, &p.Email, &p.PasswordHash, &p.RoutingAddress, &p.SealedSigningKey, &p.IdentityHash, &createdAt)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("payer %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get payer %s", id)
	}
	p.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for payer %s", id)
	}
	return &p, nil
}

// CreatePayee inserts p, filling ID and CreatedAt when empty
func (s *Store) CreatePayee(ctx context.Context, p *Payee) error {
	if p.RoutingAddress == "" {
		return errors.NewInvalidRequestError("payee needs a routing address")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payees (id, name, routing_address, created_at) VALUES (?, ?, ?, ?)`,
		p.ID, p.Name, p.RoutingAddress, p.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to create payee %s", p.RoutingAddress)
	}
	return nil
}

// GetPayee loads a payee by id
func (s *Store) GetPayee(ctx context.Context, id string) (*Payee, error) {
	var p Payee
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, routing_address, created_at FROM payees WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.RoutingAddress, &createdAt)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("payee %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get payee %s", id)
	}
	p.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for payee %s", id)
	}
	return &p, nil
}
