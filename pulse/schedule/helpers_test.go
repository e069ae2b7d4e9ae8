package schedule

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	remittest "github.com/teranos/remit/internal/testing"
	"github.com/teranos/remit/ledger"
	"github.com/teranos/remit/pulse/occurrence"
)

// createTestDB creates a migrated temp-file test database.
func createTestDB(t *testing.T) *sql.DB {
	return remittest.CreateTestDB(t)
}

// seedParties inserts payer p1 and payee r1 for schedule tests
func seedParties(t *testing.T, db *sql.DB) {
	t.Helper()
	if _, err := db.Exec(`INSERT INTO payers (id, email, password_hash, routing_address, encrypted_signing_key, identity_hash, created_at)
		VALUES ('p1', 'p1@example.com', 'hash', 'payer-addr', x'00', 'ih', '2024-01-01T00:00:00Z')`); err != nil {
		t.Fatalf("seed payer: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO payees (id, routing_address, created_at) VALUES ('r1', 'payee-addr', '2024-01-01T00:00:00Z')`); err != nil {
		t.Fatalf("seed payee: %v", err)
	}
}

// newDailySchedule returns a valid, verified daily schedule due at due
func newDailySchedule(id string, due time.Time) *Schedule {
	return &Schedule{
		ID:             id,
		PayerID:        "p1",
		PayeeID:        "r1",
		Amount:         decimal.RequireFromString("25.00"),
		Currency:       "USD",
		Channel:        ledger.ChannelEither,
		Frequency:      occurrence.Daily,
		Rule:           occurrence.SimpleRule{Every: occurrence.Daily, Times: []string{"09:00"}},
		StartAt:        due,
		NextDueAt:      due,
		SecretVerified: true,
	}
}

func mustCreate(t *testing.T, store *Store, sc *Schedule) *Schedule {
	t.Helper()
	if err := store.Create(context.Background(), sc); err != nil {
		t.Fatalf("create schedule %s: %v", sc.ID, err)
	}
	return sc
}
