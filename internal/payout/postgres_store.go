package payout

import (
	"context"
	"database/sql"
)

// PostgresStore persists payouts in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed payout store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const payoutColumns = `id, escrow_id, booking_id, currency, amount_cents, fee_cents, net_cents, status, created_at`

func (p *PostgresStore) Create(ctx context.Context, po *Payout) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO payouts (`+payoutColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		po.ID, po.EscrowID, po.BookingID, po.Currency,
		po.AmountCents, po.FeeCents, po.NetCents, po.Status, po.CreatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Payout, error) {
	po := &Payout{}
	err := p.db.QueryRowContext(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE id = $1`, id).Scan(
		&po.ID, &po.EscrowID, &po.BookingID, &po.Currency,
		&po.AmountCents, &po.FeeCents, &po.NetCents, &po.Status, &po.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrPayoutNotFound
	}
	if err != nil {
		return nil, err
	}
	return po, nil
}

func (p *PostgresStore) ListByEscrow(ctx context.Context, escrowID string, limit int) ([]*Payout, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+payoutColumns+`
		FROM payouts
		WHERE escrow_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, escrowID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Payout
	for rows.Next() {
		po := &Payout{}
		if err := rows.Scan(
			&po.ID, &po.EscrowID, &po.BookingID, &po.Currency,
			&po.AmountCents, &po.FeeCents, &po.NetCents, &po.Status, &po.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, po)
	}
	return result, rows.Err()
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
