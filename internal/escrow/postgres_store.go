package escrow

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists escrow accounts in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed account store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const accountColumns = `id, booking_id, contract_id, status,
	amount_cents, currency, commission_rate, commission_cents, enabler_payout_cents, refund_cents,
	event_start, auto_release_deadline, dispute_window_ends, final_settlement_date, auto_release_enabled,
	release_rules, state_history,
	dispute_id, disputed_at, frozen_at, arbitration_notes, manual_action_by, manual_action_reason,
	released_at, archived_for_audit, reconciliation_status, reconciled_at,
	created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, a *Account) error {
	rulesJSON, _ := json.Marshal(a.ReleaseRules)
	historyJSON, _ := json.Marshal(a.StateHistory)

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO escrow_accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4,
			$5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15,
			$16, $17,
			$18, $19, $20, $21, $22, $23,
			$24, $25, $26, $27,
			$28, $29)`,
		a.ID, a.BookingID, nullString(a.ContractID), string(a.Status),
		a.AmountCents, a.Currency, a.CommissionRate, a.CommissionCents, a.EnablerPayoutCents, a.RefundCents,
		a.EventStart, a.AutoReleaseDeadline, a.DisputeWindowEnds, a.FinalSettlementDate, a.AutoReleaseEnabled,
		rulesJSON, historyJSON,
		nullString(a.DisputeID), nullTime(a.DisputedAt), nullTime(a.FrozenAt),
		nullString(a.ArbitrationNotes), nullString(a.ManualActionBy), nullString(a.ManualActionReason),
		nullTime(a.ReleasedAt), a.ArchivedForAudit, nullString(a.ReconciliationStatus), nullTime(a.ReconciledAt),
		a.CreatedAt, a.UpdatedAt,
	)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
		return ErrDuplicateBooking
	}
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Account, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM escrow_accounts WHERE id = $1`, id)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, ErrEscrowNotFound
	}
	return a, err
}

func (p *PostgresStore) GetByBooking(ctx context.Context, bookingID string) (*Account, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM escrow_accounts WHERE booking_id = $1`, bookingID)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, ErrEscrowNotFound
	}
	return a, err
}

func (p *PostgresStore) Update(ctx context.Context, a *Account) error {
	rulesJSON, _ := json.Marshal(a.ReleaseRules)
	historyJSON, _ := json.Marshal(a.StateHistory)

	result, err := p.db.ExecContext(ctx, `
		UPDATE escrow_accounts SET
			status = $1, commission_cents = $2, enabler_payout_cents = $3, refund_cents = $4,
			auto_release_enabled = $5, release_rules = $6, state_history = $7,
			dispute_id = $8, disputed_at = $9, frozen_at = $10,
			arbitration_notes = $11, manual_action_by = $12, manual_action_reason = $13,
			released_at = $14, archived_for_audit = $15, reconciliation_status = $16, reconciled_at = $17,
			updated_at = $18
		WHERE id = $19`,
		string(a.Status), a.CommissionCents, a.EnablerPayoutCents, a.RefundCents,
		a.AutoReleaseEnabled, rulesJSON, historyJSON,
		nullString(a.DisputeID), nullTime(a.DisputedAt), nullTime(a.FrozenAt),
		nullString(a.ArbitrationNotes), nullString(a.ManualActionBy), nullString(a.ManualActionReason),
		nullTime(a.ReleasedAt), a.ArchivedForAudit, nullString(a.ReconciliationStatus), nullTime(a.ReconciledAt),
		a.UpdatedAt,
		a.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrEscrowNotFound
	}
	return nil
}

func (p *PostgresStore) ListAwaitingRelease(ctx context.Context, limit int) ([]*Account, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+accountColumns+`
		FROM escrow_accounts
		WHERE status = 'release_initiated' AND auto_release_enabled
		ORDER BY auto_release_deadline ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanAccounts(rows)
}

func (p *PostgresStore) ListSettleable(ctx context.Context, before time.Time, limit int) ([]*Account, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+accountColumns+`
		FROM escrow_accounts
		WHERE status = 'released' AND NOT archived_for_audit AND final_settlement_date <= $1
		ORDER BY final_settlement_date ASC
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanAccounts(rows)
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(s scanner) (*Account, error) {
	a := &Account{}
	var (
		contractID   sql.NullString
		status       string
		rulesJSON    []byte
		historyJSON  []byte
		disputeID    sql.NullString
		disputedAt   sql.NullTime
		frozenAt     sql.NullTime
		arbNotes     sql.NullString
		actionBy     sql.NullString
		actionReason sql.NullString
		releasedAt   sql.NullTime
		reconStatus  sql.NullString
		reconciledAt sql.NullTime
	)

	err := s.Scan(
		&a.ID, &a.BookingID, &contractID, &status,
		&a.AmountCents, &a.Currency, &a.CommissionRate, &a.CommissionCents, &a.EnablerPayoutCents, &a.RefundCents,
		&a.EventStart, &a.AutoReleaseDeadline, &a.DisputeWindowEnds, &a.FinalSettlementDate, &a.AutoReleaseEnabled,
		&rulesJSON, &historyJSON,
		&disputeID, &disputedAt, &frozenAt, &arbNotes, &actionBy, &actionReason,
		&releasedAt, &a.ArchivedForAudit, &reconStatus, &reconciledAt,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Status = Status(status)
	a.ContractID = contractID.String
	a.DisputeID = disputeID.String
	a.ArbitrationNotes = arbNotes.String
	a.ManualActionBy = actionBy.String
	a.ManualActionReason = actionReason.String
	a.ReconciliationStatus = reconStatus.String
	if disputedAt.Valid {
		a.DisputedAt = &disputedAt.Time
	}
	if frozenAt.Valid {
		a.FrozenAt = &frozenAt.Time
	}
	if releasedAt.Valid {
		a.ReleasedAt = &releasedAt.Time
	}
	if reconciledAt.Valid {
		a.ReconciledAt = &reconciledAt.Time
	}
	if len(rulesJSON) > 0 {
		_ = json.Unmarshal(rulesJSON, &a.ReleaseRules)
	}
	if len(historyJSON) > 0 {
		_ = json.Unmarshal(historyJSON, &a.StateHistory)
	}

	return a, nil
}

func scanAccounts(rows *sql.Rows) ([]*Account, error) {
	var result []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// PostgresLedger persists ledger entries in PostgreSQL. The seq column is a
// BIGSERIAL so creation order survives identical timestamps.
type PostgresLedger struct {
	db *sql.DB
}

// NewPostgresLedger creates a new PostgreSQL-backed ledger store.
func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

const ledgerColumns = `id, escrow_id, type, amount_cents, currency, balance_after_cents,
	description, processed_at, created_by, created_at`

func (p *PostgresLedger) Append(ctx context.Context, e *LedgerEntry) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO escrow_ledger_entries (`+ledgerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.EscrowID, string(e.Type), e.AmountCents, e.Currency, e.BalanceAfterCents,
		nullString(e.Description), e.ProcessedAt, nullString(e.CreatedBy), e.CreatedAt,
	)
	return err
}

func (p *PostgresLedger) Last(ctx context.Context, escrowID string) (*LedgerEntry, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+ledgerColumns+`
		FROM escrow_ledger_entries
		WHERE escrow_id = $1
		ORDER BY seq DESC
		LIMIT 1`, escrowID)

	e, err := scanLedgerEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func (p *PostgresLedger) List(ctx context.Context, escrowID string, limit int) ([]*LedgerEntry, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+ledgerColumns+`
		FROM escrow_ledger_entries
		WHERE escrow_id = $1
		ORDER BY seq ASC
		LIMIT $2`, escrowID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func scanLedgerEntry(s scanner) (*LedgerEntry, error) {
	e := &LedgerEntry{}
	var (
		typ         string
		description sql.NullString
		createdBy   sql.NullString
	)
	err := s.Scan(
		&e.ID, &e.EscrowID, &typ, &e.AmountCents, &e.Currency, &e.BalanceAfterCents,
		&description, &e.ProcessedAt, &createdBy, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Type = EntryType(typ)
	e.Description = description.String
	e.CreatedBy = createdBy.String
	return e, nil
}

// nullString converts an empty Go string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullTime converts a *time.Time to sql.NullTime.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Compile-time assertions.
var (
	_ Store       = (*PostgresStore)(nil)
	_ LedgerStore = (*PostgresLedger)(nil)
)
