package refunds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-pos/meridian-pos/internal/platform/db"
	"github.com/meridian-pos/meridian-pos/internal/sales/transactions"
)

// Repository persists refund documents in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const refundColumns = `id, transaction_id, items, refund_amount, refund_type, status, reason, method,
	created_by, created_at, approved_by, approved_at, rejected_by, rejected_at,
	processed_by, processed_at, completed_by, completed_at, cancelled_by, cancelled_at,
	settlement_ref, version`

// WithTx executes the callback inside a repeatable-read transaction spanning
// the refund, its transaction document and any restored product documents,
// retrying the whole unit of work on serialization conflicts.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTxRetry(ctx, r.pool, db.DefaultRetryAttempts, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, TxRepository: transactions.NewTxRepository(tx)})
	})
}

// GetRefund loads a refund by id.
func (r *Repository) GetRefund(ctx context.Context, id string) (*Refund, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+refundColumns+` FROM refunds WHERE id = $1`, id)
	return scanRefund(row)
}

// ListByTransaction returns all refunds recorded against a transaction,
// oldest first.
func (r *Repository) ListByTransaction(ctx context.Context, transactionID string) ([]Refund, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+refundColumns+` FROM refunds WHERE transaction_id = $1 ORDER BY created_at`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRefunds(rows)
}

type txRepo struct {
	transactions.TxRepository
	tx pgx.Tx
}

func (r *txRepo) InsertRefund(ctx context.Context, ref *Refund) error {
	itemsJSON, err := json.Marshal(ref.Items)
	if err != nil {
		return fmt.Errorf("refunds: marshal items: %w", err)
	}
	_, err = r.tx.Exec(ctx,
		`INSERT INTO refunds (id, transaction_id, items, refund_amount, refund_type, status, reason, method,
			created_by, created_at, approved_by, approved_at, rejected_by, rejected_at,
			processed_by, processed_at, completed_by, completed_at, cancelled_by, cancelled_at,
			settlement_ref, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, 1)`,
		ref.ID, ref.TransactionID, itemsJSON, ref.RefundAmount, ref.RefundType, ref.Status, ref.Reason, ref.Method,
		ref.CreatedBy, ref.CreatedAt, ref.ApprovedBy, ref.ApprovedAt, ref.RejectedBy, ref.RejectedAt,
		ref.ProcessedBy, ref.ProcessedAt, ref.CompletedBy, ref.CompletedAt, ref.CancelledBy, ref.CancelledAt,
		ref.SettlementRef)
	if err != nil {
		return err
	}
	ref.Version = 1
	return nil
}

func (r *txRepo) GetRefundForUpdate(ctx context.Context, id string) (*Refund, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+refundColumns+` FROM refunds WHERE id = $1 FOR UPDATE`, id)
	return scanRefund(row)
}

func (r *txRepo) UpdateRefund(ctx context.Context, ref *Refund) error {
	tag, err := r.tx.Exec(ctx,
		`UPDATE refunds
		 SET status = $1, reason = $2,
		     approved_by = $3, approved_at = $4, rejected_by = $5, rejected_at = $6,
		     processed_by = $7, processed_at = $8, completed_by = $9, completed_at = $10,
		     cancelled_by = $11, cancelled_at = $12, settlement_ref = $13, version = version + 1
		 WHERE id = $14 AND version = $15`,
		ref.Status, ref.Reason,
		ref.ApprovedBy, ref.ApprovedAt, ref.RejectedBy, ref.RejectedAt,
		ref.ProcessedBy, ref.ProcessedAt, ref.CompletedBy, ref.CompletedAt,
		ref.CancelledBy, ref.CancelledAt, ref.SettlementRef, ref.ID, ref.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: refund %s version %d", db.ErrConcurrencyConflict, ref.ID, ref.Version)
	}
	ref.Version++
	return nil
}

func (r *txRepo) ListRefundsByTransaction(ctx context.Context, transactionID string) ([]Refund, error) {
	rows, err := r.tx.Query(ctx,
		`SELECT `+refundColumns+` FROM refunds WHERE transaction_id = $1 ORDER BY created_at`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRefunds(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRefund(row rowScanner) (*Refund, error) {
	var (
		ref       Refund
		itemsJSON []byte
	)
	err := row.Scan(&ref.ID, &ref.TransactionID, &itemsJSON, &ref.RefundAmount, &ref.RefundType, &ref.Status,
		&ref.Reason, &ref.Method, &ref.CreatedBy, &ref.CreatedAt,
		&ref.ApprovedBy, &ref.ApprovedAt, &ref.RejectedBy, &ref.RejectedAt,
		&ref.ProcessedBy, &ref.ProcessedAt, &ref.CompletedBy, &ref.CompletedAt,
		&ref.CancelledBy, &ref.CancelledAt, &ref.SettlementRef, &ref.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRefundNotFound
		}
		return nil, err
	}
	if len(itemsJSON) > 0 {
		if err := json.Unmarshal(itemsJSON, &ref.Items); err != nil {
			return nil, fmt.Errorf("refunds: unmarshal items: %w", err)
		}
	}
	return &ref, nil
}

func collectRefunds(rows pgx.Rows) ([]Refund, error) {
	var out []Refund
	for rows.Next() {
		ref, err := scanRefund(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ref)
	}
	return out, rows.Err()
}
