package transactions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-pos/meridian-pos/internal/inventory"
	"github.com/meridian-pos/meridian-pos/internal/platform/db"
)

// Repository persists transaction documents in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const transactionColumns = `id, items, status, type, total_amount, payment_status, payment_method,
	stock_consumed, refund_status, refund_history, refund_count, total_refunded, last_refund_date,
	created_by, created_at, updated_at, version`

// WithTx executes the callback inside a repeatable-read transaction spanning
// the transaction document and any product documents the callback touches,
// retrying the whole unit of work on serialization conflicts.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTxRetry(ctx, r.pool, db.DefaultRetryAttempts, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, TxRepository: inventory.NewTxRepository(tx)})
	})
}

// NewTxRepository wraps an already-open pgx transaction so other units of
// work, such as refunds, can read and write transaction documents
// atomically with their own rows.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{tx: tx, TxRepository: inventory.NewTxRepository(tx)}
}

// Get loads a transaction by id.
func (r *Repository) Get(ctx context.Context, id string) (*Transaction, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	return scanTransaction(row)
}

type txRepo struct {
	inventory.TxRepository
	tx pgx.Tx
}

func (r *txRepo) InsertTransaction(ctx context.Context, t *Transaction) error {
	itemsJSON, err := json.Marshal(t.Items)
	if err != nil {
		return fmt.Errorf("transactions: marshal items: %w", err)
	}
	historyJSON, err := json.Marshal(t.RefundHistory)
	if err != nil {
		return fmt.Errorf("transactions: marshal refund history: %w", err)
	}
	_, err = r.tx.Exec(ctx,
		`INSERT INTO transactions (id, items, status, type, total_amount, payment_status, payment_method,
			stock_consumed, refund_status, refund_history, refund_count, total_refunded, last_refund_date,
			created_by, created_at, updated_at, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, 1)`,
		t.ID, itemsJSON, t.Status, t.Type, t.TotalAmount, t.PaymentStatus, t.PaymentMethod,
		t.StockConsumed, t.RefundStatus, historyJSON, t.RefundCount, t.TotalRefunded, t.LastRefundDate,
		t.CreatedBy, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return err
	}
	t.Version = 1
	return nil
}

func (r *txRepo) GetTransactionForUpdate(ctx context.Context, id string) (*Transaction, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id)
	return scanTransaction(row)
}

func (r *txRepo) UpdateTransaction(ctx context.Context, t *Transaction) error {
	historyJSON, err := json.Marshal(t.RefundHistory)
	if err != nil {
		return fmt.Errorf("transactions: marshal refund history: %w", err)
	}
	tag, err := r.tx.Exec(ctx,
		`UPDATE transactions
		 SET status = $1, type = $2, payment_status = $3, payment_method = $4, stock_consumed = $5,
		     refund_status = $6, refund_history = $7, refund_count = $8, total_refunded = $9,
		     last_refund_date = $10, updated_at = $11, version = version + 1
		 WHERE id = $12 AND version = $13`,
		t.Status, t.Type, t.PaymentStatus, t.PaymentMethod, t.StockConsumed,
		t.RefundStatus, historyJSON, t.RefundCount, t.TotalRefunded,
		t.LastRefundDate, t.UpdatedAt, t.ID, t.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: transaction %s version %d", db.ErrConcurrencyConflict, t.ID, t.Version)
	}
	t.Version++
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	var (
		t           Transaction
		itemsJSON   []byte
		historyJSON []byte
	)
	err := row.Scan(&t.ID, &itemsJSON, &t.Status, &t.Type, &t.TotalAmount, &t.PaymentStatus, &t.PaymentMethod,
		&t.StockConsumed, &t.RefundStatus, &historyJSON, &t.RefundCount, &t.TotalRefunded, &t.LastRefundDate,
		&t.CreatedBy, &t.CreatedAt, &t.UpdatedAt, &t.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	if len(itemsJSON) > 0 {
		if err := json.Unmarshal(itemsJSON, &t.Items); err != nil {
			return nil, fmt.Errorf("transactions: unmarshal items: %w", err)
		}
	}
	if len(historyJSON) > 0 {
		if err := json.Unmarshal(historyJSON, &t.RefundHistory); err != nil {
			return nil, fmt.Errorf("transactions: unmarshal refund history: %w", err)
		}
	}
	return &t, nil
}
