package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-pos/meridian-pos/internal/platform/db"
)

// Repository persists product stock documents in PostgreSQL. Container state
// lives in a JSONB column so the document shape matches what the ledger
// reads and writes.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const productColumns = `id, name, unit_name, container_capacity, containers, current_stock, reorder_point, custom_conversions, version, updated_at`

// WithTx executes the callback inside a repeatable-read transaction,
// retrying the whole unit of work on serialization conflicts.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTxRetry(ctx, r.pool, db.DefaultRetryAttempts, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// GetProduct loads a product document outside any transaction.
func (r *Repository) GetProduct(ctx context.Context, id string) (*Product, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	return scanProduct(row)
}

// ListBelowReorderPoint lists products at or below their reorder point.
func (r *Repository) ListBelowReorderPoint(ctx context.Context, limit int) ([]Product, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+productColumns+` FROM products
		 WHERE reorder_point > 0 AND current_stock <= reorder_point
		 ORDER BY current_stock / reorder_point ASC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

type txRepo struct {
	tx pgx.Tx
}

// NewTxRepository wraps an open pgx transaction as a TxRepository so other
// modules can compose product mutations into their own units of work.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{tx: tx}
}

// GetProductForUpdate locks the product row for the duration of the
// transaction so concurrent mutations serialize.
func (r *txRepo) GetProductForUpdate(ctx context.Context, id string) (*Product, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id)
	return scanProduct(row)
}

// UpdateProductStock writes the mutated stock fields. The version predicate
// is belt-and-braces on top of the row lock: a zero-row update means the
// document changed underneath us and the transaction must retry.
func (r *txRepo) UpdateProductStock(ctx context.Context, p *Product) error {
	containersJSON, err := json.Marshal(p.Containers)
	if err != nil {
		return fmt.Errorf("inventory: marshal containers: %w", err)
	}
	tag, err := r.tx.Exec(ctx,
		`UPDATE products
		 SET containers = $1, current_stock = $2, version = version + 1, updated_at = $3
		 WHERE id = $4 AND version = $5`,
		containersJSON, p.CurrentStock, p.UpdatedAt, p.ID, p.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: product %s version %d", db.ErrConcurrencyConflict, p.ID, p.Version)
	}
	p.Version++
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*Product, error) {
	var (
		p               Product
		containersJSON  []byte
		conversionsJSON []byte
		updatedAt       time.Time
	)
	err := row.Scan(&p.ID, &p.Name, &p.UnitName, &p.ContainerCapacity, &containersJSON,
		&p.CurrentStock, &p.ReorderPoint, &conversionsJSON, &p.Version, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	if len(containersJSON) > 0 {
		if err := json.Unmarshal(containersJSON, &p.Containers); err != nil {
			return nil, fmt.Errorf("inventory: unmarshal containers: %w", err)
		}
	}
	if len(conversionsJSON) > 0 {
		if err := json.Unmarshal(conversionsJSON, &p.CustomConversions); err != nil {
			return nil, fmt.Errorf("inventory: unmarshal conversions: %w", err)
		}
	}
	p.UpdatedAt = updatedAt
	return &p, nil
}
