package bundles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists bundle documents in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const bundleColumns = `id, name, bundle_products, bundle_price, individual_total_price, savings, available_quantity, max_quantity, available, version, updated_at`

// GetBundle loads a bundle by id.
func (r *Repository) GetBundle(ctx context.Context, id string) (*Bundle, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+bundleColumns+` FROM bundles WHERE id = $1`, id)
	return scanBundle(row)
}

// ListByProduct lists bundles whose constituents include the product.
func (r *Repository) ListByProduct(ctx context.Context, productID string) ([]Bundle, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+bundleColumns+` FROM bundles
		 WHERE bundle_products @> $1::jsonb`,
		fmt.Sprintf(`[{"productId": %q}]`, productID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bundles []Bundle
	for rows.Next() {
		b, err := scanBundle(rows)
		if err != nil {
			return nil, err
		}
		bundles = append(bundles, *b)
	}
	return bundles, rows.Err()
}

// UpdateAvailability writes the derived availability fields only.
func (r *Repository) UpdateAvailability(ctx context.Context, id string, quantity int, available bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE bundles
		 SET available_quantity = $1, available = $2, version = version + 1, updated_at = $3
		 WHERE id = $4`,
		quantity, available, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBundleNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBundle(row rowScanner) (*Bundle, error) {
	var (
		b            Bundle
		productsJSON []byte
	)
	err := row.Scan(&b.ID, &b.Name, &productsJSON, &b.BundlePrice, &b.IndividualTotalPrice,
		&b.Savings, &b.AvailableQuantity, &b.MaxQuantity, &b.Available, &b.Version, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBundleNotFound
		}
		return nil, err
	}
	if len(productsJSON) > 0 {
		if err := json.Unmarshal(productsJSON, &b.BundleProducts); err != nil {
			return nil, fmt.Errorf("bundles: unmarshal constituents: %w", err)
		}
	}
	return &b, nil
}
