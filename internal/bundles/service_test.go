package bundles

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/meridian-pos/meridian-pos/internal/inventory"
)

type memoryBundleRepo struct {
	bundles map[string]*Bundle
}

func newMemoryBundleRepo(bundles ...*Bundle) *memoryBundleRepo {
	r := &memoryBundleRepo{bundles: make(map[string]*Bundle)}
	for _, b := range bundles {
		r.bundles[b.ID] = b
	}
	return r
}

func (r *memoryBundleRepo) GetBundle(ctx context.Context, id string) (*Bundle, error) {
	b, ok := r.bundles[id]
	if !ok {
		return nil, ErrBundleNotFound
	}
	copied := *b
	return &copied, nil
}

func (r *memoryBundleRepo) ListByProduct(ctx context.Context, productID string) ([]Bundle, error) {
	var out []Bundle
	for _, b := range r.bundles {
		for _, bp := range b.BundleProducts {
			if bp.ProductID == productID {
				out = append(out, *b)
				break
			}
		}
	}
	return out, nil
}

func (r *memoryBundleRepo) UpdateAvailability(ctx context.Context, id string, quantity int, available bool) error {
	b, ok := r.bundles[id]
	if !ok {
		return ErrBundleNotFound
	}
	b.AvailableQuantity = quantity
	b.Available = available
	return nil
}

type stubProducts struct {
	stock map[string]float64
}

func (s *stubProducts) GetProduct(ctx context.Context, id string) (*inventory.Product, error) {
	stock, ok := s.stock[id]
	if !ok {
		return nil, inventory.ErrProductNotFound
	}
	return &inventory.Product{ID: id, CurrentStock: stock}, nil
}

func testBundle() *Bundle {
	return &Bundle{
		ID:   "B1",
		Name: "Starter Kit",
		BundleProducts: []BundleProduct{
			{ProductID: "P1", Quantity: 2},
			{ProductID: "P2", Quantity: 5},
		},
		MaxQuantity: 20,
	}
}

func TestRecomputeMinOverConstituents(t *testing.T) {
	repo := newMemoryBundleRepo(testBundle())
	products := &stubProducts{stock: map[string]float64{"P1": 11, "P2": 30}}
	svc := NewService(repo, products, nil, nil)

	qty, err := svc.Recompute(context.Background(), "B1")
	require.NoError(t, err)
	// floor(11/2)=5, floor(30/5)=6 -> 5
	require.Equal(t, 5, qty)
	require.Equal(t, 5, repo.bundles["B1"].AvailableQuantity)
	require.True(t, repo.bundles["B1"].Available)
}

func TestRecomputeCappedAtMaxQuantity(t *testing.T) {
	b := testBundle()
	b.MaxQuantity = 3
	repo := newMemoryBundleRepo(b)
	products := &stubProducts{stock: map[string]float64{"P1": 100, "P2": 100}}
	svc := NewService(repo, products, nil, nil)

	qty, err := svc.Recompute(context.Background(), "B1")
	require.NoError(t, err)
	require.Equal(t, 3, qty)
}

func TestRecomputeMissingProductIsZeroNotError(t *testing.T) {
	repo := newMemoryBundleRepo(testBundle())
	products := &stubProducts{stock: map[string]float64{"P1": 100}}
	svc := NewService(repo, products, nil, nil)

	qty, err := svc.Recompute(context.Background(), "B1")
	require.NoError(t, err)
	require.Equal(t, 0, qty)
	require.False(t, repo.bundles["B1"].Available)
}

func TestAvailabilityMonotonicity(t *testing.T) {
	repo := newMemoryBundleRepo(testBundle())
	products := &stubProducts{stock: map[string]float64{"P1": 40, "P2": 40}}
	svc := NewService(repo, products, nil, nil)
	ctx := context.Background()

	prev, err := svc.Recompute(ctx, "B1")
	require.NoError(t, err)

	// Decreasing any constituent's stock never increases availability.
	for _, step := range []struct {
		product string
		stock   float64
	}{
		{"P1", 30}, {"P2", 22}, {"P1", 3}, {"P2", 0},
	} {
		products.stock[step.product] = step.stock
		qty, err := svc.Recompute(ctx, "B1")
		require.NoError(t, err)
		require.LessOrEqual(t, qty, prev)
		prev = qty
	}
	require.Equal(t, 0, prev)
}

func TestRecomputeForProduct(t *testing.T) {
	other := &Bundle{
		ID:             "B2",
		BundleProducts: []BundleProduct{{ProductID: "P9", Quantity: 1}},
	}
	repo := newMemoryBundleRepo(testBundle(), other)
	products := &stubProducts{stock: map[string]float64{"P1": 10, "P2": 10, "P9": 7}}
	svc := NewService(repo, products, nil, nil)

	require.NoError(t, svc.RecomputeForProduct(context.Background(), "P1"))
	require.Equal(t, 2, repo.bundles["B1"].AvailableQuantity)
	// B2 does not reference P1 and stays untouched.
	require.Equal(t, 0, repo.bundles["B2"].AvailableQuantity)
}

func TestAvailabilityUsesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	repo := newMemoryBundleRepo(testBundle())
	products := &stubProducts{stock: map[string]float64{"P1": 10, "P2": 10}}
	svc := NewService(repo, products, client, nil)
	ctx := context.Background()

	qty, err := svc.Availability(ctx, "B1")
	require.NoError(t, err)
	require.Equal(t, 2, qty)

	// Stock changes, but the cached value is served until invalidated.
	products.stock["P1"] = 0
	qty, err = svc.Availability(ctx, "B1")
	require.NoError(t, err)
	require.Equal(t, 2, qty)

	// Recompute refreshes the cache.
	qty, err = svc.Recompute(ctx, "B1")
	require.NoError(t, err)
	require.Equal(t, 0, qty)
	qty, err = svc.Availability(ctx, "B1")
	require.NoError(t, err)
	require.Equal(t, 0, qty)
}
