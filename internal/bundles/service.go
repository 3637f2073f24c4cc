package bundles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-pos/meridian-pos/internal/inventory"
)

// RepositoryPort abstracts bundle persistence.
type RepositoryPort interface {
	GetBundle(ctx context.Context, id string) (*Bundle, error)
	ListByProduct(ctx context.Context, productID string) ([]Bundle, error)
	UpdateAvailability(ctx context.Context, id string, quantity int, available bool) error
}

// ProductReader reads product stock; satisfied by the inventory service.
type ProductReader interface {
	GetProduct(ctx context.Context, id string) (*inventory.Product, error)
}

// Service recomputes and serves bundle availability.
type Service struct {
	repo     RepositoryPort
	products ProductReader
	cache    *redis.Client
	cacheTTL time.Duration
	logger   *slog.Logger
}

// NewService builds Service. cache may be nil, in which case every
// availability read recomputes.
func NewService(repo RepositoryPort, products ProductReader, cache *redis.Client, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		products: products,
		cache:    cache,
		cacheTTL: 5 * time.Minute,
		logger:   logger,
	}
}

// SetCacheTTL overrides the availability cache lifetime.
func (s *Service) SetCacheTTL(ttl time.Duration) {
	if ttl > 0 {
		s.cacheTTL = ttl
	}
}

func cacheKey(bundleID string) string {
	return "bundle:availability:" + bundleID
}

// Recompute derives the bundle's sellable quantity from constituent stock,
// persists it and refreshes the cache. A bundle referencing a missing
// product is not an error: it legitimately goes to zero availability.
func (s *Service) Recompute(ctx context.Context, bundleID string) (int, error) {
	bundle, err := s.repo.GetBundle(ctx, bundleID)
	if err != nil {
		return 0, err
	}

	quantity, available, err := s.derive(ctx, bundle)
	if err != nil {
		return 0, err
	}

	if err := s.repo.UpdateAvailability(ctx, bundle.ID, quantity, available); err != nil {
		return 0, err
	}
	s.cacheSet(ctx, bundle.ID, quantity)
	return quantity, nil
}

// RecomputeForProduct refreshes every bundle that references the product.
// Used by the stock-change job after ledger mutations.
func (s *Service) RecomputeForProduct(ctx context.Context, productID string) error {
	affected, err := s.repo.ListByProduct(ctx, productID)
	if err != nil {
		return err
	}
	for _, b := range affected {
		if _, err := s.Recompute(ctx, b.ID); err != nil {
			return fmt.Errorf("bundles: recompute %s: %w", b.ID, err)
		}
	}
	return nil
}

// Availability returns the cached availability, recomputing on a miss.
func (s *Service) Availability(ctx context.Context, bundleID string) (int, error) {
	if s.cache != nil {
		val, err := s.cache.Get(ctx, cacheKey(bundleID)).Result()
		if err == nil {
			if qty, convErr := strconv.Atoi(val); convErr == nil {
				return qty, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			s.logger.Warn("bundle cache read failed", slog.String("bundle_id", bundleID), slog.Any("error", err))
		}
	}
	return s.Recompute(ctx, bundleID)
}

// derive computes min over constituents of floor(stock/required), capped at
// MaxQuantity. Constituent reads run concurrently; they are read-only.
func (s *Service) derive(ctx context.Context, bundle *Bundle) (int, bool, error) {
	if len(bundle.BundleProducts) == 0 {
		return 0, false, nil
	}

	var mu sync.Mutex
	quantity := math.MaxInt
	available := true

	g, ctx := errgroup.WithContext(ctx)
	for _, bp := range bundle.BundleProducts {
		bp := bp
		g.Go(func() error {
			if bp.Quantity <= 0 {
				return fmt.Errorf("bundles: bundle %s requires non-positive quantity of product %s", bundle.ID, bp.ProductID)
			}
			product, err := s.products.GetProduct(ctx, bp.ProductID)
			if err != nil {
				if errors.Is(err, inventory.ErrProductNotFound) {
					mu.Lock()
					quantity = 0
					available = false
					mu.Unlock()
					return nil
				}
				return err
			}
			sellable := int(math.Floor(product.CurrentStock / bp.Quantity))
			if sellable < 0 {
				sellable = 0
			}
			mu.Lock()
			if sellable < quantity {
				quantity = sellable
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, false, err
	}

	if bundle.MaxQuantity > 0 && quantity > bundle.MaxQuantity {
		quantity = bundle.MaxQuantity
	}
	if quantity <= 0 {
		return 0, false, nil
	}
	return quantity, available, nil
}

func (s *Service) cacheSet(ctx context.Context, bundleID string, quantity int) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, cacheKey(bundleID), strconv.Itoa(quantity), s.cacheTTL).Err(); err != nil {
		s.logger.Warn("bundle cache write failed", slog.String("bundle_id", bundleID), slog.Any("error", err))
	}
}
