package inventory

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-pos/meridian-pos/internal/shared"
	"github.com/meridian-pos/meridian-pos/internal/units"
)

// ErrProductNotFound indicates a missing product document.
var ErrProductNotFound = errors.New("inventory: product not found")

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetProduct(ctx context.Context, id string) (*Product, error)
	ListBelowReorderPoint(ctx context.Context, limit int) ([]Product, error)
}

// TxRepository exposes the transactional operations used while applying a
// stock mutation.
type TxRepository interface {
	GetProductForUpdate(ctx context.Context, id string) (*Product, error)
	UpdateProductStock(ctx context.Context, p *Product) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// StockChangePort is notified after a committed stock mutation, e.g. to
// enqueue bundle availability recomputation.
type StockChangePort interface {
	StockChanged(ctx context.Context, productID string) error
}

// MetricsPort records the outcome of stock mutations.
type MetricsPort interface {
	StockOperation(operation string, err error)
}

// Service is the inventory ledger: it owns product stock documents and is
// the only writer of container state.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	onStock StockChangePort
	metrics MetricsPort
	logger  *slog.Logger
	newID   func() string
	now     func() time.Time
}

// NewService builds Service. audit and onStock may be nil.
func NewService(repo RepositoryPort, audit AuditPort, onStock StockChangePort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    repo,
		audit:   audit,
		onStock: onStock,
		logger:  logger,
		newID:   uuid.NewString,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetMetrics attaches a stock-operation metrics recorder.
func (s *Service) SetMetrics(m MetricsPort) {
	s.metrics = m
}

func (s *Service) recordStockOp(operation string, err error) {
	if s.metrics != nil {
		s.metrics.StockOperation(operation, err)
	}
}

// ConsumeInput describes a stock consumption request.
type ConsumeInput struct {
	ProductID      string
	Quantity       float64
	Unit           string
	TransactionRef string
	Actor          string
}

// ConsumedContainer reports one container touched by a consumption.
type ConsumedContainer struct {
	ContainerID    string  `json:"containerId"`
	QuantityTaken  float64 `json:"quantityTaken"`
	OpenedFromFull bool    `json:"openedFromFull"`
}

// ConsumeResult is returned by Consume.
type ConsumeResult struct {
	ContainersConsumed []ConsumedContainer `json:"containersConsumed"`
	NewStock           float64             `json:"newStock"`
}

// RestoreResult is returned by Restore.
type RestoreResult struct {
	NewStock float64 `json:"newStock"`
}

// Consume converts the requested quantity into the product's native unit,
// plans an allocation and applies it atomically. On shortfall nothing is
// written and an *InsufficientStockError is returned.
func (s *Service) Consume(ctx context.Context, input ConsumeInput) (ConsumeResult, error) {
	if input.ProductID == "" {
		return ConsumeResult{}, errors.New("inventory: product id required")
	}
	if input.Quantity <= 0 {
		return ConsumeResult{}, errors.New("inventory: quantity must be positive")
	}

	var result ConsumeResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		result, err = s.ConsumeTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return ConsumeResult{}, err
	}

	s.afterMutation(ctx, input.ProductID, input.Actor, "inventory:consume", map[string]any{
		"quantity":        input.Quantity,
		"unit":            input.Unit,
		"transaction_ref": input.TransactionRef,
		"new_stock":       result.NewStock,
	})
	return result, nil
}

// ConsumeTx performs a consumption against an already-open unit of work.
// Callers composing larger atomic operations (sales, refunds) use this so
// the stock mutation commits or rolls back with theirs. Validation of the
// input is the caller's responsibility via Consume or equivalent checks.
func (s *Service) ConsumeTx(ctx context.Context, tx TxRepository, input ConsumeInput) (result ConsumeResult, err error) {
	defer func() { s.recordStockOp("consume", err) }()

	product, err := tx.GetProductForUpdate(ctx, input.ProductID)
	if err != nil {
		return ConsumeResult{}, err
	}
	required, err := s.toNativeUnit(product, input.Quantity, input.Unit)
	if err != nil {
		return ConsumeResult{}, err
	}

	plan := Allocate(product, required)
	if plan.Shortfall > 0 {
		return ConsumeResult{}, &InsufficientStockError{
			ProductID: product.ID,
			Required:  required,
			Available: product.CurrentStock,
			Unit:      product.UnitName,
		}
	}

	result.ContainersConsumed = s.applyPlan(product, plan, input.TransactionRef)
	product.CurrentStock = product.ComputedStock()
	product.UpdatedAt = s.now()
	if err := product.CheckStockInvariant(); err != nil {
		return ConsumeResult{}, err
	}
	result.NewStock = product.CurrentStock
	return result, tx.UpdateProductStock(ctx, product)
}

// RestoreTx performs a restoration against an already-open unit of work.
func (s *Service) RestoreTx(ctx context.Context, tx TxRepository, input RestoreInput) (result RestoreResult, err error) {
	defer func() { s.recordStockOp("restore", err) }()

	product, err := tx.GetProductForUpdate(ctx, input.ProductID)
	if err != nil {
		return RestoreResult{}, err
	}
	amount, err := s.toNativeUnit(product, input.Quantity, input.Unit)
	if err != nil {
		return RestoreResult{}, err
	}

	s.applyRestore(product, amount)
	product.CurrentStock = product.ComputedStock()
	product.UpdatedAt = s.now()
	if err := product.CheckStockInvariant(); err != nil {
		return RestoreResult{}, err
	}
	if err := tx.UpdateProductStock(ctx, product); err != nil {
		return RestoreResult{}, err
	}
	return RestoreResult{NewStock: product.CurrentStock}, nil
}

// RestoreInput describes a stock restoration request.
type RestoreInput struct {
	ProductID string
	Quantity  float64
	Unit      string
	RefundRef string
	Actor     string
}

// Restore adds the given quantity back to the product's aggregate stock.
// Containers are fungible once consumed, so restoration tops up open partial
// containers and accrues whole full containers rather than resurrecting the
// originally consumed instances.
func (s *Service) Restore(ctx context.Context, input RestoreInput) (RestoreResult, error) {
	if input.ProductID == "" {
		return RestoreResult{}, errors.New("inventory: product id required")
	}
	if input.Quantity <= 0 {
		return RestoreResult{}, errors.New("inventory: quantity must be positive")
	}

	var result RestoreResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		result, err = s.RestoreTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return RestoreResult{}, err
	}

	s.afterMutation(ctx, input.ProductID, input.Actor, "inventory:restore", map[string]any{
		"quantity":   input.Quantity,
		"unit":       input.Unit,
		"refund_ref": input.RefundRef,
		"new_stock":  result.NewStock,
	})
	return result, nil
}

// GetProduct returns the current product document.
func (s *Service) GetProduct(ctx context.Context, id string) (*Product, error) {
	return s.repo.GetProduct(ctx, id)
}

// ListBelowReorderPoint lists products whose stock fell to or below their
// reorder point.
func (s *Service) ListBelowReorderPoint(ctx context.Context, limit int) ([]Product, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.repo.ListBelowReorderPoint(ctx, limit)
}

func (s *Service) toNativeUnit(p *Product, quantity float64, unit string) (float64, error) {
	if unit == "" || units.Normalize(unit) == units.Normalize(p.UnitName) {
		return quantity, nil
	}
	opts := &units.Options{Custom: p.CustomConversions}
	if p.ContainerCapacity > 0 {
		opts.Container = &units.ContainerInfo{Capacity: p.ContainerCapacity, Unit: p.UnitName}
	}
	conv, err := units.Convert(quantity, unit, p.UnitName, opts)
	if err != nil {
		return 0, err
	}
	return conv.Value, nil
}

// applyPlan mutates product container state according to the allocation.
// The plan is guaranteed applicable: shortfall was rejected beforehand.
func (s *Service) applyPlan(p *Product, plan Allocation, txRef string) []ConsumedContainer {
	consumed := make([]ConsumedContainer, 0, len(plan.Selections))
	at := s.now()

	if p.ContainerCapacity <= 0 {
		for _, sel := range plan.Selections {
			p.CurrentStock -= sel.QuantityTaken
			consumed = append(consumed, ConsumedContainer{QuantityTaken: sel.QuantityTaken})
		}
		return consumed
	}

	for _, sel := range plan.Selections {
		event := SaleEvent{TransactionRef: txRef, Quantity: sel.QuantityTaken, At: at}
		if sel.FromFull {
			p.Containers.Full--
			if sel.QuantityTaken < p.ContainerCapacity {
				opened := Container{
					ID:          s.newID(),
					Remaining:   p.ContainerCapacity - sel.QuantityTaken,
					Capacity:    p.ContainerCapacity,
					Status:      StatusPartial,
					SaleHistory: []SaleEvent{event},
				}
				p.Containers.Partial = append(p.Containers.Partial, opened)
				consumed = append(consumed, ConsumedContainer{ContainerID: opened.ID, QuantityTaken: sel.QuantityTaken, OpenedFromFull: true})
			} else {
				consumed = append(consumed, ConsumedContainer{QuantityTaken: sel.QuantityTaken, OpenedFromFull: true})
			}
			continue
		}
		for i := range p.Containers.Partial {
			c := &p.Containers.Partial[i]
			if c.ID != sel.ContainerID {
				continue
			}
			c.Remaining -= sel.QuantityTaken
			c.Status = StatusFor(c.Remaining, c.Capacity)
			c.SaleHistory = append(c.SaleHistory, event)
			consumed = append(consumed, ConsumedContainer{ContainerID: c.ID, QuantityTaken: sel.QuantityTaken})
			break
		}
	}

	// Drained containers leave the partial list; their history stays in the
	// consuming transaction's records.
	kept := p.Containers.Partial[:0]
	for _, c := range p.Containers.Partial {
		if c.Remaining > 1e-9 || c.Status == StatusOversold {
			kept = append(kept, c)
		}
	}
	p.Containers.Partial = kept
	return consumed
}

// applyRestore adds the amount (native unit) back into container state:
// partial containers are topped up latest-expiring first so the allocator's
// earliest-expiry-first order is preserved for future consumption, then whole
// containers accrue to the full count, with any tail opening a new partial.
func (s *Service) applyRestore(p *Product, amount float64) {
	if p.ContainerCapacity <= 0 {
		p.CurrentStock += amount
		return
	}

	idx := make([]int, len(p.Containers.Partial))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		ca, cb := p.Containers.Partial[idx[a]], p.Containers.Partial[idx[b]]
		switch {
		case ca.ExpiryDate == nil && cb.ExpiryDate != nil:
			return true
		case ca.ExpiryDate != nil && cb.ExpiryDate == nil:
			return false
		case ca.ExpiryDate != nil && cb.ExpiryDate != nil && !ca.ExpiryDate.Equal(*cb.ExpiryDate):
			return ca.ExpiryDate.After(*cb.ExpiryDate)
		default:
			return ca.ID > cb.ID
		}
	})

	left := amount
	for _, i := range idx {
		if left <= 0 {
			break
		}
		c := &p.Containers.Partial[i]
		if c.Status == StatusOversold {
			continue
		}
		headroom := c.Capacity - c.Remaining
		if headroom <= 0 {
			continue
		}
		add := min(headroom, left)
		c.Remaining += add
		c.Status = StatusFor(c.Remaining, c.Capacity)
		left -= add
	}

	for left >= p.ContainerCapacity-1e-9 {
		p.Containers.Full++
		left -= p.ContainerCapacity
	}
	if left > 1e-9 {
		p.Containers.Partial = append(p.Containers.Partial, Container{
			ID:        s.newID(),
			Remaining: left,
			Capacity:  p.ContainerCapacity,
			Status:    StatusPartial,
		})
	}
}

func (s *Service) afterMutation(ctx context.Context, productID, actor, action string, meta map[string]any) {
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			Actor:    actor,
			Action:   action,
			Entity:   "product",
			EntityID: productID,
			Meta:     meta,
		}); err != nil {
			s.logger.Warn("audit record failed", slog.String("product_id", productID), slog.Any("error", err))
		}
	}
	if s.onStock != nil {
		if err := s.onStock.StockChanged(ctx, productID); err != nil {
			s.logger.Warn("stock change notification failed", slog.String("product_id", productID), slog.Any("error", err))
		}
	}
}
