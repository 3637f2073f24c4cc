package transactions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-pos/meridian-pos/internal/bundles"
	"github.com/meridian-pos/meridian-pos/internal/inventory"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// RepositoryPort abstracts transaction persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id string) (*Transaction, error)
}

// TxRepository is the unit of work spanning the transaction document and all
// product documents it consumes from.
type TxRepository interface {
	inventory.TxRepository
	InsertTransaction(ctx context.Context, t *Transaction) error
	GetTransactionForUpdate(ctx context.Context, id string) (*Transaction, error)
	UpdateTransaction(ctx context.Context, t *Transaction) error
}

// Ledger consumes stock inside the caller's unit of work.
type Ledger interface {
	ConsumeTx(ctx context.Context, tx inventory.TxRepository, input inventory.ConsumeInput) (inventory.ConsumeResult, error)
}

// BundleResolver looks up bundle constituents when a sale line is a bundle.
type BundleResolver interface {
	GetBundle(ctx context.Context, id string) (*bundles.Bundle, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// StockChangePort is notified once per touched product after commit.
type StockChangePort interface {
	StockChanged(ctx context.Context, productID string) error
}

// Service orchestrates sale creation and field updates. It is one of the two
// entry points that own atomic units of work in this system.
type Service struct {
	repo        RepositoryPort
	ledger      Ledger
	bundles     BundleResolver
	audit       AuditPort
	onStock     StockChangePort
	idempotency *shared.IdempotencyStore
	logger      *slog.Logger
	newID       func() string
	now         func() time.Time
}

// NewService builds Service. bundles, audit, onStock and idempotency may be nil.
func NewService(repo RepositoryPort, ledger Ledger, bundleResolver BundleResolver, audit AuditPort, onStock StockChangePort, idem *shared.IdempotencyStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		ledger:      ledger,
		bundles:     bundleResolver,
		audit:       audit,
		onStock:     onStock,
		idempotency: idem,
		logger:      logger,
		newID:       uuid.NewString,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// CreateInput describes a sale creation request.
type CreateInput struct {
	Items          []Item
	Draft          bool
	PaymentStatus  PaymentStatus
	PaymentMethod  string
	CreatedBy      string
	IdempotencyKey string
}

// Create validates the items, consumes stock for every non-draft sale and
// persists the transaction, all inside one unit of work. Any consumption
// failure aborts the whole operation: no item is partially consumed and no
// transaction document is written.
func (s *Service) Create(ctx context.Context, input CreateInput) (*Transaction, error) {
	if len(input.Items) == 0 {
		return nil, errors.New("transactions: at least one item required")
	}

	now := s.now()
	txn := &Transaction{
		ID:            s.newID(),
		Items:         make([]Item, len(input.Items)),
		Status:        StatusPending,
		Type:          TypeCompleted,
		PaymentStatus: input.PaymentStatus,
		PaymentMethod: input.PaymentMethod,
		RefundStatus:  RefundNone,
		CreatedBy:     input.CreatedBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if input.PaymentStatus == "" {
		txn.PaymentStatus = PaymentUnpaid
	}
	if input.Draft {
		txn.Status = StatusDraft
		txn.Type = TypeDraft
	}

	var total float64
	for idx, item := range input.Items {
		if err := item.Validate(); err != nil {
			return nil, err
		}
		item.TotalPrice = RoundCents(item.Quantity * item.UnitPrice)
		total += item.TotalPrice
		txn.Items[idx] = item
	}
	txn.TotalAmount = RoundCents(total)
	txn.Normalize()

	insertedKey := false
	if s.idempotency != nil && input.IdempotencyKey != "" {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, "transactions"); err != nil {
			return nil, err
		}
		insertedKey = true
	}

	var touched []string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		touched = nil
		if txn.Type != TypeDraft {
			products, err := s.consumeItems(ctx, tx, txn)
			if err != nil {
				return err
			}
			txn.StockConsumed = true
			touched = products
		}
		return tx.InsertTransaction(ctx, txn)
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, input.IdempotencyKey)
		}
		return nil, err
	}

	s.afterCommit(ctx, txn, touched, "transactions:create")
	return txn, nil
}

// UpdateInput carries optional field updates. Items are immutable after
// creation; only payment and lifecycle fields may change.
type UpdateInput struct {
	PaymentStatus *PaymentStatus
	PaymentMethod *string
	Status        *Status
	Actor         string
}

// Update applies field updates and re-runs normalization. A draft that
// becomes paid turns into a completed sale and consumes its stock at that
// point, atomically with the field update.
func (s *Service) Update(ctx context.Context, id string, input UpdateInput) (*Transaction, error) {
	var updated *Transaction
	var touched []string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		touched = nil
		txn, err := tx.GetTransactionForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if txn.Status == StatusCancelled || txn.Status == StatusRefunded {
			return fmt.Errorf("transactions: transaction %s is %s and cannot be updated", txn.ID, txn.Status)
		}

		if input.PaymentStatus != nil {
			txn.PaymentStatus = *input.PaymentStatus
		}
		if input.PaymentMethod != nil {
			txn.PaymentMethod = *input.PaymentMethod
		}
		if input.Status != nil {
			txn.Status = *input.Status
		}
		txn.Normalize()

		if txn.Type != TypeDraft && !txn.StockConsumed {
			products, err := s.consumeItems(ctx, tx, txn)
			if err != nil {
				return err
			}
			txn.StockConsumed = true
			touched = products
		}

		txn.UpdatedAt = s.now()
		if err := tx.UpdateTransaction(ctx, txn); err != nil {
			return err
		}
		updated = txn
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, updated, touched, "transactions:update")
	return updated, nil
}

// Get returns the transaction document.
func (s *Service) Get(ctx context.Context, id string) (*Transaction, error) {
	return s.repo.Get(ctx, id)
}

// consumeItems runs one ledger consumption per stock-bearing line. Bundles
// consume each constituent; blends consume each component; miscellaneous
// lines carry no stock. Returns the distinct product ids touched.
func (s *Service) consumeItems(ctx context.Context, tx TxRepository, txn *Transaction) ([]string, error) {
	seen := make(map[string]bool)
	var touched []string
	consume := func(productID string, qty float64, unit string) error {
		_, err := s.ledger.ConsumeTx(ctx, tx, inventory.ConsumeInput{
			ProductID:      productID,
			Quantity:       qty,
			Unit:           unit,
			TransactionRef: txn.ID,
			Actor:          txn.CreatedBy,
		})
		if err != nil {
			return err
		}
		if !seen[productID] {
			seen[productID] = true
			touched = append(touched, productID)
		}
		return nil
	}

	for _, item := range txn.Items {
		switch item.Kind {
		case ItemProduct:
			if err := consume(item.ProductID, item.Quantity, item.Unit); err != nil {
				return nil, err
			}
		case ItemFixedBlend, ItemCustomBlend:
			for _, c := range item.Components {
				if err := consume(c.ProductID, c.Quantity*item.Quantity, c.Unit); err != nil {
					return nil, err
				}
			}
		case ItemBundle:
			if s.bundles == nil {
				return nil, errors.New("transactions: bundle items not supported without a bundle resolver")
			}
			bundle, err := s.bundles.GetBundle(ctx, item.BundleID)
			if err != nil {
				return nil, err
			}
			for _, bp := range bundle.BundleProducts {
				if err := consume(bp.ProductID, bp.Quantity*item.Quantity, ""); err != nil {
					return nil, err
				}
			}
		case ItemMiscellaneous:
			// No stock effect.
		}
	}
	return touched, nil
}

func (s *Service) afterCommit(ctx context.Context, txn *Transaction, touched []string, action string) {
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			Actor:    txn.CreatedBy,
			Action:   action,
			Entity:   "transaction",
			EntityID: txn.ID,
			Meta: map[string]any{
				"total_amount":   txn.TotalAmount,
				"status":         txn.Status,
				"payment_status": txn.PaymentStatus,
				"items":          len(txn.Items),
			},
		}); err != nil {
			s.logger.Warn("audit record failed", slog.String("transaction_id", txn.ID), slog.Any("error", err))
		}
	}
	if s.onStock != nil {
		for _, productID := range touched {
			if err := s.onStock.StockChanged(ctx, productID); err != nil {
				s.logger.Warn("stock change notification failed", slog.String("product_id", productID), slog.Any("error", err))
			}
		}
	}
}
