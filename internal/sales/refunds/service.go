package refunds

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-pos/meridian-pos/internal/inventory"
	"github.com/meridian-pos/meridian-pos/internal/sales/transactions"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// DefaultDuplicateWindow is how long overlapping refund submissions for the
// same transaction are treated as duplicates.
const DefaultDuplicateWindow = 5 * time.Second

// RepositoryPort abstracts refund persistence for the engine.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetRefund(ctx context.Context, id string) (*Refund, error)
	ListByTransaction(ctx context.Context, transactionID string) ([]Refund, error)
}

// TxRepository is the unit of work spanning the refund, its transaction and
// any product documents restored or re-consumed.
type TxRepository interface {
	inventory.TxRepository
	InsertRefund(ctx context.Context, r *Refund) error
	GetRefundForUpdate(ctx context.Context, id string) (*Refund, error)
	UpdateRefund(ctx context.Context, r *Refund) error
	ListRefundsByTransaction(ctx context.Context, transactionID string) ([]Refund, error)
	GetTransactionForUpdate(ctx context.Context, id string) (*transactions.Transaction, error)
	UpdateTransaction(ctx context.Context, t *transactions.Transaction) error
}

// TransactionReader reads transactions outside a unit of work.
type TransactionReader interface {
	Get(ctx context.Context, id string) (*transactions.Transaction, error)
}

// Ledger restores (and, on cancellation after processing, re-consumes)
// stock inside the caller's unit of work.
type Ledger interface {
	RestoreTx(ctx context.Context, tx inventory.TxRepository, input inventory.RestoreInput) (inventory.RestoreResult, error)
	ConsumeTx(ctx context.Context, tx inventory.TxRepository, input inventory.ConsumeInput) (inventory.ConsumeResult, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// StockChangePort is notified once per restored product after commit.
type StockChangePort interface {
	StockChanged(ctx context.Context, productID string) error
}

// MetricsPort records refund lifecycle transitions.
type MetricsPort interface {
	RefundTransition(status string)
}

// Service is the refund engine.
type Service struct {
	repo      RepositoryPort
	txns      TransactionReader
	ledger    Ledger
	audit     AuditPort
	onStock   StockChangePort
	metrics   MetricsPort
	logger    *slog.Logger
	newID     func() string
	now       func() time.Time
	dupWindow time.Duration
}

// NewService builds Service. audit and onStock may be nil.
func NewService(repo RepositoryPort, txns TransactionReader, ledger Ledger, audit AuditPort, onStock StockChangePort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		txns:      txns,
		ledger:    ledger,
		audit:     audit,
		onStock:   onStock,
		logger:    logger,
		newID:     uuid.NewString,
		now:       func() time.Time { return time.Now().UTC() },
		dupWindow: DefaultDuplicateWindow,
	}
}

// SetDuplicateWindow overrides the duplicate-submission window.
func (s *Service) SetDuplicateWindow(d time.Duration) {
	if d > 0 {
		s.dupWindow = d
	}
}

// SetMetrics attaches a refund transition metrics recorder.
func (s *Service) SetMetrics(m MetricsPort) {
	s.metrics = m
}

func (s *Service) recordTransition(status Status) {
	if s.metrics != nil {
		s.metrics.RefundTransition(string(status))
	}
}

// CreateItemInput is one requested refund line.
type CreateItemInput struct {
	ProductID      string
	RefundQuantity float64
	Reason         string
}

// CreateInput describes a refund creation request.
type CreateInput struct {
	TransactionID string
	Items         []CreateItemInput
	Reason        string
	Method        string
	CreatedBy     string
}

// Create validates eligibility, enforces the duplicate-submission guard and
// persists the refund together with the transaction's refund rollup in one
// unit of work. The transaction row lock taken here closes the race where
// two concurrent duplicates both pass the guard before either commits.
func (s *Service) Create(ctx context.Context, input CreateInput) (*Refund, error) {
	if input.TransactionID == "" {
		return nil, errors.New("refunds: transaction id required")
	}
	if len(input.Items) == 0 {
		return nil, errors.New("refunds: at least one item required")
	}

	var refund *Refund
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		txn, err := tx.GetTransactionForUpdate(ctx, input.TransactionID)
		if err != nil {
			return err
		}
		if txn.Status == transactions.StatusCancelled || txn.Status == transactions.StatusRefunded || txn.Type == transactions.TypeDraft {
			return &NotRefundableError{TransactionID: txn.ID, Status: string(txn.Status)}
		}

		existing, err := tx.ListRefundsByTransaction(ctx, txn.ID)
		if err != nil {
			return err
		}
		if dup := s.findDuplicate(existing, input.Items); dup != nil {
			return &DuplicateRefundError{TransactionID: txn.ID, ExistingID: dup.ID, Window: s.dupWindow}
		}

		refunded := refundedQuantities(existing)
		now := s.now()
		refund = &Refund{
			ID:            s.newID(),
			TransactionID: txn.ID,
			Status:        StatusPending,
			Reason:        input.Reason,
			Method:        input.Method,
			CreatedBy:     input.CreatedBy,
			CreatedAt:     now,
		}

		var total float64
		for _, req := range input.Items {
			if req.RefundQuantity <= 0 {
				return &InvalidRefundQuantityError{ProductID: req.ProductID, Requested: req.RefundQuantity}
			}
			snapshot := findProductItem(txn, req.ProductID)
			if snapshot == nil {
				return &InvalidRefundQuantityError{ProductID: req.ProductID, Requested: req.RefundQuantity}
			}
			remaining := snapshot.Quantity - refunded[req.ProductID]
			if req.RefundQuantity > remaining+1e-9 {
				return &InvalidRefundQuantityError{ProductID: req.ProductID, Requested: req.RefundQuantity, Remaining: remaining}
			}
			amount := transactions.RoundCents(snapshot.UnitPrice * req.RefundQuantity)
			total += amount
			refund.Items = append(refund.Items, Item{
				ProductID:        req.ProductID,
				ProductName:      snapshot.Name,
				OriginalQuantity: snapshot.Quantity,
				RefundQuantity:   req.RefundQuantity,
				Unit:             snapshot.Unit,
				UnitPrice:        snapshot.UnitPrice,
				RefundAmount:     amount,
				Reason:           req.Reason,
			})
		}
		refund.RefundAmount = transactions.RoundCents(total)
		if refund.RefundAmount >= txn.TotalAmount {
			refund.RefundType = TypeFull
		} else {
			refund.RefundType = TypePartial
		}

		if err := tx.InsertRefund(ctx, refund); err != nil {
			return err
		}

		txn.RefundHistory = append(txn.RefundHistory, refund.ID)
		txn.RefundCount++
		txn.TotalRefunded = transactions.RoundCents(txn.TotalRefunded + refund.RefundAmount)
		txn.LastRefundDate = &now
		if refund.RefundType == TypeFull {
			txn.RefundStatus = transactions.RefundFull
			txn.Status = transactions.StatusRefunded
		} else {
			txn.RefundStatus = transactions.RefundPartial
			txn.Status = transactions.StatusPartiallyRefunded
		}
		txn.UpdatedAt = now
		return tx.UpdateTransaction(ctx, txn)
	})
	if err != nil {
		return nil, err
	}

	s.recordTransition(StatusPending)
	s.recordAudit(ctx, refund, input.CreatedBy, "refunds:create")
	return refund, nil
}

// Approve transitions a pending refund to approved.
func (s *Service) Approve(ctx context.Context, refundID, actor string) (*Refund, error) {
	return s.transition(ctx, refundID, StatusApproved, func(r *Refund, now time.Time) {
		r.ApprovedBy = actor
		r.ApprovedAt = &now
	}, nil)
}

// Reject transitions a pending refund to rejected and re-derives the
// transaction's refund rollup from the remaining counting refunds, rather
// than subtracting, so the totals cannot drift.
func (s *Service) Reject(ctx context.Context, refundID, actor, reason string) (*Refund, error) {
	return s.transition(ctx, refundID, StatusRejected, func(r *Refund, now time.Time) {
		r.RejectedBy = actor
		r.RejectedAt = &now
		if reason != "" {
			r.Reason = reason
		}
	}, s.rederiveRollup)
}

// Cancel transitions any non-terminal refund to cancelled. A refund
// cancelled after processing has already restored stock, so the restoration
// is consumed back inside the same unit of work.
func (s *Service) Cancel(ctx context.Context, refundID, actor string) (*Refund, error) {
	return s.transition(ctx, refundID, StatusCancelled, func(r *Refund, now time.Time) {
		r.CancelledBy = actor
		r.CancelledAt = &now
	}, func(ctx context.Context, tx TxRepository, r *Refund) error {
		if r.ProcessedAt != nil {
			for _, item := range r.Items {
				_, err := s.ledger.ConsumeTx(ctx, tx, inventory.ConsumeInput{
					ProductID:      item.ProductID,
					Quantity:       item.RefundQuantity,
					Unit:           item.Unit,
					TransactionRef: "refund-cancel:" + r.ID,
					Actor:          r.CancelledBy,
				})
				if err != nil {
					return err
				}
			}
		}
		return s.rederiveRollup(ctx, tx, r)
	})
}

// Process transitions an approved refund to processing and restores each
// refunded item's stock, atomically with the status change.
func (s *Service) Process(ctx context.Context, refundID, actor string) (*Refund, error) {
	refund, err := s.transition(ctx, refundID, StatusProcessing, func(r *Refund, now time.Time) {
		r.ProcessedBy = actor
		r.ProcessedAt = &now
	}, func(ctx context.Context, tx TxRepository, r *Refund) error {
		for _, item := range r.Items {
			_, err := s.ledger.RestoreTx(ctx, tx, inventory.RestoreInput{
				ProductID: item.ProductID,
				Quantity:  item.RefundQuantity,
				Unit:      item.Unit,
				RefundRef: r.ID,
				Actor:     actor,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.onStock != nil {
		for _, item := range refund.Items {
			if err := s.onStock.StockChanged(ctx, item.ProductID); err != nil {
				s.logger.Warn("stock change notification failed", slog.String("product_id", item.ProductID), slog.Any("error", err))
			}
		}
	}
	return refund, nil
}

// Complete transitions a processing refund to completed, recording the
// payment settlement reference. Completed refunds are immutable.
func (s *Service) Complete(ctx context.Context, refundID, actor, settlementRef string) (*Refund, error) {
	return s.transition(ctx, refundID, StatusCompleted, func(r *Refund, now time.Time) {
		r.CompletedBy = actor
		r.CompletedAt = &now
		r.SettlementRef = settlementRef
	}, nil)
}

// Get returns the refund document.
func (s *Service) Get(ctx context.Context, id string) (*Refund, error) {
	return s.repo.GetRefund(ctx, id)
}

// ListByTransaction returns the refund history of a transaction.
func (s *Service) ListByTransaction(ctx context.Context, transactionID string) ([]Refund, error) {
	return s.repo.ListByTransaction(ctx, transactionID)
}

// RefundableItem is one eligibility line.
type RefundableItem struct {
	ProductID             string  `json:"productId"`
	ProductName           string  `json:"productName,omitempty"`
	MaxRefundableQuantity float64 `json:"maxRefundableQuantity"`
	UnitPrice             float64 `json:"unitPrice"`
}

// Eligibility reports what remains refundable on a transaction.
type Eligibility struct {
	Eligible            bool             `json:"eligible"`
	MaxRefundableAmount float64          `json:"maxRefundableAmount"`
	RefundableItems     []RefundableItem `json:"refundableItems"`
}

// CalculateEligibility derives remaining refundable quantity per item and
// the remaining refundable amount from all counting refunds.
func (s *Service) CalculateEligibility(ctx context.Context, transactionID string) (Eligibility, error) {
	txn, err := s.txns.Get(ctx, transactionID)
	if err != nil {
		return Eligibility{}, err
	}
	existing, err := s.repo.ListByTransaction(ctx, transactionID)
	if err != nil {
		return Eligibility{}, err
	}

	refunded := refundedQuantities(existing)
	var refundedAmount float64
	for _, r := range existing {
		if r.CountsTowardRollup() {
			refundedAmount += r.RefundAmount
		}
	}

	result := Eligibility{
		MaxRefundableAmount: transactions.RoundCents(txn.TotalAmount - refundedAmount),
	}
	if result.MaxRefundableAmount < 0 {
		result.MaxRefundableAmount = 0
	}
	for _, item := range txn.Items {
		if item.Kind != transactions.ItemProduct {
			continue
		}
		remaining := item.Quantity - refunded[item.ProductID]
		if remaining < 0 {
			remaining = 0
		}
		result.RefundableItems = append(result.RefundableItems, RefundableItem{
			ProductID:             item.ProductID,
			ProductName:           item.Name,
			MaxRefundableQuantity: remaining,
			UnitPrice:             item.UnitPrice,
		})
		if remaining > 0 {
			result.Eligible = true
		}
	}
	if result.MaxRefundableAmount <= 0 {
		result.Eligible = false
	}
	return result, nil
}

// transition runs the shared lifecycle machinery: lock the refund, check
// the state machine edge, apply stamps, run the optional in-tx hook and
// persist.
func (s *Service) transition(ctx context.Context, refundID string, to Status, stamp func(*Refund, time.Time), hook func(context.Context, TxRepository, *Refund) error) (*Refund, error) {
	var refund *Refund
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		r, err := tx.GetRefundForUpdate(ctx, refundID)
		if err != nil {
			return err
		}
		if !r.Status.CanTransition(to) {
			return &InvalidTransitionError{RefundID: r.ID, From: r.Status, To: to}
		}
		from := r.Status
		r.Status = to
		stamp(r, s.now())
		if hook != nil {
			if err := hook(ctx, tx, r); err != nil {
				r.Status = from
				return err
			}
		}
		if err := tx.UpdateRefund(ctx, r); err != nil {
			return err
		}
		refund = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordTransition(to)
	s.recordAudit(ctx, refund, actorFor(refund, to), "refunds:"+string(to))
	return refund, nil
}

// rederiveRollup recomputes the transaction's refund aggregate fields from
// the surviving counting refunds.
func (s *Service) rederiveRollup(ctx context.Context, tx TxRepository, changed *Refund) error {
	txn, err := tx.GetTransactionForUpdate(ctx, changed.TransactionID)
	if err != nil {
		return err
	}
	all, err := tx.ListRefundsByTransaction(ctx, changed.TransactionID)
	if err != nil {
		return err
	}

	var total float64
	var count int
	var last *time.Time
	var history []string
	for i := range all {
		r := all[i]
		if r.ID == changed.ID {
			r = *changed
		}
		if !r.CountsTowardRollup() {
			continue
		}
		total += r.RefundAmount
		count++
		history = append(history, r.ID)
		if last == nil || r.CreatedAt.After(*last) {
			t := r.CreatedAt
			last = &t
		}
	}

	txn.TotalRefunded = transactions.RoundCents(total)
	txn.RefundCount = count
	txn.RefundHistory = history
	txn.LastRefundDate = last
	switch {
	case txn.TotalRefunded <= 0:
		// The last counting refund is gone. Clear the refund marks and
		// fall back to the payment-derived status; an unpaid sale goes
		// back to pending, not completed.
		txn.RefundStatus = transactions.RefundNone
		if txn.Status == transactions.StatusRefunded || txn.Status == transactions.StatusPartiallyRefunded {
			if txn.PaymentStatus == transactions.PaymentPaid {
				txn.Status = transactions.StatusCompleted
			} else {
				txn.Status = transactions.StatusPending
			}
		}
	case txn.TotalRefunded >= txn.TotalAmount:
		txn.RefundStatus = transactions.RefundFull
		txn.Status = transactions.StatusRefunded
	default:
		txn.RefundStatus = transactions.RefundPartial
		txn.Status = transactions.StatusPartiallyRefunded
	}
	txn.UpdatedAt = s.now()
	return tx.UpdateTransaction(ctx, txn)
}

// findDuplicate applies the windowed guard: a non-rejected refund created
// inside the window whose product set intersects the request is a
// duplicate. Disjoint item sets in quick succession stay allowed.
func (s *Service) findDuplicate(existing []Refund, requested []CreateItemInput) *Refund {
	cutoff := s.now().Add(-s.dupWindow)
	requestedSet := make(map[string]bool, len(requested))
	for _, item := range requested {
		requestedSet[item.ProductID] = true
	}
	for i := range existing {
		r := &existing[i]
		if r.Status == StatusRejected || r.CreatedAt.Before(cutoff) {
			continue
		}
		for _, item := range r.Items {
			if requestedSet[item.ProductID] {
				return r
			}
		}
	}
	return nil
}

// refundedQuantities sums refunded quantity per product across counting refunds.
func refundedQuantities(existing []Refund) map[string]float64 {
	totals := make(map[string]float64)
	for _, r := range existing {
		if !r.CountsTowardRollup() {
			continue
		}
		for _, item := range r.Items {
			totals[item.ProductID] += item.RefundQuantity
		}
	}
	return totals
}

func findProductItem(txn *transactions.Transaction, productID string) *transactions.Item {
	for i := range txn.Items {
		if txn.Items[i].Kind == transactions.ItemProduct && txn.Items[i].ProductID == productID {
			return &txn.Items[i]
		}
	}
	return nil
}

func actorFor(r *Refund, to Status) string {
	switch to {
	case StatusApproved:
		return r.ApprovedBy
	case StatusRejected:
		return r.RejectedBy
	case StatusProcessing:
		return r.ProcessedBy
	case StatusCompleted:
		return r.CompletedBy
	case StatusCancelled:
		return r.CancelledBy
	default:
		return r.CreatedBy
	}
}

func (s *Service) recordAudit(ctx context.Context, refund *Refund, actor, action string) {
	if s.audit == nil || refund == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   "refund",
		EntityID: refund.ID,
		Meta: map[string]any{
			"transaction_id": refund.TransactionID,
			"amount":         refund.RefundAmount,
			"type":           refund.RefundType,
			"status":         refund.Status,
		},
	}); err != nil {
		s.logger.Warn("audit record failed", slog.String("refund_id", refund.ID), slog.Any("error", err))
	}
}
