// Package refunds implements the refund lifecycle against sales
// transactions: eligibility, duplicate protection, approval workflow and
// stock restoration.
package refunds

import (
	"errors"
	"fmt"
	"time"
)

// Status enumerates the refund state machine:
// pending -> approved -> processing -> completed; pending -> rejected;
// any non-completed, non-terminal state -> cancelled.
type Status string

const (
	StatusPending    Status = "pending"
	StatusApproved   Status = "approved"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusRejected   Status = "rejected"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRejected || s == StatusCancelled
}

// CanTransition checks a single state machine edge.
func (s Status) CanTransition(to Status) bool {
	switch to {
	case StatusApproved, StatusRejected:
		return s == StatusPending
	case StatusProcessing:
		return s == StatusApproved
	case StatusCompleted:
		return s == StatusProcessing
	case StatusCancelled:
		return !s.Terminal()
	default:
		return false
	}
}

// Type distinguishes full from partial refunds.
type Type string

const (
	TypeFull    Type = "full"
	TypePartial Type = "partial"
)

// Item is one refunded line, snapshotted from the transaction's items.
type Item struct {
	ProductID        string  `json:"productId"`
	ProductName      string  `json:"productName,omitempty"`
	OriginalQuantity float64 `json:"originalQuantity"`
	RefundQuantity   float64 `json:"refundQuantity"`
	Unit             string  `json:"unit,omitempty"`
	UnitPrice        float64 `json:"unitPrice"`
	RefundAmount     float64 `json:"refundAmount"`
	Reason           string  `json:"reason,omitempty"`
}

// Refund is the refund document. Immutable once completed.
type Refund struct {
	ID            string     `json:"id"`
	TransactionID string     `json:"transactionId"`
	Items         []Item     `json:"items"`
	RefundAmount  float64    `json:"refundAmount"`
	RefundType    Type       `json:"refundType"`
	Status        Status     `json:"status"`
	Reason        string     `json:"reason,omitempty"`
	Method        string     `json:"method,omitempty"`
	CreatedBy     string     `json:"createdBy,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	ApprovedBy    string     `json:"approvedBy,omitempty"`
	ApprovedAt    *time.Time `json:"approvedAt,omitempty"`
	RejectedBy    string     `json:"rejectedBy,omitempty"`
	RejectedAt    *time.Time `json:"rejectedAt,omitempty"`
	ProcessedBy   string     `json:"processedBy,omitempty"`
	ProcessedAt   *time.Time `json:"processedAt,omitempty"`
	CompletedBy   string     `json:"completedBy,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	CancelledBy   string     `json:"cancelledBy,omitempty"`
	CancelledAt   *time.Time `json:"cancelledAt,omitempty"`
	SettlementRef string     `json:"settlementRef,omitempty"`
	Version       int64      `json:"-"`
}

// CountsTowardRollup reports whether this refund contributes to the
// transaction's refunded totals and to eligibility. Rejected and cancelled
// refunds never do.
func (r *Refund) CountsTowardRollup() bool {
	switch r.Status {
	case StatusPending, StatusApproved, StatusProcessing, StatusCompleted:
		return true
	default:
		return false
	}
}

// ErrRefundNotFound indicates a missing refund document.
var ErrRefundNotFound = errors.New("refunds: refund not found")

// NotRefundableError indicates the transaction cannot take refunds.
type NotRefundableError struct {
	TransactionID string
	Status        string
}

func (e *NotRefundableError) Error() string {
	return fmt.Sprintf("refunds: transaction %s is %s and not refundable", e.TransactionID, e.Status)
}

// DuplicateRefundError indicates an overlapping refund inside the
// duplicate-submission window.
type DuplicateRefundError struct {
	TransactionID string
	ExistingID    string
	Window        time.Duration
}

func (e *DuplicateRefundError) Error() string {
	return fmt.Sprintf("refunds: refund %s for transaction %s with overlapping items was submitted within the last %s",
		e.ExistingID, e.TransactionID, e.Window)
}

// InvalidRefundQuantityError indicates a request exceeding what remains
// refundable for an item.
type InvalidRefundQuantityError struct {
	ProductID string
	Requested float64
	Remaining float64
}

func (e *InvalidRefundQuantityError) Error() string {
	return fmt.Sprintf("refunds: product %s: requested %.4f exceeds refundable %.4f",
		e.ProductID, e.Requested, e.Remaining)
}

// InvalidTransitionError indicates an illegal state machine edge.
type InvalidTransitionError struct {
	RefundID string
	From     Status
	To       Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("refunds: refund %s cannot transition %s to %s", e.RefundID, e.From, e.To)
}
