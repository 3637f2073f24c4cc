package transactions

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Status enumerates transaction lifecycle states.
type Status string

const (
	StatusPending           Status = "pending"
	StatusCompleted         Status = "completed"
	StatusCancelled         Status = "cancelled"
	StatusRefunded          Status = "refunded"
	StatusPartiallyRefunded Status = "partially_refunded"
	StatusDraft             Status = "draft"
)

// Type distinguishes drafts from committed sales.
type Type string

const (
	TypeDraft     Type = "DRAFT"
	TypeCompleted Type = "COMPLETED"
)

// PaymentStatus tracks settlement of the sale.
type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "unpaid"
	PaymentPaid   PaymentStatus = "paid"
)

// RefundStatus summarises the refund rollup on the transaction.
type RefundStatus string

const (
	RefundNone    RefundStatus = "none"
	RefundPartial RefundStatus = "partial"
	RefundFull    RefundStatus = "full"
)

// ItemKind discriminates the sale item union. Each kind carries only its
// relevant fields, checked at validation time.
type ItemKind string

const (
	ItemProduct       ItemKind = "product"
	ItemFixedBlend    ItemKind = "fixedBlend"
	ItemCustomBlend   ItemKind = "customBlend"
	ItemBundle        ItemKind = "bundle"
	ItemMiscellaneous ItemKind = "miscellaneous"
)

// BlendComponent is one constituent of a blend item, in the component
// product's requested unit per one unit of the blend.
type BlendComponent struct {
	ProductID string  `json:"productId"`
	Quantity  float64 `json:"quantity"`
	Unit      string  `json:"unit,omitempty"`
}

// Item is one sale line. Kind decides which reference fields apply:
// product/blends use ProductID (blends also Components), bundle uses
// BundleID, miscellaneous uses Description only.
type Item struct {
	Kind        ItemKind         `json:"kind"`
	Name        string           `json:"name,omitempty"`
	ProductID   string           `json:"productId,omitempty"`
	BundleID    string           `json:"bundleId,omitempty"`
	Description string           `json:"description,omitempty"`
	Components  []BlendComponent `json:"components,omitempty"`
	Quantity    float64          `json:"quantity"`
	Unit        string           `json:"unit,omitempty"`
	UnitPrice   float64          `json:"unitPrice"`
	TotalPrice  float64          `json:"totalPrice"`
}

// Validate checks the kind-specific shape of the item.
func (i *Item) Validate() error {
	if i.Quantity <= 0 {
		return fmt.Errorf("transactions: item quantity must be positive, got %.4f", i.Quantity)
	}
	if i.UnitPrice < 0 {
		return errors.New("transactions: item unit price must be >= 0")
	}
	switch i.Kind {
	case ItemProduct:
		if i.ProductID == "" {
			return errors.New("transactions: product item requires productId")
		}
	case ItemFixedBlend, ItemCustomBlend:
		if i.ProductID == "" {
			return errors.New("transactions: blend item requires productId")
		}
		if len(i.Components) == 0 {
			return fmt.Errorf("transactions: %s item requires components", i.Kind)
		}
		for _, c := range i.Components {
			if c.ProductID == "" || c.Quantity <= 0 {
				return errors.New("transactions: blend component requires productId and positive quantity")
			}
		}
	case ItemBundle:
		if i.BundleID == "" {
			return errors.New("transactions: bundle item requires bundleId")
		}
	case ItemMiscellaneous:
		if i.Description == "" {
			return errors.New("transactions: miscellaneous item requires description")
		}
	default:
		return fmt.Errorf("transactions: unknown item kind %q", i.Kind)
	}
	return nil
}

// Transaction is the sale document.
type Transaction struct {
	ID             string        `json:"id"`
	Items          []Item        `json:"items"`
	Status         Status        `json:"status"`
	Type           Type          `json:"type"`
	TotalAmount    float64       `json:"totalAmount"`
	PaymentStatus  PaymentStatus `json:"paymentStatus"`
	PaymentMethod  string        `json:"paymentMethod,omitempty"`
	StockConsumed  bool          `json:"stockConsumed"`
	RefundStatus   RefundStatus  `json:"refundStatus"`
	RefundHistory  []string      `json:"refundHistory,omitempty"`
	RefundCount    int           `json:"refundCount"`
	TotalRefunded  float64       `json:"totalRefunded"`
	LastRefundDate *time.Time    `json:"lastRefundDate,omitempty"`
	CreatedBy      string        `json:"createdBy,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
	Version        int64         `json:"-"`
}

// Normalize enforces the payment rule: a paid transaction is always a
// completed sale, regardless of requested draft fields. Idempotent; applied
// on create and on any later update touching paymentStatus.
func (t *Transaction) Normalize() {
	if t.RefundStatus == "" {
		t.RefundStatus = RefundNone
	}
	if t.PaymentStatus == PaymentPaid {
		t.Type = TypeCompleted
		if t.Status == StatusDraft || t.Status == StatusPending || t.Status == "" {
			t.Status = StatusCompleted
		}
	}
}

// RoundCents rounds an amount to whole cents, used at every aggregation
// point so item sums and rollups stay comparable.
func RoundCents(amount float64) float64 {
	return math.Round(amount*100) / 100
}

// ErrTransactionNotFound indicates a missing transaction document.
var ErrTransactionNotFound = errors.New("transactions: transaction not found")
