package inventory

import (
	"fmt"
	"math"
	"time"
)

// ContainerStatus enumerates the lifecycle states of a tracked container.
type ContainerStatus string

const (
	// StatusFull marks an unopened container.
	StatusFull ContainerStatus = "full"
	// StatusPartial marks an opened container with stock remaining.
	StatusPartial ContainerStatus = "partial"
	// StatusEmpty marks a drained container.
	StatusEmpty ContainerStatus = "empty"
	// StatusOversold is a terminal anomaly flag set outside this engine,
	// never silently corrected and never allocated from.
	StatusOversold ContainerStatus = "oversold"
)

// SaleEvent is one append-only consumption record on a container.
type SaleEvent struct {
	TransactionRef string    `json:"transactionRef"`
	Quantity       float64   `json:"quantity"`
	At             time.Time `json:"at"`
}

// Container is an opened, individually tracked unit of packaged stock.
// Unopened containers are fungible and tracked only as a count.
type Container struct {
	ID          string          `json:"id"`
	Remaining   float64         `json:"remaining"`
	Capacity    float64         `json:"capacity"`
	Status      ContainerStatus `json:"status"`
	BatchNumber string          `json:"batchNumber,omitempty"`
	ExpiryDate  *time.Time      `json:"expiryDate,omitempty"`
	SaleHistory []SaleEvent     `json:"saleHistory,omitempty"`
}

// Containers groups a product's physical stock.
type Containers struct {
	Full    int         `json:"full"`
	Partial []Container `json:"partial"`
}

// Product is the stock document owned by this package. Catalog fields are
// managed elsewhere; only stock fields are mutated here.
type Product struct {
	ID                string
	Name              string
	UnitName          string
	ContainerCapacity float64
	Containers        Containers
	CurrentStock      float64
	ReorderPoint      float64
	CustomConversions map[string]float64
	Version           int64
	UpdatedAt         time.Time
}

// ComputedStock derives total stock from container state. For products that
// are not container-based it is CurrentStock itself.
func (p *Product) ComputedStock() float64 {
	if p.ContainerCapacity <= 0 {
		return p.CurrentStock
	}
	total := float64(p.Containers.Full) * p.ContainerCapacity
	for _, c := range p.Containers.Partial {
		total += c.Remaining
	}
	return total
}

// CheckStockInvariant verifies currentStock == full*capacity + Σ partial.remaining.
func (p *Product) CheckStockInvariant() error {
	if p.ContainerCapacity <= 0 {
		if p.CurrentStock < 0 {
			return fmt.Errorf("inventory: product %s stock negative: %.4f", p.ID, p.CurrentStock)
		}
		return nil
	}
	if math.Abs(p.CurrentStock-p.ComputedStock()) > 1e-6 {
		return fmt.Errorf("inventory: product %s stock %.4f diverges from container total %.4f",
			p.ID, p.CurrentStock, p.ComputedStock())
	}
	return nil
}

// StatusFor derives a container status from remaining vs capacity. Oversold
// is sticky and must be preserved by callers before deriving.
func StatusFor(remaining, capacity float64) ContainerStatus {
	switch {
	case remaining <= 0:
		return StatusEmpty
	case remaining >= capacity:
		return StatusFull
	default:
		return StatusPartial
	}
}

// InsufficientStockError reports demand that could not be met.
type InsufficientStockError struct {
	ProductID string
	Required  float64
	Available float64
	Unit      string
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: insufficient stock for product %s: required %.4f %s, available %.4f",
		e.ProductID, e.Required, e.Unit, e.Available)
}
