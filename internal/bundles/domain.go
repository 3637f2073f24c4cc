// Package bundles derives the sellable quantity of product bundles from
// their constituents' stock.
package bundles

import (
	"errors"
	"time"
)

// ErrBundleNotFound indicates a missing bundle document.
var ErrBundleNotFound = errors.New("bundles: bundle not found")

// BundleProduct is one constituent line: a product and the quantity of it
// required per bundle unit, in the product's native unit.
type BundleProduct struct {
	ProductID string  `json:"productId"`
	Quantity  float64 `json:"quantity"`
}

// Bundle is a priced grouping of products sold as one item. Availability is
// derived and cached, never authoritative.
type Bundle struct {
	ID                   string          `json:"id"`
	Name                 string          `json:"name"`
	BundleProducts       []BundleProduct `json:"bundleProducts"`
	BundlePrice          float64         `json:"bundlePrice"`
	IndividualTotalPrice float64         `json:"individualTotalPrice"`
	Savings              float64         `json:"savings"`
	AvailableQuantity    int             `json:"availableQuantity"`
	MaxQuantity          int             `json:"maxQuantity"`
	Available            bool            `json:"available"`
	Version              int64           `json:"-"`
	UpdatedAt            time.Time       `json:"updatedAt"`
}
