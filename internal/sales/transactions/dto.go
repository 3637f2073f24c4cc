package transactions

// CreateTransactionRequest is the HTTP shape of a sale creation.
type CreateTransactionRequest struct {
	Items          []ItemRequest `json:"items" validate:"required,min=1,dive"`
	Draft          bool          `json:"draft"`
	PaymentStatus  string        `json:"paymentStatus" validate:"omitempty,oneof=unpaid paid"`
	PaymentMethod  string        `json:"paymentMethod" validate:"max=32"`
	CreatedBy      string        `json:"createdBy" validate:"max=64"`
	IdempotencyKey string        `json:"idempotencyKey" validate:"max=128"`
}

// ItemRequest mirrors Item with decode-time discrimination on kind.
type ItemRequest struct {
	Kind        string                  `json:"kind" validate:"required,oneof=product fixedBlend customBlend bundle miscellaneous"`
	Name        string                  `json:"name" validate:"max=128"`
	ProductID   string                  `json:"productId" validate:"max=64"`
	BundleID    string                  `json:"bundleId" validate:"max=64"`
	Description string                  `json:"description" validate:"max=256"`
	Components  []BlendComponentRequest `json:"components" validate:"omitempty,dive"`
	Quantity    float64                 `json:"quantity" validate:"required,gt=0"`
	Unit        string                  `json:"unit" validate:"max=32"`
	UnitPrice   float64                 `json:"unitPrice" validate:"gte=0"`
}

// BlendComponentRequest mirrors BlendComponent.
type BlendComponentRequest struct {
	ProductID string  `json:"productId" validate:"required,max=64"`
	Quantity  float64 `json:"quantity" validate:"required,gt=0"`
	Unit      string  `json:"unit" validate:"max=32"`
}

// UpdateTransactionRequest carries optional field updates.
type UpdateTransactionRequest struct {
	PaymentStatus *string `json:"paymentStatus" validate:"omitempty,oneof=unpaid paid"`
	PaymentMethod *string `json:"paymentMethod" validate:"omitempty,max=32"`
	Status        *string `json:"status" validate:"omitempty,oneof=pending completed cancelled draft"`
	Actor         string  `json:"actor" validate:"max=64"`
}

func (r *CreateTransactionRequest) toInput() CreateInput {
	input := CreateInput{
		Draft:          r.Draft,
		PaymentStatus:  PaymentStatus(r.PaymentStatus),
		PaymentMethod:  r.PaymentMethod,
		CreatedBy:      r.CreatedBy,
		IdempotencyKey: r.IdempotencyKey,
	}
	for _, item := range r.Items {
		components := make([]BlendComponent, 0, len(item.Components))
		for _, c := range item.Components {
			components = append(components, BlendComponent{ProductID: c.ProductID, Quantity: c.Quantity, Unit: c.Unit})
		}
		input.Items = append(input.Items, Item{
			Kind:        ItemKind(item.Kind),
			Name:        item.Name,
			ProductID:   item.ProductID,
			BundleID:    item.BundleID,
			Description: item.Description,
			Components:  components,
			Quantity:    item.Quantity,
			Unit:        item.Unit,
			UnitPrice:   item.UnitPrice,
		})
	}
	return input
}
