package refunds

// CreateRefundRequest is the HTTP shape of a refund submission.
type CreateRefundRequest struct {
	TransactionID string              `json:"transactionId" validate:"required,max=64"`
	Items         []RefundItemRequest `json:"items" validate:"required,min=1,dive"`
	Reason        string              `json:"reason" validate:"max=256"`
	Method        string              `json:"method" validate:"max=32"`
	CreatedBy     string              `json:"createdBy" validate:"max=64"`
}

// RefundItemRequest is one requested refund line.
type RefundItemRequest struct {
	ProductID      string  `json:"productId" validate:"required,max=64"`
	RefundQuantity float64 `json:"refundQuantity" validate:"required,gt=0"`
	Reason         string  `json:"reason" validate:"max=256"`
}

// ActionRequest carries the actor for a lifecycle transition.
type ActionRequest struct {
	Actor         string `json:"actor" validate:"max=64"`
	Reason        string `json:"reason" validate:"max=256"`
	SettlementRef string `json:"settlementRef" validate:"max=128"`
}

func (r *CreateRefundRequest) toInput() CreateInput {
	input := CreateInput{
		TransactionID: r.TransactionID,
		Reason:        r.Reason,
		Method:        r.Method,
		CreatedBy:     r.CreatedBy,
	}
	for _, item := range r.Items {
		input.Items = append(input.Items, CreateItemInput{
			ProductID:      item.ProductID,
			RefundQuantity: item.RefundQuantity,
			Reason:         item.Reason,
		})
	}
	return input
}
