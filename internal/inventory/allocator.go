package inventory

import "sort"

// Selection is one line of an allocation plan. FromFull selections consume
// an unopened container; ContainerID is empty until the ledger opens it.
type Selection struct {
	ContainerID   string
	QuantityTaken float64
	FromFull      bool
}

// Allocation is a pure plan; applying it is the ledger's job. A positive
// Shortfall means demand could not be met and nothing may be applied.
type Allocation struct {
	Selections []Selection
	Shortfall  float64
}

// Allocate plans which containers satisfy the required quantity, expressed
// in the product's native unit. Partial containers are consumed before full
// ones; among partials, known expiry dates sort ascending ahead of unknown
// ones, with container id as the tie-break. The plan is deterministic for
// identical inputs.
func Allocate(p *Product, required float64) Allocation {
	if required <= 0 {
		return Allocation{}
	}

	if p.ContainerCapacity <= 0 {
		if p.CurrentStock >= required {
			return Allocation{Selections: []Selection{{QuantityTaken: required}}}
		}
		return Allocation{Shortfall: required - p.CurrentStock}
	}

	candidates := make([]Container, 0, len(p.Containers.Partial))
	for _, c := range p.Containers.Partial {
		if c.Remaining <= 0 || c.Status == StatusOversold {
			continue
		}
		candidates = append(candidates, c)
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		switch {
		case a.ExpiryDate != nil && b.ExpiryDate == nil:
			return true
		case a.ExpiryDate == nil && b.ExpiryDate != nil:
			return false
		case a.ExpiryDate != nil && b.ExpiryDate != nil && !a.ExpiryDate.Equal(*b.ExpiryDate):
			return a.ExpiryDate.Before(*b.ExpiryDate)
		default:
			return a.ID < b.ID
		}
	})

	var selections []Selection
	remaining := required
	for _, c := range candidates {
		if remaining <= 0 {
			break
		}
		take := min(c.Remaining, remaining)
		selections = append(selections, Selection{ContainerID: c.ID, QuantityTaken: take})
		remaining -= take
	}
	for full := p.Containers.Full; full > 0 && remaining > 0; full-- {
		take := min(p.ContainerCapacity, remaining)
		selections = append(selections, Selection{QuantityTaken: take, FromFull: true})
		remaining -= take
	}

	if remaining > 1e-9 {
		return Allocation{Shortfall: remaining}
	}
	return Allocation{Selections: selections}
}
