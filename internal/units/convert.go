// Package units converts quantities between named measurement units,
// including container counts to content amounts.
package units

import (
	"fmt"
	"strings"
)

// Conversion is the result of a unit conversion.
type Conversion struct {
	Value          float64 `json:"value"`
	Unit           string  `json:"unit"`
	OriginalValue  float64 `json:"originalValue"`
	OriginalUnit   string  `json:"originalUnit"`
	ConversionUsed string  `json:"conversionUsed,omitempty"`
}

// ContainerInfo describes the container a product is packaged in, used when
// one side of a conversion is a generic container term.
type ContainerInfo struct {
	Capacity float64
	Unit     string
}

// Options carries optional conversion inputs.
type Options struct {
	// Custom maps "from->to" pairs to multiplication factors, checked before
	// the built-in table.
	Custom map[string]float64
	// Container enables container-count to content-amount conversion.
	Container *ContainerInfo
}

// UnconvertibleUnitsError indicates no conversion path exists between units.
type UnconvertibleUnitsError struct {
	From string
	To   string
}

func (e *UnconvertibleUnitsError) Error() string {
	return fmt.Sprintf("units: no conversion from %q to %q", e.From, e.To)
}

// Convert converts value from one unit to another. It is deterministic and
// side-effect free; a round trip through two units returns the original
// value within floating-point tolerance.
func Convert(value float64, from, to string, opts *Options) (Conversion, error) {
	fromN := Normalize(from)
	toN := Normalize(to)

	if fromN == toN {
		return Conversion{Value: value, Unit: to, OriginalValue: value, OriginalUnit: from}, nil
	}

	if opts != nil && opts.Container != nil && opts.Container.Capacity > 0 {
		if IsContainerTerm(fromN) {
			content := value * opts.Container.Capacity
			contentUnit := Normalize(opts.Container.Unit)
			if contentUnit == toN {
				return result(value, from, content, to, "container-capacity"), nil
			}
			inner, err := Convert(content, contentUnit, toN, opts)
			if err != nil {
				return Conversion{}, &UnconvertibleUnitsError{From: from, To: to}
			}
			return result(value, from, inner.Value, to, "container-capacity+"+inner.ConversionUsed), nil
		}
		if IsContainerTerm(toN) {
			contentUnit := Normalize(opts.Container.Unit)
			content := value
			used := "container-capacity"
			if fromN != contentUnit {
				inner, err := Convert(value, fromN, contentUnit, opts)
				if err != nil {
					return Conversion{}, &UnconvertibleUnitsError{From: from, To: to}
				}
				content = inner.Value
				used = inner.ConversionUsed + "+container-capacity"
			}
			return result(value, from, content/opts.Container.Capacity, to, used), nil
		}
	}

	if opts != nil && len(opts.Custom) > 0 {
		if factor, ok := opts.Custom[fromN+"->"+toN]; ok {
			return result(value, from, value*factor, to, "custom"), nil
		}
		if factor, ok := opts.Custom[toN+"->"+fromN]; ok && factor != 0 {
			return result(value, from, value/factor, to, "custom-inverse"), nil
		}
	}

	fromFactor, fromDim, okFrom := lookupFactor(fromN)
	toFactor, toDim, okTo := lookupFactor(toN)
	if !okFrom || !okTo || fromDim != toDim {
		return Conversion{}, &UnconvertibleUnitsError{From: from, To: to}
	}
	return result(value, from, value*fromFactor/toFactor, to, string(fromDim)+"-table"), nil
}

func result(origValue float64, origUnit string, value float64, unit, used string) Conversion {
	return Conversion{
		Value:          value,
		Unit:           unit,
		OriginalValue:  origValue,
		OriginalUnit:   origUnit,
		ConversionUsed: used,
	}
}

// Normalize lowercases, trims and singularizes a unit name.
func Normalize(unit string) string {
	u := strings.ToLower(strings.TrimSpace(unit))
	if alias, ok := aliases[u]; ok {
		return alias
	}
	if strings.HasSuffix(u, "s") {
		if alias, ok := aliases[strings.TrimSuffix(u, "s")]; ok {
			return alias
		}
		if _, _, ok := lookupFactor(strings.TrimSuffix(u, "s")); ok {
			return strings.TrimSuffix(u, "s")
		}
		if containerTerms[strings.TrimSuffix(u, "s")] {
			return strings.TrimSuffix(u, "s")
		}
	}
	return u
}

// IsContainerTerm reports whether the normalized unit names a generic
// container rather than a measurable amount.
func IsContainerTerm(unit string) bool {
	return containerTerms[Normalize(unit)]
}
