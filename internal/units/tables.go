package units

// dimension partitions units so conversions never cross volume/weight/count.
type dimension string

const (
	dimVolume dimension = "volume"
	dimWeight dimension = "weight"
	dimCount  dimension = "count"
)

// Factors are expressed relative to the dimension base: ml, g, unit.
var volumeFactors = map[string]float64{
	"ml":    1,
	"l":     1000,
	"dl":    100,
	"cl":    10,
	"drop":  0.05,
	"tsp":   5,
	"tbsp":  15,
	"fl oz": 29.5735,
}

var weightFactors = map[string]float64{
	"mg":  0.001,
	"g":   1,
	"kg":  1000,
	"mcg": 0.000001,
	"lb":  453.592,
	"oz":  28.3495,
}

var countFactors = map[string]float64{
	"unit":    1,
	"tablet":  1,
	"capsule": 1,
	"sachet":  1,
	"pair":    2,
	"dozen":   12,
}

var aliases = map[string]string{
	"milliliter":  "ml",
	"millilitre":  "ml",
	"cc":          "ml",
	"liter":       "l",
	"litre":       "l",
	"deciliter":   "dl",
	"centiliter":  "cl",
	"teaspoon":    "tsp",
	"tablespoon":  "tbsp",
	"fluid ounce": "fl oz",
	"floz":        "fl oz",
	"milligram":   "mg",
	"gram":        "g",
	"gramme":      "g",
	"kilogram":    "kg",
	"kilo":        "kg",
	"microgram":   "mcg",
	"ug":          "mcg",
	"µg":          "mcg",
	"pound":       "lb",
	"ounce":       "oz",
	"piece":       "unit",
	"pc":          "unit",
	"pcs":         "unit",
	"each":        "unit",
	"ea":          "unit",
	"cap":         "capsule",
	"tab":         "tablet",
	"pill":        "tablet",
}

// Generic container terms recognised by container-aware conversion.
var containerTerms = map[string]bool{
	"bottle":    true,
	"box":       true,
	"pack":      true,
	"container": true,
	"jar":       true,
	"tube":      true,
	"vial":      true,
	"tin":       true,
}

func lookupFactor(unit string) (float64, dimension, bool) {
	if f, ok := volumeFactors[unit]; ok {
		return f, dimVolume, true
	}
	if f, ok := weightFactors[unit]; ok {
		return f, dimWeight, true
	}
	if f, ok := countFactors[unit]; ok {
		return f, dimCount, true
	}
	return 0, "", false
}
