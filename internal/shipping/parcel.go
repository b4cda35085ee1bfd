package shipping

import (
	"math"

	"github.com/frahmantamala/shop-orders/internal"
)

// MaxParcelWeightG is the carrier's per-parcel ceiling in grams.
const MaxParcelWeightG int64 = 28000

// BuildParcels splits a shipment weight into carrier-legal parcels using the default ceiling.
func BuildParcels(totalWeightG float64) ([]Parcel, error) {
	return buildParcels(totalWeightG, MaxParcelWeightG)
}

// buildParcels rounds to the gram, then ships one parcel up to the ceiling and two balanced
// halves above it, the first carrying the odd gram.
func buildParcels(totalWeightG float64, ceiling int64) ([]Parcel, error) {
	if math.IsNaN(totalWeightG) || math.IsInf(totalWeightG, 0) || totalWeightG <= 0 {
		return nil, internal.ErrInvalidWeight
	}
	if ceiling <= 0 {
		ceiling = MaxParcelWeightG
	}

	total := int64(math.Round(totalWeightG))
	if total <= 0 {
		return nil, internal.ErrInvalidWeight
	}

	if total <= ceiling {
		return []Parcel{{WeightG: total}}, nil
	}

	first := (total + 1) / 2
	return []Parcel{{WeightG: first}, {WeightG: total - first}}, nil
}
