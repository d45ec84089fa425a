package service

import (
	"math"
	"math/bits"
)

// weightFractionBits is the binary scale of Weight. A Weight holds values
// up to 2^28 with a resolution of 2^-100.
const weightFractionBits = 100

// Weight is an unsigned 128-bit fixed-point accumulator. Integer addition
// is associative, so partial sums computed by parallel workers merge to the
// same value regardless of scheduling or map iteration order.
type Weight struct {
	hi, lo uint64
}

// WeightFromFloat converts a non-negative finite probability mass. Values
// below the resolution truncate to zero; NaN and negative values are
// treated as zero.
func WeightFromFloat(v float64) Weight {
	if !(v > 0) || math.IsInf(v, 0) {
		return Weight{}
	}
	frac, exp := math.Frexp(v)
	mant := uint64(frac * (1 << 53))
	shift := exp - 53 + weightFractionBits
	switch {
	case shift <= -64:
		return Weight{}
	case shift < 0:
		return Weight{lo: mant >> uint(-shift)}
	case shift == 0:
		return Weight{lo: mant}
	case shift < 64:
		return Weight{hi: mant >> uint(64-shift), lo: mant << uint(shift)}
	case shift+53 <= 128:
		return Weight{hi: mant << uint(shift-64)}
	default:
		return Weight{hi: math.MaxUint64, lo: math.MaxUint64}
	}
}

// Add returns w + o, saturating on overflow
func (w Weight) Add(o Weight) Weight {
	lo, carry := bits.Add64(w.lo, o.lo, 0)
	hi, overflow := bits.Add64(w.hi, o.hi, carry)
	if overflow != 0 {
		return Weight{hi: math.MaxUint64, lo: math.MaxUint64}
	}
	return Weight{hi: hi, lo: lo}
}

// AddFloat accumulates a float mass
func (w Weight) AddFloat(v float64) Weight {
	return w.Add(WeightFromFloat(v))
}

// IsZero reports whether nothing has been accumulated
func (w Weight) IsZero() bool {
	return w.hi == 0 && w.lo == 0
}

// Float64 converts back to a float
func (w Weight) Float64() float64 {
	return math.Ldexp(float64(w.hi), 64-weightFractionBits) + math.Ldexp(float64(w.lo), -weightFractionBits)
}

// Ratio returns w / total, or 0 when total is zero
func (w Weight) Ratio(total Weight) float64 {
	if total.IsZero() {
		return 0
	}
	return w.Float64() / total.Float64()
}
