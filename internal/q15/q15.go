// Package q15 implements the Q15/IQ15 fixed-point arithmetic used throughout
// the measurement pipeline. Every hot-path computation (FIR, decimation,
// moving-window RMS/AVG) stays in this package's types; the arithmetic is
// integer-only, and floating point appears only in the FromFloat/ToFloat
// and FromFloatIQ/ToFloatIQ conversion helpers.
package q15

import "math/bits"

// FractBits is the number of fractional bits carried by both Q15 and IQ15.
const FractBits = 15

// Q15 is a signed fixed-point scalar in the range [-1, +1).
type Q15 int16

// IQ15 widens Q15 to 32 bits, carrying an integer part above the fraction.
type IQ15 int32

const (
	MaxQ15 = Q15(1<<15 - 1)
	MinQ15 = Q15(-1 << 15)

	MaxIQ15 = IQ15(1<<31 - 1)
	MinIQ15 = IQ15(-1 << 31)
)

// SatQ15 saturates a wider intermediate value into the Q15 range.
func SatQ15(x int32) Q15 {
	if x > int32(MaxQ15) {
		return MaxQ15
	}
	if x < int32(MinQ15) {
		return MinQ15
	}
	return Q15(x)
}

// SatIQ15 saturates a 64-bit intermediate value into the IQ15 range.
func SatIQ15(x int64) IQ15 {
	if x > int64(MaxIQ15) {
		return MaxIQ15
	}
	if x < int64(MinIQ15) {
		return MinIQ15
	}
	return IQ15(x)
}

// FromFloat converts a real value in [-1, +1) to Q15, saturating on overflow.
// Only used at configuration-load boundaries, never in the hot path.
func FromFloat(f float64) Q15 {
	return SatQ15(int32(f * float64(int32(1)<<FractBits)))
}

// ToFloat converts a Q15 value back to a real number.
func ToFloat(q Q15) float64 {
	return float64(q) / float64(int32(1)<<FractBits)
}

// FromFloatIQ converts a real value to IQ15, saturating on overflow.
func FromFloatIQ(f float64) IQ15 {
	return SatIQ15(int64(f * float64(int32(1)<<FractBits)))
}

// ToFloatIQ converts an IQ15 value back to a real number.
func ToFloatIQ(q IQ15) float64 {
	return float64(q) / float64(int32(1)<<FractBits)
}

// Abs returns the saturating absolute value of a Q15 scalar.
func Abs(a Q15) Q15 {
	if a == MinQ15 {
		return MaxQ15
	}
	if a < 0 {
		return -a
	}
	return a
}

// AbsIQ returns the saturating absolute value of an IQ15 scalar.
func AbsIQ(a IQ15) IQ15 {
	if a == MinIQ15 {
		return MaxIQ15
	}
	if a < 0 {
		return -a
	}
	return a
}

// AddSat adds two Q15 values with saturation.
func AddSat(a, b Q15) Q15 {
	return SatQ15(int32(a) + int32(b))
}

// SubSat subtracts two Q15 values with saturation.
func SubSat(a, b Q15) Q15 {
	return SatQ15(int32(a) - int32(b))
}

// AddSatIQ adds two IQ15 values with saturation.
func AddSatIQ(a, b IQ15) IQ15 {
	return SatIQ15(int64(a) + int64(b))
}

// SubSatIQ subtracts two IQ15 values with saturation.
func SubSatIQ(a, b IQ15) IQ15 {
	return SatIQ15(int64(a) - int64(b))
}

// Mul multiplies two Q15 values, saturating the Q15 result.
func Mul(a, b Q15) Q15 {
	return SatQ15(int32((int64(a) * int64(b)) >> FractBits))
}

// MulL multiplies two IQ15 values via a 64-bit intermediate, saturating.
// This is the precise form (iq15_mull in the source); used wherever the
// operands may carry a non-trivial integer part, e.g. real_k conversions.
func MulL(a, b IQ15) IQ15 {
	return SatIQ15((int64(a) * int64(b)) >> FractBits)
}

// DivL divides two IQ15 values via a 64-bit intermediate, saturating.
// Returns 0 for division by zero rather than panicking — reference source
// relies on the caller never passing a zero real_k, but the Go port degrades
// gracefully instead of trapping.
func DivL(a, b IQ15) IQ15 {
	if b == 0 {
		return 0
	}
	return SatIQ15((int64(a) << FractBits) / int64(b))
}

// Div divides two Q15 values, widening the result to IQ15 since the quotient
// may leave the [-1, +1) range.
func Div(a, b Q15) IQ15 {
	if b == 0 {
		return 0
	}
	return SatIQ15((int64(a) << FractBits) / int64(b))
}

// DivSat divides two Q15 values and narrows the result back to Q15,
// saturating if the quotient overflows.
func DivSat(a, b Q15) Q15 {
	return SatQ15(int32(Div(a, b)))
}

// IMul multiplies a Q15 value by a plain integer scalar, widening to IQ15.
func IMul(a Q15, k int32) IQ15 {
	return SatIQ15(int64(a) * int64(k))
}

// IMulIQ multiplies an IQ15 value by a plain integer scalar.
func IMulIQ(a IQ15, k int32) IQ15 {
	return SatIQ15(int64(a) * int64(k))
}

// IDiv divides a Q15 value by a plain integer scalar.
func IDiv(a Q15, k int32) Q15 {
	if k == 0 {
		return 0
	}
	return SatQ15(int32(int64(a) / int64(k)))
}

// IDivIQ divides an IQ15 value by a plain integer scalar.
func IDivIQ(a IQ15, k int32) IQ15 {
	if k == 0 {
		return 0
	}
	return SatIQ15(int64(a) / int64(k))
}

// Int returns the integer part of an IQ15 value.
func (q IQ15) Int() int32 {
	return int32(q) >> FractBits
}

// SatFromIQ narrows an IQ15 value to Q15, saturating if it carries a
// non-zero integer part beyond the Q15 range.
func SatFromIQ(v IQ15) Q15 {
	return SatQ15(int32(v))
}

// WidenQ15 widens a Q15 value to IQ15, preserving its numeric value exactly
// (a Q15 scalar always has a zero integer part in IQ15 terms).
func WidenQ15(v Q15) IQ15 {
	return IQ15(v)
}

// MAC accumulates a sum-of-products in 64-bit precision before narrowing,
// matching the FIR accumulation pattern: many Q15*Q15 partial
// products summed before a single final >>15 and saturate, rather than
// rounding every tap.
type MAC struct {
	Sum int64
}

// Add folds one more Q15*Q15 product into the accumulator.
func (m *MAC) Add(a, b Q15) {
	m.Sum += int64(a) * int64(b)
}

// AddIQ folds one more Q15 value into the accumulator unscaled (used by
// dsp.AverageReducer, where the "product" is just the sample itself).
func (m *MAC) AddIQ(v int64) {
	m.Sum += v
}

// Result narrows the accumulator to a saturated Q15 scalar.
func (m *MAC) Result() Q15 {
	return SatQ15(int32(m.Sum >> FractBits))
}

// Reset clears the accumulator for reuse.
func (m *MAC) Reset() {
	m.Sum = 0
}

// ToReal converts a normalized Q15 channel value to engineering units via
// the channel's real_k scale factor (ain_q15_to_real in the source).
func ToReal(value Q15, realK IQ15) IQ15 {
	return MulL(WidenQ15(value), realK)
}

// FromReal converts an engineering-unit value to a normalized Q15 channel
// value via the channel's real_k scale factor (ain_real_to_q15 in the
// source), saturating if the result leaves the Q15 range.
func FromReal(value IQ15, realK IQ15) Q15 {
	return SatFromIQ(DivL(value, realK))
}

// SqrtQ15 computes the saturating square root of a non-negative Q15 value,
// returning (0, false) for negative input — the moving-window RMS path
// treats a failed sqrt as zero rather than propagating an error, per the
// real-time failure semantics: a sqrt never blocks or raises.
func SqrtQ15(x Q15) (Q15, bool) {
	if x < 0 {
		return 0, false
	}
	// x represents x/2^15; we want r with (r*r)>>15 == x, i.e.
	// r == isqrt(x << 15).
	target := int64(x) << FractBits
	r := isqrt(target)
	if r > int64(MaxQ15) {
		r = int64(MaxQ15)
	}
	return Q15(r), true
}

// isqrt computes the integer square root of a non-negative 64-bit value
// using the classic digit-by-digit bit method — no floating point, no
// lookup table.
func isqrt(n int64) int64 {
	if n <= 0 {
		return 0
	}
	x := uint64(n)
	var res uint64
	// Largest power of 4 <= x.
	shift := (bits.Len64(x) - 1) &^ 1
	bit := uint64(1) << shift
	for bit != 0 {
		if x >= res+bit {
			x -= res + bit
			res = (res >> 1) + bit
		} else {
			res >>= 1
		}
		bit >>= 2
	}
	return int64(res)
}
