package q15

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestAddSatClampsAtBounds(t *testing.T) {
	assert.Equal(t, MaxQ15, AddSat(MaxQ15, 1))
	assert.Equal(t, MinQ15, SubSat(MinQ15, 1))
}

func TestMulUnity(t *testing.T) {
	one := Q15(1<<15 - 1) // closest representable to 1.0
	assert.InDelta(t, 1.0, ToFloat(Mul(one, one)), 0.001)
}

func TestSqrtQ15KnownValues(t *testing.T) {
	quarter := FromFloat(0.25)
	half, ok := SqrtQ15(quarter)
	assert.True(t, ok)
	assert.InDelta(t, 0.5, ToFloat(half), 0.01)

	r, ok := SqrtQ15(-1)
	assert.False(t, ok)
	assert.Zero(t, r)
}

// Property 1 (Q15 round-trip): for all v in Q15 and real_k > 0,
// real_to_q15(q15_to_real(v)) == v up to 1 LSB.
func TestPropertyQ15RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		v := Q15(rapid.Int16Range(int16(MinQ15)+1, int16(MaxQ15)).Draw(t, "v"))
		realK := IQ15(rapid.Int32Range(1<<10, 1<<20).Draw(t, "realK"))

		real := ToReal(v, realK)
		back := FromReal(real, realK)

		diff := int32(v) - int32(back)
		if diff < 0 {
			diff = -diff
		}
		assert.LessOrEqual(t, diff, int32(1), "round-trip should be within 1 LSB")
	})
}

func TestMACAccumulatesBeforeNarrowing(t *testing.T) {
	var m MAC
	m.Add(FromFloat(0.5), FromFloat(0.5))
	m.Add(FromFloat(-0.25), FromFloat(0.5))
	assert.InDelta(t, 0.125, ToFloat(m.Result()), 0.01)
}
