package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundHalfAwayFromZero(t *testing.T) {
	assert.Equal(t, "1.235", String(Round(MustParse("1.2345"))))
	assert.Equal(t, "-1.235", String(Round(MustParse("-1.2345"))))
	assert.Equal(t, "0.000", String(Round(MustParse("0.0004"))))
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse("12,5")
	require.Error(t, err)

	_, err = Parse("   ")
	require.Error(t, err)

	d, err := Parse(" 10.5 ")
	require.NoError(t, err)
	assert.Equal(t, "10.500", String(d))
}

func TestDecimalArithmeticIsExact(t *testing.T) {
	// 0.1 + 0.2 is the classic float trap.
	sum := Sum(MustParse("0.1"), MustParse("0.2"))
	assert.True(t, Equal(sum, MustParse("0.3")))

	line := Mul(FromInt(3), MustParse("33.333"))
	assert.Equal(t, "99.999", String(line))
}

func TestNonNegativeAndMin(t *testing.T) {
	assert.True(t, NonNegative(MustParse("-4")).IsZero())
	assert.Equal(t, "4.000", String(NonNegative(MustParse("4"))))
	assert.Equal(t, "1.000", String(Min(MustParse("1"), MustParse("2"))))
}
