package money

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQuantizeBankersRounding(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"491.50685", "491.5069"}, // rounds up, unambiguous
		{"2.00005", "2.0000"},     // halfway, rounds to even (0)
		{"2.00015", "2.0002"},     // halfway, rounds to even (2)
	}
	for _, tc := range cases {
		v, err := NewFromString(tc.in)
		require.NoError(t, err)
		got := Quantize(v, 4)
		require.Equal(t, tc.want, got.StringFixed(4), "quantize(%s)", tc.in)
	}
}

func TestGuardMagnitudeOverflow(t *testing.T) {
	huge, err := NewFromString("1000000000000000000000")
	require.NoError(t, err)
	require.ErrorIs(t, GuardMagnitude(huge), ErrOverflow)

	small, err := NewFromString("100000")
	require.NoError(t, err)
	require.NoError(t, GuardMagnitude(small))
}

func TestMax(t *testing.T) {
	a, _ := NewFromString("0.0025")
	b, _ := NewFromString("0.18")
	require.True(t, Max(a, b).Equal(b))
	require.True(t, Max(b, a).Equal(b))
}
