package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestPercent(t *testing.T) {
	assert.True(t, d("54").Equal(Percent(d("300"), d("18"))))
	// 0.125 -> 0.13
	assert.True(t, d("0.13").Equal(Percent(d("1.25"), d("10"))))
}

func TestToMinorUnits(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"404.00", 40400},
		{"0.005", 1},
		{"0.004", 0},
		{"19.99", 1999},
		{"12.345", 1235},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ToMinorUnits(d(tc.in))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := ToMinorUnits(d("-1"))
	assert.Error(t, err)
}

func TestFromMinorUnits(t *testing.T) {
	assert.True(t, d("404").Equal(FromMinorUnits(40400)))
	assert.Equal(t, "0.01", FromMinorUnits(1).StringFixed(2))
}

func TestClamp(t *testing.T) {
	assert.True(t, d("20").Equal(Clamp(d("5"), d("20"), d("100"))))
	assert.True(t, d("100").Equal(Clamp(d("250"), d("20"), d("100"))))
	assert.True(t, d("42").Equal(Clamp(d("42"), d("20"), d("100"))))
	assert.True(t, d("250").Equal(Clamp(d("250"), d("20"), decimal.Zero)))
}
