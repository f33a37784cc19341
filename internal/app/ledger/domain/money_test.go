package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kychen0817/go-bank-ledger/internal/app/ledger/domain"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"500.00", 50000},
		{"500", 50000},
		{"0.01", 1},
		{"0.1", 10},
		{".5", 50},
		{"1000.5", 100050},
		{"-3.25", -325},
		{"+7", 700},
		{" 12.00 ", 1200},
		{"0", 0},
		{"92233720368547758.07", 9223372036854775807},
	}
	for _, c := range cases {
		got, err := domain.ParseAmount(c.in)
		require.NoError(t, err, "input %q", c.in)
		assert.Equal(t, c.want, got, "input %q", c.in)
	}
}

func TestParseAmountRejectsMalformedInput(t *testing.T) {
	rejected := []string{
		"", "abc", "1.234", "1.", "1.2.3", "1,5", "1e3",
		"-", "+", "-.",
		"92233720368547758.08",
		"184467440737095517.00", // wraps int64 if multiplied blindly
		"99999999999999999999999999",
	}
	for _, in := range rejected {
		_, err := domain.ParseAmount(in)
		assert.ErrorIs(t, err, domain.ErrInvalidAmount, "input %q", in)
	}
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "500.00", domain.FormatAmount(50000))
	assert.Equal(t, "0.01", domain.FormatAmount(1))
	assert.Equal(t, "0.00", domain.FormatAmount(0))
	assert.Equal(t, "-3.25", domain.FormatAmount(-325))
	assert.Equal(t, "1000.50", domain.FormatAmount(100050))
}

func TestFormatAmountRoundTrips(t *testing.T) {
	for _, v := range []int64{0, 1, 99, 100, 12345, -12345} {
		got, err := domain.ParseAmount(domain.FormatAmount(v))
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}
