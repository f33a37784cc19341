package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Balances are stored as int64 minor units with a fixed precision of
// 2 decimal places. All arithmetic stays in integers.
const (
	CurrencyScale = 100
	maxDecimals   = 2
)

// ParseAmount converts a decimal string such as "500.00" into minor units.
// At most two fraction digits are accepted; there is no rounding.
func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalidAmount)
	}

	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	if s == "" {
		return 0, fmt.Errorf("%w: bare sign", ErrInvalidAmount)
	}

	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	units, err := strconv.ParseUint(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}

	var cents uint64
	if hasFrac {
		if frac == "" || len(frac) > maxDecimals {
			return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
		}
		cents, err = strconv.ParseUint(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
		}
		if len(frac) == 1 {
			cents *= 10
		}
	}

	if units > (math.MaxInt64-cents)/CurrencyScale {
		return 0, fmt.Errorf("%w: %q overflows", ErrInvalidAmount, s)
	}
	v := int64(units*CurrencyScale + cents)
	if neg {
		v = -v
	}
	return v, nil
}

// FormatAmount renders minor units back into a 2-decimal string.
func FormatAmount(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/CurrencyScale, v%CurrencyScale)
}
