package codes

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Amount is a money value in hundredths of the currency unit.
type Amount int64

// ParseAmount reads a decimal amount with at most two fractional digits,
// such as "34113", "-12.5" or "0.01".
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	neg := strings.HasPrefix(s, "-")
	digits := strings.TrimPrefix(strings.TrimPrefix(s, "-"), "+")

	whole, frac, _ := strings.Cut(digits, ".")
	if whole == "" || len(frac) > 2 || !isDigits(whole) || !isDigits(frac) {
		return 0, fmt.Errorf("%w: amount %q", ErrInvalidReceipt, s)
	}
	frac += strings.Repeat("0", 2-len(frac))

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || units > (math.MaxInt64-99)/100 {
		return 0, fmt.Errorf("%w: amount %q", ErrInvalidReceipt, s)
	}
	cents, _ := strconv.ParseInt(frac, 10, 64)
	v := units*100 + cents
	if neg {
		v = -v
	}
	return Amount(v), nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// String formats the amount with exactly two decimals.
func (a Amount) String() string {
	v := int64(a)
	sign := ""
	if v < 0 {
		sign = "-"
	}
	u := uint64(v)
	if v < 0 {
		u = uint64(-(v + 1)) + 1
	}
	return fmt.Sprintf("%s%d.%02d", sign, u/100, u%100)
}

// Set implements pflag.Value.
func (a *Amount) Set(s string) error {
	v, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Type implements pflag.Value.
func (a *Amount) Type() string { return "amount" }
