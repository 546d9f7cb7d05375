// Package helpers provides common utility functions used across the codebase.
package helpers

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// FormatUnits converts an amount in smallest units into a decimal value.
// For example, FormatUnits(1500000, 6) returns 1.5 (1.5 USDC).
func FormatUnits(raw *big.Int, decimals uint8) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -int32(decimals))
}

// ParseUnits parses a decimal string to smallest units, truncating any
// digits beyond the token's precision.
// For example, ParseUnits("1", 18) returns 10^18 (1 ETH in wei).
func ParseUnits(s string, decimals uint8) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("empty amount string")
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid amount: %s", s)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("negative amount: %s", s)
	}
	return d.Shift(int32(decimals)).Truncate(0).BigInt(), nil
}

// ParsePositive parses s and reports whether it is a strictly positive,
// finite number.
func ParsePositive(s string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, false
	}
	if !d.IsPositive() {
		return decimal.Zero, false
	}
	return d, true
}

// FormatDisplay formats an amount for display with precision that depends
// on magnitude:
//
//	0            -> "0"
//	< 0.0001     -> exponent notation, 4 fraction digits
//	< 1          -> up to 6 fraction digits
//	< 1000       -> up to 4 fraction digits
//	otherwise    -> 2 fraction digits with thousands separators
func FormatDisplay(d decimal.Decimal) string {
	if d.IsZero() {
		return "0"
	}
	abs := d.Abs()
	switch {
	case abs.LessThan(decimal.New(1, -4)):
		return formatExponent(d)
	case abs.LessThan(decimal.NewFromInt(1)):
		return trimZeros(d.StringFixed(6))
	case abs.LessThan(decimal.NewFromInt(1000)):
		return trimZeros(d.StringFixed(4))
	default:
		return groupThousands(d.StringFixed(2))
	}
}

// FormatTokenAmount formats a token amount using the token's decimals to
// pick a precision: 6 digits for tokens with 6 or fewer decimals, 4 otherwise,
// and 8 for dust below 0.001.
func FormatTokenAmount(d decimal.Decimal, decimals uint8) string {
	precision := int32(4)
	if decimals <= 6 {
		precision = 6
	}
	if d.LessThan(decimal.New(1, -3)) {
		precision = 8
	}
	return trimZeros(d.StringFixed(precision))
}

func trimZeros(s string) string {
	if !strings.Contains(s, ".") {
		return s
	}
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	if s == "" || s == "-" {
		return "0"
	}
	return s
}

// formatExponent renders d as mantissa with 4 fraction digits and a
// minimal exponent, e.g. 5.0000e-5.
func formatExponent(d decimal.Decimal) string {
	s := strconv.FormatFloat(d.InexactFloat64(), 'e', 4, 64)
	mant, exp, ok := strings.Cut(s, "e")
	if !ok {
		return s
	}
	sign := exp[:1]
	digits := strings.TrimLeft(exp[1:], "0")
	if digits == "" {
		digits = "0"
	}
	return mant + "e" + sign + digits
}

func groupThousands(s string) string {
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	intPart, frac, hasFrac := strings.Cut(s, ".")

	var b strings.Builder
	for i, c := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}

	out := b.String()
	if hasFrac {
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}
