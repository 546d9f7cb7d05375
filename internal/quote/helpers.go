package quote

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ExchangeRate returns amountOut / amountIn with six decimals, or "0" when
// amountIn is zero.
func ExchangeRate(amountIn, amountOut decimal.Decimal) string {
	if amountIn.IsZero() {
		return "0"
	}
	return amountOut.Div(amountIn).StringFixed(amountPlaces)
}

// CalculateMinAmountOut applies slippagePercent to amountOut.
func CalculateMinAmountOut(amountOut string, slippagePercent float64) (string, error) {
	out, err := decimal.NewFromString(amountOut)
	if err != nil {
		return "", fmt.Errorf("invalid amount %q: %w", amountOut, err)
	}
	if slippagePercent < 0 || slippagePercent >= 100 {
		return "", fmt.Errorf("slippage %v%% out of range", slippagePercent)
	}
	keep := decimal.NewFromInt(1).Sub(percentToFraction(slippagePercent))
	return out.Mul(keep).StringFixed(amountPlaces), nil
}

// CalculateDeadline returns the unix time minutes after now.
func CalculateDeadline(now time.Time, minutes int) int64 {
	return now.Add(time.Duration(minutes) * time.Minute).Unix()
}

// BalanceCheck reports whether a balance covers a required amount.
type BalanceCheck struct {
	HasBalance      bool   `json:"has_balance"`
	RequiredBalance string `json:"required_balance"`
}

// CheckBalance compares required against current. An empty or unparsable
// current balance never covers the amount.
func CheckBalance(required, current string) BalanceCheck {
	check := BalanceCheck{RequiredBalance: required}
	req, err := decimal.NewFromString(required)
	if err != nil {
		return check
	}
	cur, err := decimal.NewFromString(current)
	if err != nil {
		return check
	}
	check.HasBalance = cur.GreaterThanOrEqual(req)
	return check
}
