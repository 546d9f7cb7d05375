package valuation

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// FormatUSD renders an amount as a dollar string, e.g. "$1,234.56".
// Amounts are rounded half away from zero to cents.
func FormatUSD(amount decimal.Decimal) string {
	cur := money.GetCurrency(money.USD)
	cents := amount.Round(int32(cur.Fraction)).Shift(int32(cur.Fraction))
	return money.New(cents.IntPart(), money.USD).Display()
}
