package domain

import "github.com/shopspring/decimal"

// Kopecks converts a decimal ruble amount into integer minor units for the
// gateway payloads. Storage stays decimal; kopecks exist only on the wire.
func Kopecks(d decimal.Decimal) int64 {
	return d.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// FromKopecks converts integer minor units back into a decimal amount.
func FromKopecks(k int64) decimal.Decimal {
	return decimal.NewFromInt(k).Div(decimal.NewFromInt(100))
}
