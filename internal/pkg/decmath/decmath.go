// Package decmath wraps shopspring/decimal for the price comparisons and
// percent arithmetic shared by risk sizing and the order ledger. Inputs and
// outputs stay float64; only the intermediate math is exact.
package decmath

import (
	"math"

	"github.com/shopspring/decimal"
)

var (
	One     = decimal.NewFromInt(1)
	Hundred = decimal.NewFromInt(100)
	eps     = decimal.NewFromFloat(1e-8)
)

func FromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(val)
}

func ToFloat(val decimal.Decimal) float64 {
	f, _ := val.Float64()
	return f
}

// Round2 rounds to cents, used for prices and notionals shown to users.
func Round2(val float64) float64 {
	return ToFloat(FromFloat(val).Round(2))
}

func Compare(a, b float64) int {
	return FromFloat(a).Cmp(FromFloat(b))
}

func LTE(a, b float64) bool { return Compare(a, b) <= 0 }
func GTE(a, b float64) bool { return Compare(a, b) >= 0 }
func LT(a, b float64) bool  { return Compare(a, b) < 0 }
func GT(a, b float64) bool  { return Compare(a, b) > 0 }

// Pct converts percent units (10 means 10%) into a fraction.
func Pct(pct float64) decimal.Decimal {
	return FromFloat(pct).Div(Hundred)
}

// Below returns base*(1-pct/100).
func Below(base, pct float64) float64 {
	if base <= 0 {
		return 0
	}
	return ToFloat(FromFloat(base).Mul(One.Sub(Pct(pct))))
}

// Above returns base*(1+pct/100).
func Above(base, pct float64) float64 {
	if base <= 0 {
		return 0
	}
	return ToFloat(FromFloat(base).Mul(One.Add(Pct(pct))))
}

// TargetHit reports price >= target for a long position.
func TargetHit(price, target float64) bool {
	if price <= 0 || target <= 0 {
		return false
	}
	return GTE(price, target)
}

// StopHit reports price <= stop for a long position.
func StopHit(price, stop float64) bool {
	if price <= 0 || stop <= 0 {
		return false
	}
	return LTE(price, stop)
}

// ShouldRaiseStop is true when candidate is meaningfully above current.
func ShouldRaiseStop(candidate, current float64) bool {
	if candidate <= 0 {
		return false
	}
	if current <= 0 {
		return true
	}
	return FromFloat(candidate).Cmp(FromFloat(current).Add(eps)) > 0
}

// FloorQuantity returns floor(amount/price) as whole shares.
func FloorQuantity(amount, price float64) int64 {
	if amount <= 0 || price <= 0 {
		return 0
	}
	return FromFloat(amount).Div(FromFloat(price)).Floor().IntPart()
}
