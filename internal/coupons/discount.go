package coupons

import (
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/tableserve-backend/pkg/enums"
)

var hundred = decimal.NewFromInt(100)

// ComputeDiscount returns the discount for total in minor units. The result is
// never negative and never exceeds total.
func ComputeDiscount(discountType enums.DiscountType, value, total int64) int64 {
	if total <= 0 || value <= 0 {
		return 0
	}

	var discount int64
	switch discountType {
	case enums.DiscountTypeFixed:
		discount = value
	case enums.DiscountTypePercentage:
		// decimal.Round rounds half away from zero.
		discount = decimal.NewFromInt(total).
			Mul(decimal.NewFromInt(value)).
			Div(hundred).
			Round(0).
			IntPart()
	default:
		return 0
	}

	if discount > total {
		return total
	}
	return discount
}
