package enums

import "fmt"

// AdjustmentReason maps to the adjustment_reason_enum enum in Postgres.
type AdjustmentReason string

const (
	AdjustmentReasonRestock AdjustmentReason = "restock"
	AdjustmentReasonManual  AdjustmentReason = "manual"
	AdjustmentReasonReserve AdjustmentReason = "reserve"
	AdjustmentReasonRelease AdjustmentReason = "release"
	AdjustmentReasonSale    AdjustmentReason = "sale"
)

var validAdjustmentReasons = []AdjustmentReason{
	AdjustmentReasonRestock,
	AdjustmentReasonManual,
	AdjustmentReasonReserve,
	AdjustmentReasonRelease,
	AdjustmentReasonSale,
}

// IsValid reports whether the value matches the canonical adjustment reason enum.
func (r AdjustmentReason) IsValid() bool {
	for _, candidate := range validAdjustmentReasons {
		if candidate == r {
			return true
		}
	}
	return false
}

func (r AdjustmentReason) String() string {
	return string(r)
}

// ParseAdjustmentReason converts raw input into AdjustmentReason.
func ParseAdjustmentReason(value string) (AdjustmentReason, error) {
	for _, candidate := range validAdjustmentReasons {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid adjustment reason %q", value)
}
