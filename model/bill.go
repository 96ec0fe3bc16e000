package model

import (
	"encoding/json"
	"time"
)

const (
	SplitEqual      = "EQUAL"
	SplitPercentage = "PERCENTAGE"
	SplitCustom     = "CUSTOM"

	// TotalBasisPoints is 100.00% expressed in basis points.
	TotalBasisPoints = 10000
)

// Bill is a monetary obligation split among group members. Amounts are in
// minor units of the payment token and are frozen at creation time.
type Bill struct {
	ID          int64       `json:"-"`
	BillID      string      `json:"bill_id"`
	GroupID     string      `json:"group_id"`
	Creator     string      `json:"creator"`
	Description string      `json:"description"`
	Total       int64       `json:"total"`
	Token       string      `json:"token"`
	SplitType   string      `json:"split_type"`
	Splits      []BillSplit `json:"splits"`
	CrossChain  bool        `json:"cross_chain"`
	Chains      []string    `json:"chains,omitempty"`
	Settled     bool        `json:"settled"`
	SettledAt   *time.Time  `json:"settled_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	DueDate     time.Time   `json:"due_date"`
}

// BillSplit is one member's frozen share of a bill.
type BillSplit struct {
	Member string `json:"member"`
	Amount int64  `json:"amount"`
}

func (bill *Bill) ToJSON() ([]byte, error) {
	return json.Marshal(bill)
}

// SplitTotal sums the frozen per-member amounts. Always equals Total for a
// bill produced by ComputeSplits.
func (bill *Bill) SplitTotal() int64 {
	var sum int64
	for _, s := range bill.Splits {
		sum += s.Amount
	}
	return sum
}

// ComputeEqualSplit divides total evenly across memberCount members using
// integer division. A zero memberCount returns the whole total as remainder
// rather than dividing by zero.
func ComputeEqualSplit(total int64, memberCount int) (perMember, remainder int64) {
	if memberCount == 0 {
		return 0, total
	}
	n := int64(memberCount)
	return total / n, total % n
}

// ValidatePercentageSplit reports whether the basis-point values sum to
// exactly 100.00%.
func ValidatePercentageSplit(basisPoints []int64) bool {
	var sum int64
	for _, bps := range basisPoints {
		sum += bps
	}
	return sum == TotalBasisPoints
}

// ComputeSplits produces the frozen per-member amounts for a bill. The
// members slice is the group snapshot in insertion order; values is the
// per-member basis points (percentage splits) or explicit amounts (custom
// splits) and is ignored for equal splits. Any integer-division remainder is
// assigned to the first member so the amounts always sum to total exactly.
func ComputeSplits(total int64, splitType string, members []string, values []int64) ([]BillSplit, error) {
	switch splitType {
	case SplitEqual:
		perMember, remainder := ComputeEqualSplit(total, len(members))
		splits := make([]BillSplit, len(members))
		for i, m := range members {
			splits[i] = BillSplit{Member: m, Amount: perMember}
		}
		if len(splits) > 0 {
			splits[0].Amount += remainder
		}
		return splits, nil
	case SplitPercentage:
		if len(values) != len(members) {
			return nil, ErrMismatchedSplitValues
		}
		if !ValidatePercentageSplit(values) {
			return nil, ErrInvalidPercentages
		}
		splits := make([]BillSplit, len(members))
		var assigned int64
		for i, m := range members {
			amount := total * values[i] / TotalBasisPoints
			splits[i] = BillSplit{Member: m, Amount: amount}
			assigned += amount
		}
		if len(splits) > 0 {
			splits[0].Amount += total - assigned
		}
		return splits, nil
	case SplitCustom:
		if len(values) != len(members) {
			return nil, ErrMismatchedSplitValues
		}
		var sum int64
		for _, v := range values {
			sum += v
		}
		if sum != total {
			return nil, ErrCustomSplitMismatch
		}
		splits := make([]BillSplit, len(members))
		for i, m := range members {
			splits[i] = BillSplit{Member: m, Amount: values[i]}
		}
		return splits, nil
	default:
		return nil, ErrUnknownSplitType
	}
}
