package portfolio

import "math"

// Default sizing fractions.
const (
	DefaultRiskPct  = 0.10
	DefaultAllocPct = 0.50
)

// SizePosition returns the share count for an entry: the risk budget
// (balance·maxRiskPct over the per-share risk) capped by the allocation
// budget (balance·maxAllocPct over the entry price), with a floor of one
// share. It returns 0 only for invalid input; callers treat 0 as "do not
// trade".
func SizePosition(balance, entry, stop, maxRiskPct, maxAllocPct float64) int64 {
	if balance <= 0 || entry <= 0 || maxRiskPct <= 0 || maxAllocPct <= 0 {
		return 0
	}
	risk := math.Abs(entry - stop)
	if risk == 0 {
		return 0
	}

	riskShares := int64(math.Floor(balance * maxRiskPct / risk))
	allocShares := int64(math.Floor(balance * maxAllocPct / entry))

	shares := riskShares
	if allocShares < shares {
		shares = allocShares
	}
	if shares < 1 {
		shares = 1
	}
	return shares
}
