/*
Package loyalty implements the tiered points ledger.

PURPOSE:
  Tracks spendable points and lifetime points per customer, applies
  earn/redeem/adjust transactions, and enforces monotonic tier upgrades.
  The transaction ledger is append-only and is the source of truth; the
  account row caches the running sums.

BUSINESS RULES (given intent, preserved verbatim, not re-derived):
  - 1 point per whole currency unit spent, multiplied by the tier
    multiplier, floored: floor(floor(amount) * multiplier).
  - Tiers unlock at lifetime-point thresholds and NEVER downgrade.
  - Redemption spends points but never touches lifetime points, so it
    never lowers tier eligibility.

KEY CONCEPTS IN THIS FILE (tiers.go):
  - Thresholds and multipliers per tier
  - CalculatePoints: the pure award formula
  - TierFor: the pure lifetime-points -> tier function
  - Progress: position within the current tier band

SEE ALSO:
  - ledger.go: Stateful operations (award, redeem, adjust)
*/
package loyalty

import (
	"github.com/shopspring/decimal"

	"github.com/washywashy/wash-engine/core"
)

// =============================================================================
// TIER CONFIGURATION
// =============================================================================

// Thresholds are lifetime-point floors per tier.
var thresholds = map[core.Tier]int64{
	core.TierBronze:   0,
	core.TierSilver:   500,
	core.TierGold:     1500,
	core.TierPlatinum: 3000,
}

// Multipliers scale the base 1-point-per-unit earn rate.
var multipliers = map[core.Tier]decimal.Decimal{
	core.TierBronze:   decimal.NewFromInt(1),
	core.TierSilver:   decimal.RequireFromString("1.25"),
	core.TierGold:     decimal.RequireFromString("1.5"),
	core.TierPlatinum: decimal.NewFromInt(2),
}

// ascending serve order for next-tier lookups
var tiers = []core.Tier{core.TierBronze, core.TierSilver, core.TierGold, core.TierPlatinum}

// Threshold returns the lifetime-point floor of a tier.
func Threshold(t core.Tier) int64 { return thresholds[t] }

// Multiplier returns the earn multiplier of a tier. Unknown tiers earn at
// the bronze rate.
func Multiplier(t core.Tier) decimal.Decimal {
	if m, ok := multipliers[t]; ok {
		return m
	}
	return multipliers[core.TierBronze]
}

// NextTier returns the tier above t, or false at platinum.
func NextTier(t core.Tier) (core.Tier, bool) {
	for i, tier := range tiers {
		if tier == t && i+1 < len(tiers) {
			return tiers[i+1], true
		}
	}
	return "", false
}

// TierFor returns the highest tier whose threshold lifetimePoints meets.
// Pure; the never-downgrade rule is applied by the caller.
func TierFor(lifetimePoints int64) core.Tier {
	result := core.TierBronze
	for _, t := range tiers {
		if lifetimePoints >= thresholds[t] {
			result = t
		}
	}
	return result
}

// CalculatePoints computes the award for a wash amount at a tier:
// floor(floor(amount) * multiplier). Pure, no side effects.
func CalculatePoints(amount decimal.Decimal, tier core.Tier) int64 {
	base := amount.Floor()
	if base.IsNegative() {
		return 0
	}
	return base.Mul(Multiplier(tier)).Floor().IntPart()
}

// =============================================================================
// TIER PROGRESS
// =============================================================================

// Progress describes where a customer sits within the current tier band.
type Progress struct {
	CurrentTier        core.Tier
	LifetimePoints     int64
	NextTier           *core.Tier // nil at platinum
	PointsToNextTier   int64      // 0 at platinum
	ProgressPercentage float64    // clamped to [0,100]; 100 at platinum
}

// ProgressFor computes tier progress for an account. Percentage is
// (lifetime - currentThreshold) / (nextThreshold - currentThreshold) * 100.
func ProgressFor(a core.LoyaltyAccount) Progress {
	next, ok := NextTier(a.Tier)
	if !ok {
		return Progress{
			CurrentTier:        a.Tier,
			LifetimePoints:     a.LifetimePoints,
			ProgressPercentage: 100,
		}
	}

	current := Threshold(a.Tier)
	target := Threshold(next)
	pct := float64(a.LifetimePoints-current) / float64(target-current) * 100
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	return Progress{
		CurrentTier:        a.Tier,
		LifetimePoints:     a.LifetimePoints,
		NextTier:           &next,
		PointsToNextTier:   target - a.LifetimePoints,
		ProgressPercentage: pct,
	}
}
