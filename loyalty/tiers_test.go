package loyalty_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/washywashy/wash-engine/core"
	"github.com/washywashy/wash-engine/loyalty"
)

func TestTierFor_Thresholds(t *testing.T) {
	cases := []struct {
		lifetime int64
		want     core.Tier
	}{
		{0, core.TierBronze},
		{499, core.TierBronze},
		{500, core.TierSilver},
		{1499, core.TierSilver},
		{1500, core.TierGold},
		{2999, core.TierGold},
		{3000, core.TierPlatinum},
		{100000, core.TierPlatinum},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, loyalty.TierFor(c.lifetime), "lifetime=%d", c.lifetime)
	}
}

func TestCalculatePoints_FloorsAmountThenProduct(t *testing.T) {
	// GIVEN: A $50.00 wash at gold (1.5x)
	// THEN: floor(floor(50) * 1.5) = 75
	got := loyalty.CalculatePoints(decimal.NewFromFloat(50), core.TierGold)
	assert.Equal(t, int64(75), got)

	// Fractional amounts floor before the multiplier applies.
	got = loyalty.CalculatePoints(decimal.NewFromFloat(49.99), core.TierSilver)
	assert.Equal(t, int64(61), got, "floor(49) * 1.25 = 61.25 -> 61")

	got = loyalty.CalculatePoints(decimal.NewFromFloat(30), core.TierBronze)
	assert.Equal(t, int64(30), got)

	got = loyalty.CalculatePoints(decimal.NewFromFloat(30), core.TierPlatinum)
	assert.Equal(t, int64(60), got)

	got = loyalty.CalculatePoints(decimal.NewFromFloat(-10), core.TierGold)
	assert.Zero(t, got, "negative amounts earn nothing")
}

func TestProgressFor_MidTier(t *testing.T) {
	// GIVEN: A silver account halfway to gold
	p := loyalty.ProgressFor(core.LoyaltyAccount{
		CustomerID:     "c-1",
		Tier:           core.TierSilver,
		LifetimePoints: 1000,
	})

	assert.Equal(t, core.TierSilver, p.CurrentTier)
	if assert.NotNil(t, p.NextTier) {
		assert.Equal(t, core.TierGold, *p.NextTier)
	}
	assert.Equal(t, int64(500), p.PointsToNextTier)
	assert.InDelta(t, 50.0, p.ProgressPercentage, 0.01)
}

func TestProgressFor_Platinum(t *testing.T) {
	p := loyalty.ProgressFor(core.LoyaltyAccount{
		CustomerID:     "c-1",
		Tier:           core.TierPlatinum,
		LifetimePoints: 9000,
	})

	assert.Nil(t, p.NextTier)
	assert.Zero(t, p.PointsToNextTier)
	assert.Equal(t, 100.0, p.ProgressPercentage)
}
