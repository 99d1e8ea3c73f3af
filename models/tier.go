package models

import "github.com/shopspring/decimal"

// Tier is a participation level gating price and feature access.
type Tier string

const (
	TierFree    Tier = "FREE"
	TierPremium Tier = "PREMIUM"
	TierVIP     Tier = "VIP"
)

// Currency every tier is priced in.
const Currency = "usd"

// tierPrices is the static price table. Session creation and commission
// computation both read it, so the two can never disagree.
var tierPrices = map[Tier]decimal.Decimal{
	TierFree:    decimal.Zero,
	TierPremium: decimal.NewFromInt(99),
	TierVIP:     decimal.NewFromInt(299),
}

func (t Tier) Valid() bool {
	_, ok := tierPrices[t]
	return ok
}

// IsPaid reports whether registering at this tier requires a checkout session.
func (t Tier) IsPaid() bool {
	return t.Valid() && t != TierFree
}

// Price returns the tier's fixed price in whole currency units.
func (t Tier) Price() decimal.Decimal {
	if p, ok := tierPrices[t]; ok {
		return p
	}
	return decimal.Zero
}

// PriceCents is the amount the payment provider expects (smallest unit).
func (t Tier) PriceCents() int64 {
	return t.Price().Shift(2).IntPart()
}
