package schedule

// Tier names one spaced-repetition touchpoint. Tiers are delivered in
// fixed order; each has a base interval measured from schedule activation.
type Tier string

const (
	TierDay1  Tier = "day1"
	TierDay3  Tier = "day3"
	TierDay7  Tier = "day7"
	TierDay30 Tier = "day30"
)

// Tiers lists all tiers in delivery order.
var Tiers = []Tier{TierDay1, TierDay3, TierDay7, TierDay30}

// baseDays maps each tier to its default interval in days.
var baseDays = map[Tier]float64{
	TierDay1:  1,
	TierDay3:  3,
	TierDay7:  7,
	TierDay30: 30,
}

// Valid reports whether t names a known tier.
func (t Tier) Valid() bool {
	_, ok := baseDays[t]
	return ok
}

// NextTier returns the tier delivered after t, or "" for the last tier.
func NextTier(t Tier) Tier {
	for i, tier := range Tiers {
		if tier == t && i+1 < len(Tiers) {
			return Tiers[i+1]
		}
	}
	return ""
}
