package loyalty

// Tier is a named loyalty level.
type Tier string

const (
	TierBronze Tier = "bronze"
	TierSilver Tier = "silver"
	TierGold   Tier = "gold"
)

// Threshold is the minimum point balance for a tier.
type Threshold struct {
	Tier   Tier
	Points int64
}

// Thresholds are ordered by ascending bound. The first bound is zero.
var Thresholds = []Threshold{
	{Tier: TierBronze, Points: 0},
	{Tier: TierSilver, Points: 500},
	{Tier: TierGold, Points: 1000},
}

// Rank returns the highest tier whose bound is at or below points. Negative
// balances rank as the lowest tier.
func Rank(points int64) Tier {
	return Thresholds[index(points)].Tier
}

// PointsToNext returns how many points are missing for the next tier, or 0 at the top.
func PointsToNext(points int64) int64 {
	i := index(points)
	if i == len(Thresholds)-1 {
		return 0
	}
	if points < 0 {
		points = 0
	}
	return Thresholds[i+1].Points - points
}

// Standing summarises a balance for display.
type Standing struct {
	Points       int64   `json:"points"`
	Tier         Tier    `json:"tier"`
	Next         Tier    `json:"next_tier,omitempty"`
	PointsToNext int64   `json:"points_to_next"`
	Progress     float64 `json:"progress"`
}

// StandingFor computes tier, next tier and progress (0..1) through the current tier band.
func StandingFor(points int64) Standing {
	i := index(points)
	s := Standing{Points: points, Tier: Thresholds[i].Tier, PointsToNext: PointsToNext(points), Progress: 1}
	if i < len(Thresholds)-1 {
		lo, hi := Thresholds[i].Points, Thresholds[i+1].Points
		s.Next = Thresholds[i+1].Tier
		p := points
		if p < lo {
			p = lo
		}
		s.Progress = float64(p-lo) / float64(hi-lo)
	}
	return s
}

func index(points int64) int {
	i := 0
	for j, t := range Thresholds {
		if points >= t.Points {
			i = j
		}
	}
	return i
}
