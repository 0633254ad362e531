package domain

// PrestigeRank is derived from a religion's lifetime prestige.
type PrestigeRank uint8

const (
	RankFledgling PrestigeRank = iota
	RankEstablished
	RankRenowned
	RankLegendary
	RankMythic
)

// DefaultRankThresholds are the lifetime prestige totals needed for each rank above Fledgling.
var DefaultRankThresholds = []int64{500, 2000, 5000, 10000}

func (r PrestigeRank) String() string {
	switch r {
	case RankFledgling:
		return "fledgling"
	case RankEstablished:
		return "established"
	case RankRenowned:
		return "renowned"
	case RankLegendary:
		return "legendary"
	case RankMythic:
		return "mythic"
	default:
		return "unknown"
	}
}

// RankFor maps a lifetime prestige total onto a rank using ascending thresholds.
func RankFor(total int64, thresholds []int64) PrestigeRank {
	if len(thresholds) == 0 {
		thresholds = DefaultRankThresholds
	}
	rank := RankFledgling
	for i, threshold := range thresholds {
		if total < threshold {
			break
		}
		rank = PrestigeRank(i + 1)
		if rank == RankMythic {
			break
		}
	}
	return rank
}
