package scoring

import (
	"math"

	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/models"
)

// HighScoreThreshold marks a lead hot enough for dispo outreach.
const HighScoreThreshold = 65

// REIResult carries the derived fields written back to a scored lead.
type REIResult struct {
	Score       float64
	Spread      float64
	KrizzyShare float64
}

// ScoreREILead computes the deal score from spread and location quality,
// weighted 70/30. A lead without both ARV and asking price cannot be priced
// and scores zero across the board.
func ScoreREILead(lead models.Lead) REIResult {
	if lead.ARV == 0 || lead.Asking == 0 {
		return REIResult{}
	}

	spread := lead.ARV - lead.Asking - lead.Repairs
	spreadPct := 0.0
	if lead.ARV > 0 {
		spreadPct = (spread / lead.ARV) * 100
	}
	spreadScore := clamp(spreadPct)
	locScore := clamp(lead.LocationScore)

	share := 0.0
	if spread > 0 {
		share = round2(spread * 0.05)
	}

	return REIResult{
		Score:       round2(spreadScore*0.7 + locScore*0.3),
		Spread:      round2(spread),
		KrizzyShare: share,
	}
}

func clamp(v float64) float64 {
	return max(0, min(100, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
