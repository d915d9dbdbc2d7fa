package scoring

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/models"
)

// BidReadyThreshold marks an opportunity worth preparing a bid for.
const BidReadyThreshold = 65

// ScoreGovConOpp weights NAICS fit (40%), contract value (30%, $50k scales to
// 100), and how complex (20%) and crowded (10%) the work is. Missing
// complexity and competition read as the easiest case.
func ScoreGovConOpp(opp models.Opportunity) float64 {
	naicsScore := 0.0
	if opp.NAICSMatch {
		naicsScore = 100
	}

	complexity := opp.Complexity
	if complexity == 0 {
		complexity = 1
	}
	competition := opp.Competition
	if competition == 0 {
		competition = 1
	}

	valueScore := min(100, (opp.Value/50000)*100)
	complexityScore := max(0, 100-(complexity*20))
	competitionScore := max(0, 100-(competition*15))

	final := naicsScore*0.4 + valueScore*0.3 + complexityScore*0.2 + competitionScore*0.1
	return round2(final)
}

// RenderBidSummary builds the short recommendation text stored on bid-ready
// opportunities.
func RenderBidSummary(opp models.Opportunity, score float64) string {
	title := opp.Title
	if title == "" {
		title = "Untitled"
	}
	naics := opp.NAICS
	if naics == "" {
		naics = "N/A"
	}

	p := message.NewPrinter(language.English)
	return p.Sprintf("BID RECOMMENDED | Score: %v\nTitle: %s\nNAICS: %s | Value: $%.0f\nComplexity: %v/5 | Competition: %v/10",
		score, title, naics, opp.Value, opp.Complexity, opp.Competition)
}
