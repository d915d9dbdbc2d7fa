package scoring

import (
	"slices"

	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/models"
)

// MatchBuyers returns the active buyers eligible for a lead: the buyer can
// afford the ARV, covers the lead's zip, and holds liquidity for at least a
// 20% position.
func MatchBuyers(lead models.Lead, buyers []models.Buyer) []models.Buyer {
	var matched []models.Buyer
	for _, b := range buyers {
		if !b.Active {
			continue
		}
		if lead.ARV <= b.MaxPrice && slices.Contains(b.Zones, lead.Zip) && b.Liquidity >= lead.ARV*0.2 {
			matched = append(matched, b)
		}
	}
	return matched
}
