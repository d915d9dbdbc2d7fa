package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/models"
)

func TestMatchBuyers_FiltersOnPriceZoneAndLiquidity(t *testing.T) {
	lead := models.Lead{ARV: 200000, Zip: "33101"}

	buyers := []models.Buyer{
		{RecordID: "rec1", Name: "Fits", Active: true, MaxPrice: 250000, Zones: []string{"33101", "33102"}, Liquidity: 50000},
		{RecordID: "rec2", Name: "Inactive", Active: false, MaxPrice: 250000, Zones: []string{"33101"}, Liquidity: 50000},
		{RecordID: "rec3", Name: "WrongZone", Active: true, MaxPrice: 250000, Zones: []string{"90210"}, Liquidity: 50000},
		{RecordID: "rec4", Name: "TooSmall", Active: true, MaxPrice: 150000, Zones: []string{"33101"}, Liquidity: 50000},
		{RecordID: "rec5", Name: "Illiquid", Active: true, MaxPrice: 250000, Zones: []string{"33101"}, Liquidity: 39999},
	}

	matched := MatchBuyers(lead, buyers)

	assert.Len(t, matched, 1)
	assert.Equal(t, "rec1", matched[0].RecordID)
}

func TestMatchBuyers_BoundariesAreInclusive(t *testing.T) {
	lead := models.Lead{ARV: 200000, Zip: "33101"}

	// MaxPrice exactly at ARV and liquidity exactly at the 20% position
	buyer := models.Buyer{RecordID: "rec1", Active: true, MaxPrice: 200000, Zones: []string{"33101"}, Liquidity: 40000}

	matched := MatchBuyers(lead, []models.Buyer{buyer})
	assert.Len(t, matched, 1)
}

func TestMatchBuyers_EmptyInputs(t *testing.T) {
	lead := models.Lead{ARV: 200000, Zip: "33101"}

	assert.Empty(t, MatchBuyers(lead, nil))
	assert.Empty(t, MatchBuyers(models.Lead{}, []models.Buyer{
		{Active: true, MaxPrice: 100000, Zones: []string{"33101"}, Liquidity: 1000},
	}))
}
