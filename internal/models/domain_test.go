package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAsFloat_CoercesRemoteCellShapes(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want float64
	}{
		{"float64", 42.5, 42.5},
		{"float32", float32(4), 4},
		{"int", 7, 7},
		{"int64", int64(9), 9},
		{"plain string", "1500", 1500},
		{"currency string", "$1,250,000", 1250000},
		{"currency with cents", "$98,500.25", 98500.25},
		{"padded string", " 42 ", 42},
		{"empty string", "", 0},
		{"garbage string", "n/a", 0},
		{"nil", nil, 0},
		{"bool", true, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, AsFloat(tc.in))
		})
	}
}

func TestAsString_TrimsAndFormats(t *testing.T) {
	assert.Equal(t, "hello", AsString("  hello  "))
	assert.Equal(t, "42", AsString(float64(42)))
	assert.Equal(t, "42.5", AsString(42.5))
	assert.Equal(t, "true", AsString(true))
	assert.Equal(t, "", AsString(nil))
	assert.Equal(t, "", AsString(12))
}

func TestAsBool_MissingCheckboxIsFalse(t *testing.T) {
	assert.True(t, AsBool(true))
	assert.True(t, AsBool("TRUE"))
	assert.True(t, AsBool(" true "))
	assert.True(t, AsBool(float64(1)))
	assert.False(t, AsBool(float64(0)))
	assert.False(t, AsBool("yes"))
	assert.False(t, AsBool(nil))
}

func TestSplitCSV_TrimsAndDropsEmpties(t *testing.T) {
	assert.Nil(t, SplitCSV(""))
	assert.Equal(t, []string{"33101", "33102", "33103"}, SplitCSV("33101, 33102 ,,33103"))
}

func TestLeadFromFields_ToleratesMixedColumnTypes(t *testing.T) {
	lead := LeadFromFields("rec123", map[string]any{
		"External_Id":   "L-0042",
		"Address":       " 123 Main St ",
		"Zip":           float64(33101),
		"ARV":           "$250,000",
		"Asking":        180000.0,
		"Repairs":       25000,
		"LocationScore": "75",
		"OwnerPhone":    "+13055550100",
		"Status":        LeadStatusNew,
	})

	assert.Equal(t, "rec123", lead.RecordID)
	assert.Equal(t, "L-0042", lead.ExternalID)
	assert.Equal(t, "123 Main St", lead.Address)
	assert.Equal(t, "33101", lead.Zip)
	assert.Equal(t, 250000.0, lead.ARV)
	assert.Equal(t, 180000.0, lead.Asking)
	assert.Equal(t, 25000.0, lead.Repairs)
	assert.Equal(t, 75.0, lead.LocationScore)
	assert.Equal(t, LeadStatusNew, lead.Status)
}

func TestBuyerFromFields_SplitsZones(t *testing.T) {
	buyer := BuyerFromFields("recB", map[string]any{
		"Name":      "Acme Capital",
		"Phone":     "+13055550101",
		"MaxPrice":  "400,000",
		"Zones":     "33101, 33102",
		"Liquidity": 90000.0,
		"Active":    true,
	})

	assert.Equal(t, []string{"33101", "33102"}, buyer.Zones)
	assert.Equal(t, 400000.0, buyer.MaxPrice)
	assert.True(t, buyer.Active)
}

func TestOpportunityFromFields_ReadsCheckboxAndNumerics(t *testing.T) {
	opp := OpportunityFromFields("recO", map[string]any{
		"Notice_Id":   "N-777",
		"Title":       "Janitorial Services",
		"NAICS":       "561720",
		"NAICS_Match": true,
		"Value":       "48,000",
		"Complexity":  2.0,
		"Competition": 4,
		"Status":      OppStatusNew,
	})

	assert.Equal(t, "N-777", opp.NoticeID)
	assert.True(t, opp.NAICSMatch)
	assert.Equal(t, 48000.0, opp.Value)
	assert.Equal(t, 2.0, opp.Complexity)
	assert.Equal(t, 4.0, opp.Competition)
}
