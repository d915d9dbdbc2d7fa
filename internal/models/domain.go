package models

import (
	"strconv"
	"strings"
)

// Lead statuses in the remote Leads_REI table.
const (
	LeadStatusNew       = "NEW"
	LeadStatusFollowUp  = "FOLLOW_UP"
	LeadStatusScored    = "SCORED"
	LeadStatusContacted = "CONTACTED"
	LeadStatusClosed    = "CLOSED"
)

// Opportunity statuses in the remote GovCon_Opportunities table.
const (
	OppStatusNew      = "NEW"
	OppStatusScanned  = "SCANNED"
	OppStatusBidReady = "BID_READY"
	OppStatusPassed   = "PASSED"
)

// Staging statuses in the remote intake table.
const (
	StagingStatusNew      = "NEW"
	StagingStatusError    = "ERROR"
	StagingStatusPromoted = "PROMOTED"
)

// Outbound_Status stamped on freshly promoted leads. The dispatch log, not
// this field, is the source of truth once outreach starts.
const OutboundStatusNotContacted = "NOT_CONTACTED"

// Lead is a scored real estate lead as stored in Leads_REI.
type Lead struct {
	RecordID      string
	ExternalID    string
	Address       string
	Zip           string
	ARV           float64
	Asking        float64
	Repairs       float64
	LocationScore float64
	OwnerPhone    string
	Status        string
}

// Buyer is a cash buyer profile from the Buyers table. Zones holds the
// comma-separated zip list already split and trimmed.
type Buyer struct {
	RecordID  string
	Name      string
	Phone     string
	MaxPrice  float64
	Zones     []string
	Liquidity float64
	Active    bool
}

// Opportunity is a government contract opportunity from GovCon_Opportunities.
type Opportunity struct {
	RecordID    string
	NoticeID    string
	Title       string
	Agency      string
	NAICS       string
	NAICSMatch  bool
	Value       float64
	Complexity  float64
	Competition float64
	POCPhone    string
	Link        string
	Status      string
}

// LeadFromFields maps a raw remote record into a Lead. Numeric cells arrive as
// float64, int or string depending on column type, so everything goes through
// AsFloat.
func LeadFromFields(recordID string, f map[string]any) Lead {
	return Lead{
		RecordID:      recordID,
		ExternalID:    AsString(f["External_Id"]),
		Address:       AsString(f["Address"]),
		Zip:           AsString(f["Zip"]),
		ARV:           AsFloat(f["ARV"]),
		Asking:        AsFloat(f["Asking"]),
		Repairs:       AsFloat(f["Repairs"]),
		LocationScore: AsFloat(f["LocationScore"]),
		OwnerPhone:    AsString(f["OwnerPhone"]),
		Status:        AsString(f["Status"]),
	}
}

// BuyerFromFields maps a raw remote record into a Buyer.
func BuyerFromFields(recordID string, f map[string]any) Buyer {
	return Buyer{
		RecordID:  recordID,
		Name:      AsString(f["Name"]),
		Phone:     AsString(f["Phone"]),
		MaxPrice:  AsFloat(f["MaxPrice"]),
		Zones:     SplitCSV(AsString(f["Zones"])),
		Liquidity: AsFloat(f["Liquidity"]),
		Active:    AsBool(f["Active"]),
	}
}

// OpportunityFromFields maps a raw remote record into an Opportunity.
func OpportunityFromFields(recordID string, f map[string]any) Opportunity {
	return Opportunity{
		RecordID:    recordID,
		NoticeID:    AsString(f["Notice_Id"]),
		Title:       AsString(f["Title"]),
		Agency:      AsString(f["Agency"]),
		NAICS:       AsString(f["NAICS"]),
		NAICSMatch:  AsBool(f["NAICS_Match"]),
		Value:       AsFloat(f["Value"]),
		Complexity:  AsFloat(f["Complexity"]),
		Competition: AsFloat(f["Competition"]),
		POCPhone:    AsString(f["POC_Phone"]),
		Link:        AsString(f["Link"]),
		Status:      AsString(f["Status"]),
	}
}

// AsFloat coerces a remote cell value into a float64. Strings tolerate currency
// formatting ("$1,250,000"). Anything unparseable collapses to 0.
func AsFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(strings.ReplaceAll(t, ",", ""), "$", ""))
		if s == "" {
			return 0
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// AsString coerces a remote cell value into a trimmed string.
func AsString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// AsBool coerces a remote checkbox value. Airtable omits unchecked boxes, so a
// missing key is false.
func AsBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(strings.TrimSpace(t), "true")
	case float64:
		return t != 0
	default:
		return false
	}
}

// SplitCSV splits a comma-separated cell into trimmed non-empty parts.
func SplitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
