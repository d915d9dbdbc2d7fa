package engines

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/airtable"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/dispatch"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/models"
)

func newREIPipeline(source *fakeSource, jobs *fakeJobs, outbound *fakeDispatch, notifier *fakeNotifier) *REIPipeline {
	return NewREIPipeline(source, jobs, outbound, notifier, "Leads_REI", "Buyers", quietLogger())
}

func midLead() airtable.Record {
	return airtable.Record{ID: "recL1", Fields: map[string]any{
		"External_Id":   "L-41",
		"Address":       "8 Oak Ave",
		"Zip":           "33190",
		"ARV":           200000.0,
		"Asking":        120000.0,
		"Repairs":       30000.0,
		"LocationScore": 80.0,
	}}
}

func hotLead() airtable.Record {
	return airtable.Record{ID: "recL2", Fields: map[string]any{
		"External_Id":   "L-77",
		"Address":       "123 Main St",
		"Zip":           "33101",
		"ARV":           300000.0,
		"Asking":        120000.0,
		"Repairs":       30000.0,
		"LocationScore": 100.0,
	}}
}

func TestREIRunCycle_NoActiveLeads(t *testing.T) {
	source := &fakeSource{}
	jobs := &fakeJobs{}
	notifier := &fakeNotifier{}
	p := newREIPipeline(source, jobs, &fakeDispatch{}, notifier)

	stats, err := p.RunCycle(context.Background(), "run1")
	require.NoError(t, err)

	assert.Equal(t, Stats{"leads_processed": 0, "high_score": 0, "buyers_matched": 0, "sms_enqueued": 0}, stats)
	assert.Empty(t, jobs.jobs)
	assert.Empty(t, notifier.ops)

	require.Len(t, source.queries, 1)
	assert.Equal(t, "Leads_REI", source.queries[0].table)
	assert.Equal(t, "OR({Status}='NEW',{Status}='FOLLOW_UP')", source.queries[0].formula)
}

func TestREIRunCycle_LeadsFetchFailure(t *testing.T) {
	cause := errors.New("rate limited")
	source := &fakeSource{errs: map[string]error{"Leads_REI": cause}}
	p := newREIPipeline(source, &fakeJobs{}, &fakeDispatch{}, &fakeNotifier{})

	_, err := p.RunCycle(context.Background(), "run1")
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "leads fetch failed")
}

func TestREIRunCycle_ScoresAndPatchesLeads(t *testing.T) {
	source := &fakeSource{records: map[string][]airtable.Record{
		"Leads_REI": {midLead()},
	}}
	jobs := &fakeJobs{}
	notifier := &fakeNotifier{}
	p := newREIPipeline(source, jobs, &fakeDispatch{}, notifier)

	stats, err := p.RunCycle(context.Background(), "run1")
	require.NoError(t, err)

	assert.Equal(t, Stats{"leads_processed": 1, "high_score": 0, "buyers_matched": 0, "sms_enqueued": 0}, stats)

	require.Len(t, source.queries, 2)
	assert.Equal(t, "Buyers", source.queries[1].table)
	assert.Equal(t, "{Active}=1", source.queries[1].formula)

	require.Len(t, jobs.jobs, 1)
	job := jobs.jobs[0]
	assert.Equal(t, "rei-score-run1", job.CorrelationID)
	assert.Equal(t, "Leads_REI", job.TableName)
	assert.Equal(t, models.OpUpdate, job.Operation)

	payloads := decodePayloads(t, job.Records)
	require.Len(t, payloads, 1)
	assert.Equal(t, "recL1", payloads[0].ExternalKey)
	assert.Equal(t, 41.5, payloads[0].Fields["Score"])
	assert.Equal(t, 50000.0, payloads[0].Fields["Spread"])
	assert.Equal(t, 2500.0, payloads[0].Fields["KRIZZY_Share"])
	assert.Equal(t, models.LeadStatusScored, payloads[0].Fields["Status"])

	require.Len(t, notifier.ops, 1)
	assert.Contains(t, notifier.ops[0], "REI Engine Complete")
	assert.Contains(t, notifier.ops[0], "Leads: 1 | High-Score: 0")
}

func TestREIRunCycle_HighScoreDealQueuesOutreach(t *testing.T) {
	source := &fakeSource{records: map[string][]airtable.Record{
		"Leads_REI": {hotLead()},
		"Buyers": {
			{ID: "recB1", Fields: map[string]any{
				"Name": "Marta", "Phone": "+13055550111",
				"MaxPrice": 400000.0, "Zones": "33101, 33102", "Liquidity": 80000.0, "Active": true,
			}},
			{ID: "recB2", Fields: map[string]any{
				"Name": "Phoneless", "MaxPrice": 350000.0, "Zones": "33101", "Liquidity": 60000.0, "Active": true,
			}},
			{ID: "recB3", Fields: map[string]any{
				"Name": "Lowball", "Phone": "+17865550122",
				"MaxPrice": 100000.0, "Zones": "33101", "Liquidity": 90000.0, "Active": true,
			}},
		},
	}}
	jobs := &fakeJobs{}
	outbound := &fakeDispatch{}
	notifier := &fakeNotifier{}
	p := newREIPipeline(source, jobs, outbound, notifier)

	stats, err := p.RunCycle(context.Background(), "run1")
	require.NoError(t, err)

	assert.Equal(t, Stats{"leads_processed": 1, "high_score": 1, "buyers_matched": 2, "sms_enqueued": 1}, stats)

	require.Len(t, outbound.dispatches, 1)
	d := outbound.dispatches[0]
	assert.Equal(t, dispatch.DeriveKey("+13055550111", "rei:L-77"), d.Key)
	assert.Equal(t, "rei:L-77", d.Campaign)
	assert.Equal(t, models.BucketWarmMarket, d.Bucket)
	assert.Equal(t, "+13055550111", d.Destination)
	assert.Equal(t, "KRIZZY OPS: New deal alert!\n123 Main St\nARV: $300,000\nSpread: $150,000\nReply YES if interested.", d.Body)
	assert.Equal(t, "KRIZZY OPS: New investment property available in 33101. Reply YES for details.", d.FallbackBody)

	payloads := decodePayloads(t, jobs.jobs[0].Records)
	assert.Equal(t, models.LeadStatusContacted, payloads[0].Fields["Status"])
	assert.Equal(t, 7500.0, payloads[0].Fields["KRIZZY_Share"])

	require.Len(t, notifier.ops, 2)
	assert.Equal(t, "🔥 HIGH-SCORE DEAL\nAddress: 123 Main St\nARV: $300,000\nAsking: $120,000\nSpread: $150,000\nScore: 65\nMatched Buyers: 2", notifier.ops[0])
	assert.Contains(t, notifier.ops[1], "SMS Queued: 1")
}

func TestREIRunCycle_SellerFollowUpPrecedesBuyerOutreach(t *testing.T) {
	rec := hotLead()
	rec.Fields["OwnerPhone"] = "+19545550177"
	source := &fakeSource{records: map[string][]airtable.Record{
		"Leads_REI": {rec},
		"Buyers": {{ID: "recB1", Fields: map[string]any{
			"Phone": "+13055550111", "MaxPrice": 400000.0, "Zones": "33101", "Liquidity": 80000.0, "Active": true,
		}}},
	}}
	jobs := &fakeJobs{}
	outbound := &fakeDispatch{}
	p := newREIPipeline(source, jobs, outbound, &fakeNotifier{})

	stats, err := p.RunCycle(context.Background(), "run1")
	require.NoError(t, err)

	assert.Equal(t, Stats{"leads_processed": 1, "high_score": 1, "buyers_matched": 1, "sms_enqueued": 2}, stats)

	require.Len(t, outbound.dispatches, 2)
	followUp, dispo := outbound.dispatches[0], outbound.dispatches[1]

	assert.Equal(t, dispatch.DeriveKey("+19545550177", "rei-followup:L-77"), followUp.Key)
	assert.Equal(t, "rei-followup:L-77", followUp.Campaign)
	assert.Equal(t, models.BucketInbound, followUp.Bucket)
	assert.Equal(t, "+19545550177", followUp.Destination)
	assert.Equal(t, "KRIZZY OPS: We reviewed 123 Main St and can make a cash offer. Still interested in selling?", followUp.Body)
	assert.Equal(t, "KRIZZY OPS: Following up on your property. Are you still looking to sell?", followUp.FallbackBody)

	assert.Equal(t, models.BucketWarmMarket, dispo.Bucket)
	assert.Equal(t, "+13055550111", dispo.Destination)

	payloads := decodePayloads(t, jobs.jobs[0].Records)
	assert.Equal(t, models.LeadStatusContacted, payloads[0].Fields["Status"])
}

func TestREIRunCycle_DuplicateOutreachKeepsScoredStatus(t *testing.T) {
	source := &fakeSource{records: map[string][]airtable.Record{
		"Leads_REI": {hotLead()},
		"Buyers": {{ID: "recB1", Fields: map[string]any{
			"Phone": "+13055550111", "MaxPrice": 400000.0, "Zones": "33101", "Liquidity": 80000.0, "Active": true,
		}}},
	}}
	jobs := &fakeJobs{}
	outbound := &fakeDispatch{result: dispatch.Duplicate}
	p := newREIPipeline(source, jobs, outbound, &fakeNotifier{})

	stats, err := p.RunCycle(context.Background(), "run1")
	require.NoError(t, err)

	assert.Equal(t, 0, stats["sms_enqueued"])
	payloads := decodePayloads(t, jobs.jobs[0].Records)
	assert.Equal(t, models.LeadStatusScored, payloads[0].Fields["Status"])
}

func TestREIRunCycle_OutreachEnqueueFailureDoesNotAbort(t *testing.T) {
	source := &fakeSource{records: map[string][]airtable.Record{
		"Leads_REI": {hotLead()},
		"Buyers": {{ID: "recB1", Fields: map[string]any{
			"Phone": "+13055550111", "MaxPrice": 400000.0, "Zones": "33101", "Liquidity": 80000.0, "Active": true,
		}}},
	}}
	jobs := &fakeJobs{}
	outbound := &fakeDispatch{err: errors.New("db offline")}
	p := newREIPipeline(source, jobs, outbound, &fakeNotifier{})

	stats, err := p.RunCycle(context.Background(), "run1")
	require.NoError(t, err)
	assert.Equal(t, 0, stats["sms_enqueued"])
	assert.Len(t, jobs.jobs, 1)
}

func TestREIRunCycle_BuyersFetchDegradesToScoring(t *testing.T) {
	source := &fakeSource{
		records: map[string][]airtable.Record{"Leads_REI": {hotLead()}},
		errs:    map[string]error{"Buyers": errors.New("view missing")},
	}
	jobs := &fakeJobs{}
	notifier := &fakeNotifier{}
	p := newREIPipeline(source, jobs, &fakeDispatch{}, notifier)

	stats, err := p.RunCycle(context.Background(), "run1")
	require.NoError(t, err)

	assert.Equal(t, Stats{"leads_processed": 1, "high_score": 1, "buyers_matched": 0, "sms_enqueued": 0}, stats)
	payloads := decodePayloads(t, jobs.jobs[0].Records)
	assert.Equal(t, models.LeadStatusScored, payloads[0].Fields["Status"])
}

func TestREIRunCycle_UpdateEnqueueFailure(t *testing.T) {
	source := &fakeSource{records: map[string][]airtable.Record{"Leads_REI": {midLead()}}}
	jobs := &fakeJobs{err: errors.New("queue full")}
	p := newREIPipeline(source, jobs, &fakeDispatch{}, &fakeNotifier{})

	_, err := p.RunCycle(context.Background(), "run1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to enqueue lead updates")
}
