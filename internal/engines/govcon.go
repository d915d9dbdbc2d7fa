package engines

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/airtable"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/dispatch"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/feed"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/models"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/scoring"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/pkg/metrics"
)

// OpportunityFeed pulls fresh notices from the upstream opportunity search.
type OpportunityFeed interface {
	Configured() bool
	Fetch(ctx context.Context) ([]feed.Notice, int, error)
}

// GovConPipeline pulls opportunities from the feed, scores the open set, and
// flags the ones worth bidding on.
type GovConPipeline struct {
	source     RecordSource
	feed       OpportunityFeed
	jobs       JobQueue
	outbound   DispatchQueue
	notifier   Notifier
	table      string
	naicsCodes []string
	logger     *slog.Logger
	currency   *message.Printer
}

func NewGovConPipeline(source RecordSource, oppFeed OpportunityFeed, jobs JobQueue, outbound DispatchQueue, notifier Notifier, table string, naicsCodes []string, logger *slog.Logger) *GovConPipeline {
	return &GovConPipeline{
		source:     source,
		feed:       oppFeed,
		jobs:       jobs,
		outbound:   outbound,
		notifier:   notifier,
		table:      table,
		naicsCodes: naicsCodes,
		logger:     logger,
		currency:   message.NewPrinter(language.English),
	}
}

func (p *GovConPipeline) Name() string { return "GOVCON_SUBTRAP" }

// RunCycle ingests new notices, then rescores everything still in NEW or
// SCANNED. A dead feed degrades to rescoring only.
func (p *GovConPipeline) RunCycle(ctx context.Context, runID string) (Stats, error) {
	l := p.logger.With("engine", p.Name(), "run_id", runID)

	fetched := 0
	if p.feed.Configured() {
		n, err := p.pullFeed(ctx, runID)
		if err != nil {
			l.Warn("Feed pull failed, continuing with rescore only", "error", err)
			p.notifier.Error(ctx, fmt.Sprintf("🚨 GovCon feed pull failed: %v", err))
		}
		fetched = n
	}

	opps, err := p.source.ListRecords(ctx, p.table, airtable.Query{
		FilterByFormula: airtable.StatusIn("Status", models.OppStatusNew, models.OppStatusScanned),
	})
	if err != nil {
		return nil, fmt.Errorf("opportunities fetch failed: %w", err)
	}
	if len(opps) == 0 {
		l.Info("No opportunities to process")
		p.notifier.Ops(ctx, "📄 GovCon Engine | No opportunities to process")
		return Stats{"fetched": fetched, "processed": 0, "bid_ready": 0}, nil
	}

	var (
		patches     []models.RecordPayload
		bidReady    int
		smsEnqueued int
		totalValue  float64
		scoreSum    float64
	)

	for _, rec := range opps {
		opp := models.OpportunityFromFields(rec.ID, rec.Fields)
		score := scoring.ScoreGovConOpp(opp)
		scoreSum += score
		totalValue += opp.Value

		isBidReady := score >= scoring.BidReadyThreshold
		status := models.OppStatusScanned
		fields := map[string]any{
			"Score":    score,
			"BidReady": isBidReady,
		}

		if isBidReady {
			bidReady++
			status = models.OppStatusBidReady
			fields["BidSummary"] = scoring.RenderBidSummary(opp, score)

			p.notifier.Ops(ctx, p.bidAlert(opp, score))
			smsEnqueued += p.queuePOCOutreach(ctx, l, opp)
		}
		fields["Status"] = status

		patches = append(patches, models.RecordPayload{ExternalKey: opp.RecordID, Fields: fields})
	}

	if err := p.enqueueUpdates(ctx, runID, patches); err != nil {
		return nil, err
	}

	avgScore := 0.0
	if len(opps) > 0 {
		avgScore = scoreSum / float64(len(opps))
	}

	stats := Stats{
		"fetched":      fetched,
		"processed":    len(opps),
		"bid_ready":    bidReady,
		"sms_enqueued": smsEnqueued,
		"total_value":  totalValue,
		"avg_score":    avgScore,
	}

	summary := p.currency.Sprintf("📄 GovCon Engine Complete\nProcessed: %d | Bid Ready: %d\nTotal Value: $%.0f | Avg Score: %.2f",
		len(opps), bidReady, totalValue, avgScore)
	p.notifier.Ops(ctx, summary)

	return stats, nil
}

// pullFeed upserts the fetched notices keyed on Notice_Id so re-pulling the
// same page is harmless.
func (p *GovConPipeline) pullFeed(ctx context.Context, runID string) (int, error) {
	notices, _, err := p.feed.Fetch(ctx)
	if err != nil {
		return 0, err
	}
	if len(notices) == 0 {
		return 0, nil
	}

	payloads := make([]models.RecordPayload, 0, len(notices))
	for _, n := range notices {
		payloads = append(payloads, models.RecordPayload{
			ExternalKey: n.NoticeID,
			Fields: map[string]any{
				"Notice_Id":   n.NoticeID,
				"Title":       n.Title,
				"Agency":      n.Agency,
				"NAICS":       n.NAICS,
				"NAICS_Match": p.naicsMatches(n.NAICS),
				"Value":       n.Value,
				"POC_Phone":   n.POCPhone,
				"Link":        n.Link,
				"Status":      models.OppStatusNew,
			},
		})
	}

	records, err := models.MarshalRecords(payloads)
	if err != nil {
		return 0, fmt.Errorf("failed to encode feed records: %w", err)
	}

	// Title is the human-entered fallback key for bases whose notice id
	// column drifted.
	job := models.SyncJob{
		CorrelationID: "govcon-feed-" + runID,
		TableName:     p.table,
		Operation:     models.OpUpsert,
		MergeFields:   []string{"Notice_Id", "Title"},
		Records:       records,
	}
	if err := p.jobs.Enqueue(ctx, job); err != nil {
		return 0, fmt.Errorf("failed to enqueue feed records: %w", err)
	}
	metrics.JobsEnqueued.WithLabelValues(p.table, models.OpUpsert).Inc()
	return len(notices), nil
}

// naicsMatches reports whether a code falls under the configured whitelist.
// Prefix matching covers the 6-digit codes nested under 4-digit families.
func (p *GovConPipeline) naicsMatches(naics string) bool {
	if naics == "" || len(p.naicsCodes) == 0 {
		return false
	}
	for _, code := range p.naicsCodes {
		if code != "" && strings.HasPrefix(naics, code) {
			return true
		}
	}
	return false
}

func (p *GovConPipeline) queuePOCOutreach(ctx context.Context, l *slog.Logger, opp models.Opportunity) int {
	if opp.POCPhone == "" {
		return 0
	}
	campaign := "govcon:" + opp.RecordID
	if opp.NoticeID != "" {
		campaign = "govcon:" + opp.NoticeID
	}

	d := models.Dispatch{
		Key:          dispatch.DeriveKey(opp.POCPhone, campaign),
		RunID:        campaign,
		Campaign:     campaign,
		Bucket:       models.BucketGovConFeed,
		Destination:  opp.POCPhone,
		Body:         p.pocBody(opp),
		FallbackBody: "KRIZZY OPS: Following up on a federal opportunity. Reply YES to connect.",
	}

	res, err := p.outbound.Enqueue(ctx, d)
	if err != nil {
		l.Error("Failed to enqueue POC outreach", "destination", opp.POCPhone, "error", err)
		return 0
	}
	if res == dispatch.Duplicate {
		return 0
	}
	return 1
}

func (p *GovConPipeline) bidAlert(opp models.Opportunity, score float64) string {
	title := opp.Title
	if title == "" {
		title = "Untitled"
	}
	naics := opp.NAICS
	if naics == "" {
		naics = "N/A"
	}
	alert := p.currency.Sprintf("🎯 BID READY OPPORTUNITY\nTitle: %s\nNAICS: %s\nValue: $%.0f\nScore: %v",
		title, naics, opp.Value, score)
	if opp.Link != "" {
		alert += "\nLink: " + opp.Link
	}
	return alert
}

func (p *GovConPipeline) pocBody(opp models.Opportunity) string {
	title := opp.Title
	if len(title) > 80 {
		title = title[:80]
	}
	return p.currency.Sprintf("KRIZZY OPS: Bid-ready opportunity\n%s\nValue: $%.0f\nReply YES to discuss teaming.", title, opp.Value)
}

func (p *GovConPipeline) enqueueUpdates(ctx context.Context, runID string, patches []models.RecordPayload) error {
	if len(patches) == 0 {
		return nil
	}
	records, err := models.MarshalRecords(patches)
	if err != nil {
		return fmt.Errorf("failed to encode opportunity updates: %w", err)
	}

	job := models.SyncJob{
		CorrelationID: "govcon-score-" + runID,
		TableName:     p.table,
		Operation:     models.OpUpdate,
		Records:       records,
	}
	if err := p.jobs.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("failed to enqueue opportunity updates: %w", err)
	}
	metrics.JobsEnqueued.WithLabelValues(p.table, models.OpUpdate).Inc()
	return nil
}
