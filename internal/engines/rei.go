package engines

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/airtable"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/dispatch"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/models"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/scoring"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/pkg/metrics"
)

// REIPipeline scores real estate leads, matches them to cash buyers, and
// queues SMS outreach for the hot ones.
type REIPipeline struct {
	source      RecordSource
	jobs        JobQueue
	outbound    DispatchQueue
	notifier    Notifier
	leadsTable  string
	buyersTable string
	logger      *slog.Logger
	currency    *message.Printer
}

func NewREIPipeline(source RecordSource, jobs JobQueue, outbound DispatchQueue, notifier Notifier, leadsTable, buyersTable string, logger *slog.Logger) *REIPipeline {
	return &REIPipeline{
		source:      source,
		jobs:        jobs,
		outbound:    outbound,
		notifier:    notifier,
		leadsTable:  leadsTable,
		buyersTable: buyersTable,
		logger:      logger,
		currency:    message.NewPrinter(language.English),
	}
}

func (p *REIPipeline) Name() string { return "REI_DISPO" }

// RunCycle processes the active lead set: score, persist derived fields,
// match buyers, queue outreach.
func (p *REIPipeline) RunCycle(ctx context.Context, runID string) (Stats, error) {
	l := p.logger.With("engine", p.Name(), "run_id", runID)

	leads, err := p.source.ListRecords(ctx, p.leadsTable, airtable.Query{
		FilterByFormula: airtable.StatusIn("Status", models.LeadStatusNew, models.LeadStatusFollowUp),
	})
	if err != nil {
		return nil, fmt.Errorf("leads fetch failed: %w", err)
	}
	if len(leads) == 0 {
		l.Info("No active leads to process")
		return Stats{"leads_processed": 0, "high_score": 0, "buyers_matched": 0, "sms_enqueued": 0}, nil
	}

	buyers, err := p.fetchBuyers(ctx)
	if err != nil {
		// A missing buyer list degrades matching, not scoring
		l.Warn("Buyers fetch failed, scoring without matching", "error", err)
	}

	var (
		patches       []models.RecordPayload
		highScore     int
		buyersMatched int
		smsEnqueued   int
	)

	for _, rec := range leads {
		lead := models.LeadFromFields(rec.ID, rec.Fields)
		result := scoring.ScoreREILead(lead)

		status := models.LeadStatusScored
		if result.Score >= scoring.HighScoreThreshold {
			highScore++
			matched := scoring.MatchBuyers(lead, buyers)
			buyersMatched += len(matched)

			p.notifier.Ops(ctx, p.dealAlert(lead, result, len(matched)))

			queued := p.queueFollowUp(ctx, l, lead)
			queued += p.queueOutreach(ctx, l, lead, result, matched)
			smsEnqueued += queued
			if queued > 0 {
				status = models.LeadStatusContacted
			}
		}

		patches = append(patches, models.RecordPayload{
			ExternalKey: lead.RecordID,
			Fields: map[string]any{
				"Score":        result.Score,
				"Spread":       result.Spread,
				"KRIZZY_Share": result.KrizzyShare,
				"Status":       status,
			},
		})
	}

	if err := p.enqueueUpdates(ctx, runID, patches); err != nil {
		return nil, err
	}

	stats := Stats{
		"leads_processed": len(leads),
		"high_score":      highScore,
		"buyers_matched":  buyersMatched,
		"sms_enqueued":    smsEnqueued,
	}

	summary := fmt.Sprintf("🏠 REI Engine Complete\nLeads: %d | High-Score: %d\nBuyers Matched: %d | SMS Queued: %d",
		len(leads), highScore, buyersMatched, smsEnqueued)
	p.notifier.Ops(ctx, summary)

	return stats, nil
}

func (p *REIPipeline) fetchBuyers(ctx context.Context) ([]models.Buyer, error) {
	records, err := p.source.ListRecords(ctx, p.buyersTable, airtable.Query{
		FilterByFormula: airtable.Checked("Active"),
	})
	if err != nil {
		return nil, err
	}
	buyers := make([]models.Buyer, 0, len(records))
	for _, rec := range records {
		buyers = append(buyers, models.BuyerFromFields(rec.ID, rec.Fields))
	}
	return buyers, nil
}

// queueFollowUp texts the seller on a hot lead so the conversation starts
// while the deal is warm. At most one follow-up per lead identity.
func (p *REIPipeline) queueFollowUp(ctx context.Context, l *slog.Logger, lead models.Lead) int {
	if lead.OwnerPhone == "" {
		return 0
	}

	campaign := "rei-followup:" + lead.RecordID
	if lead.ExternalID != "" {
		campaign = "rei-followup:" + lead.ExternalID
	}

	d := models.Dispatch{
		Key:          dispatch.DeriveKey(lead.OwnerPhone, campaign),
		RunID:        campaign,
		Campaign:     campaign,
		Bucket:       models.BucketInbound,
		Destination:  lead.OwnerPhone,
		Body:         p.followUpBody(lead),
		FallbackBody: "KRIZZY OPS: Following up on your property. Are you still looking to sell?",
	}

	res, err := p.outbound.Enqueue(ctx, d)
	if err != nil {
		l.Error("Failed to enqueue seller follow-up", "destination", lead.OwnerPhone, "error", err)
		return 0
	}
	if res == dispatch.Duplicate {
		l.Debug("Seller follow-up already queued", "destination", lead.OwnerPhone)
		return 0
	}
	return 1
}

// queueOutreach enqueues one SMS per matched buyer with a phone number. The
// dispatch key derives from (buyer phone, lead identity), so re-running a
// cycle cannot double-text anyone.
func (p *REIPipeline) queueOutreach(ctx context.Context, l *slog.Logger, lead models.Lead, result scoring.REIResult, matched []models.Buyer) int {
	campaign := "rei:" + lead.RecordID
	if lead.ExternalID != "" {
		campaign = "rei:" + lead.ExternalID
	}

	queued := 0
	for _, buyer := range matched {
		if buyer.Phone == "" {
			continue
		}

		d := models.Dispatch{
			Key:          dispatch.DeriveKey(buyer.Phone, campaign),
			RunID:        campaign,
			Campaign:     campaign,
			Bucket:       models.BucketWarmMarket,
			Destination:  buyer.Phone,
			Body:         p.smsBody(lead, result),
			FallbackBody: p.smsFallback(lead),
		}

		res, err := p.outbound.Enqueue(ctx, d)
		if err != nil {
			l.Error("Failed to enqueue outreach", "destination", buyer.Phone, "error", err)
			continue
		}
		if res == dispatch.Duplicate {
			l.Debug("Outreach already queued for this deal", "destination", buyer.Phone)
			continue
		}
		queued++
	}
	return queued
}

func (p *REIPipeline) enqueueUpdates(ctx context.Context, runID string, patches []models.RecordPayload) error {
	if len(patches) == 0 {
		return nil
	}
	records, err := models.MarshalRecords(patches)
	if err != nil {
		return fmt.Errorf("failed to encode lead updates: %w", err)
	}

	job := models.SyncJob{
		CorrelationID: "rei-score-" + runID,
		TableName:     p.leadsTable,
		Operation:     models.OpUpdate,
		Records:       records,
	}
	if err := p.jobs.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("failed to enqueue lead updates: %w", err)
	}
	metrics.JobsEnqueued.WithLabelValues(p.leadsTable, models.OpUpdate).Inc()
	return nil
}

func (p *REIPipeline) dealAlert(lead models.Lead, result scoring.REIResult, matched int) string {
	address := lead.Address
	if address == "" {
		address = "Unknown"
	}
	return p.currency.Sprintf("🔥 HIGH-SCORE DEAL\nAddress: %s\nARV: $%.0f\nAsking: $%.0f\nSpread: $%.0f\nScore: %v\nMatched Buyers: %d",
		address, lead.ARV, lead.Asking, result.Spread, result.Score, matched)
}

func (p *REIPipeline) followUpBody(lead models.Lead) string {
	address := lead.Address
	if address == "" {
		address = "your property"
	}
	return fmt.Sprintf("KRIZZY OPS: We reviewed %s and can make a cash offer. Still interested in selling?", address)
}

func (p *REIPipeline) smsBody(lead models.Lead, result scoring.REIResult) string {
	return p.currency.Sprintf("KRIZZY OPS: New deal alert!\n%s\nARV: $%.0f\nSpread: $%.0f\nReply YES if interested.",
		lead.Address, lead.ARV, result.Spread)
}

// smsFallback is the plainer body substituted once when the provider rejects
// the primary content.
func (p *REIPipeline) smsFallback(lead models.Lead) string {
	zone := lead.Zip
	if zone == "" {
		zone = "your area"
	}
	return fmt.Sprintf("KRIZZY OPS: New investment property available in %s. Reply YES for details.", zone)
}
