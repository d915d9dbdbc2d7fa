package engines

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/airtable"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/models"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/pkg/encoding"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/pkg/metrics"
)

// IntakePipeline promotes raw inbound rows from the staging table into
// Leads_REI. Rows that fail validation are marked ERROR in place and retried
// on the next cycle, so a bad row never blocks the rest of the batch.
type IntakePipeline struct {
	source       RecordSource
	jobs         JobQueue
	notifier     Notifier
	stagingTable string
	leadsTable   string
	logger       *slog.Logger
	now          func() time.Time
}

func NewIntakePipeline(source RecordSource, jobs JobQueue, notifier Notifier, stagingTable, leadsTable string, logger *slog.Logger) *IntakePipeline {
	return &IntakePipeline{
		source:       source,
		jobs:         jobs,
		notifier:     notifier,
		stagingTable: stagingTable,
		leadsTable:   leadsTable,
		logger:       logger,
		now:          time.Now,
	}
}

func (p *IntakePipeline) Name() string { return "INTAKE_PROMOTER" }

// RunCycle pulls NEW and ERROR staging rows, coerces them into lead shape, and
// pushes two jobs: an upsert into the production table and a status write-back
// to staging.
func (p *IntakePipeline) RunCycle(ctx context.Context, runID string) (Stats, error) {
	l := p.logger.With("engine", p.Name(), "run_id", runID)

	rows, err := p.source.ListRecords(ctx, p.stagingTable, airtable.Query{
		FilterByFormula: airtable.StatusIn("Status", models.StagingStatusNew, models.StagingStatusError),
	})
	if err != nil {
		return nil, fmt.Errorf("staging fetch failed: %w", err)
	}
	if len(rows) == 0 {
		l.Info("No staging rows to promote")
		return Stats{"promoted": 0, "errors": 0}, nil
	}

	var (
		promotions []models.RecordPayload
		writebacks []models.RecordPayload
		promoted   int
		failures   int
	)

	for _, rec := range rows {
		fields, err := p.coerce(rec.Fields)
		if err != nil {
			failures++
			l.Warn("Staging row rejected", "record_id", rec.ID, "error", err)
			writebacks = append(writebacks, models.RecordPayload{
				ExternalKey: rec.ID,
				Fields: map[string]any{
					"Status":        models.StagingStatusError,
					"Error_Message": truncate(err.Error(), 500),
				},
			})
			continue
		}

		promoted++
		promotions = append(promotions, models.RecordPayload{
			ExternalKey: models.AsString(fields["External_Id"]),
			Fields:      fields,
		})
		writebacks = append(writebacks, models.RecordPayload{
			ExternalKey: rec.ID,
			Fields: map[string]any{
				"Status":        models.StagingStatusPromoted,
				"Error_Message": "",
			},
		})
	}

	if err := p.enqueuePromotions(ctx, runID, promotions); err != nil {
		return nil, err
	}
	if err := p.enqueueWritebacks(ctx, runID, writebacks); err != nil {
		return nil, err
	}

	if failures > 0 {
		p.notifier.Error(ctx, fmt.Sprintf("🚨 Intake rejected %d of %d staging rows", failures, len(rows)))
	}

	return Stats{"promoted": promoted, "errors": failures, "scanned": len(rows)}, nil
}

// coerce validates a staging row and shapes it for the production table.
// External_Id is mandatory: it is the merge key that makes promotion
// re-runnable. Free-text fields run through CleanText because staging rows
// arrive from CSV dumps with broken encodings.
func (p *IntakePipeline) coerce(raw map[string]any) (map[string]any, error) {
	externalID := encoding.CleanText(models.AsString(raw["External_Id"]))
	if externalID == "" {
		return nil, fmt.Errorf("missing External_Id")
	}
	address := encoding.CleanText(models.AsString(raw["Address"]))
	if address == "" {
		return nil, fmt.Errorf("missing Address")
	}

	fields := map[string]any{
		"External_Id":     externalID,
		"Address":         address,
		"Zip":             encoding.CleanText(models.AsString(raw["Zip"])),
		"ARV":             models.AsFloat(raw["ARV"]),
		"Asking":          models.AsFloat(raw["Asking"]),
		"Repairs":         models.AsFloat(raw["Repairs"]),
		"LocationScore":   models.AsFloat(raw["LocationScore"]),
		"OwnerPhone":      encoding.CleanText(models.AsString(raw["OwnerPhone"])),
		"Status":          models.LeadStatusNew,
		"Outbound_Status": models.OutboundStatusNotContacted,
		"Ingest_TS":       p.now().UTC().Format(time.RFC3339),
	}

	// Provenance columns ride along only when the dump carried them, so a
	// re-promotion cannot blank them on the production row.
	if name := encoding.CleanText(models.AsString(raw["Name"])); name != "" {
		fields["Name"] = name
	}
	if source := encoding.CleanText(models.AsString(raw["Source"])); source != "" {
		fields["Source"] = source
	}
	return fields, nil
}

func (p *IntakePipeline) enqueuePromotions(ctx context.Context, runID string, payloads []models.RecordPayload) error {
	if len(payloads) == 0 {
		return nil
	}
	records, err := models.MarshalRecords(payloads)
	if err != nil {
		return fmt.Errorf("failed to encode promotions: %w", err)
	}

	job := models.SyncJob{
		CorrelationID: "intake-promote-" + runID,
		TableName:     p.leadsTable,
		Operation:     models.OpUpsert,
		MergeFields:   []string{"External_Id"},
		Records:       records,
	}
	if err := p.jobs.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("failed to enqueue promotions: %w", err)
	}
	metrics.JobsEnqueued.WithLabelValues(p.leadsTable, models.OpUpsert).Inc()
	return nil
}

func (p *IntakePipeline) enqueueWritebacks(ctx context.Context, runID string, payloads []models.RecordPayload) error {
	if len(payloads) == 0 {
		return nil
	}
	records, err := models.MarshalRecords(payloads)
	if err != nil {
		return fmt.Errorf("failed to encode staging writebacks: %w", err)
	}

	job := models.SyncJob{
		CorrelationID: "intake-writeback-" + runID,
		TableName:     p.stagingTable,
		Operation:     models.OpUpdate,
		Records:       records,
	}
	if err := p.jobs.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("failed to enqueue staging writebacks: %w", err)
	}
	metrics.JobsEnqueued.WithLabelValues(p.stagingTable, models.OpUpdate).Inc()
	return nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
