package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/airtable"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/retry"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/schema"
)

// ErrEmptyRecord marks a record whose every field was dropped by the guard.
// Nothing sensible can be written for it, so it is reported instead of sent.
var ErrEmptyRecord = errors.New("record has no syncable fields")

// Actions reported per record after a sync pass.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionSkipped = "skipped"
)

// OutgoingRecord is one record bound for the remote store. ExternalKey is
// correlation metadata for outcomes and logs; it is never written remotely.
type OutgoingRecord struct {
	ExternalKey string
	Fields      map[string]any
}

// Outcome is the per-record result of an Upsert call. Err is nil on success,
// ErrEmptyRecord for guarded-empty records, or the chunk's terminal failure.
type Outcome struct {
	ExternalKey   string
	RemoteID      string
	Action        string
	MergeField    string
	DroppedFields []string
	Err           error
}

// Store is the slice of the remote client the syncer writes through.
type Store interface {
	BatchUpsert(ctx context.Context, table string, mergeFields []string, records []map[string]any) (*airtable.UpsertResult, error)
	BatchCreate(ctx context.Context, table string, records []map[string]any) (*airtable.UpsertResult, error)
	BatchUpdate(ctx context.Context, table string, patches []airtable.RecordPatch) (*airtable.UpsertResult, error)
}

// SchemaSource hands out table snapshots, usually the schema cache.
type SchemaSource interface {
	Get(ctx context.Context, table string, force bool) (*schema.TableSchema, error)
}

// Syncer applies batched writes to the remote store, guarding every record
// against schema drift and retrying through the controller.
type Syncer struct {
	schemas   SchemaSource
	store     Store
	retrier   *retry.Controller
	batchSize int
	logger    *slog.Logger
}

func NewSyncer(schemas SchemaSource, store Store, retrier *retry.Controller, batchSize int, logger *slog.Logger) *Syncer {
	if batchSize < 1 || batchSize > airtable.MaxBatchRecords {
		batchSize = airtable.MaxBatchRecords
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		schemas:   schemas,
		store:     store,
		retrier:   retrier,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Upsert writes records to table, merging on the first viable candidate from
// mergeCandidates per record. The returned outcomes align 1:1 with records.
// The call-level error is non-nil only when no schema could be obtained at
// all; every other failure is reported per outcome so one poisoned chunk
// cannot sink its siblings.
func (s *Syncer) Upsert(ctx context.Context, table string, records []OutgoingRecord, mergeCandidates []string) ([]Outcome, error) {
	outcomes := make([]Outcome, len(records))
	for i, rec := range records {
		outcomes[i].ExternalKey = rec.ExternalKey
	}
	if len(records) == 0 {
		return outcomes, nil
	}

	sch, err := s.schemas.Get(ctx, table, false)
	if err != nil {
		return nil, err
	}

	// Field Guard: intersect every record with the current snapshot
	working := make([]map[string]any, len(records))
	groups := make(map[string][]int)
	var groupOrder []string
	for i, rec := range records {
		clean, dropped := FilterFields(rec.Fields, sch)
		outcomes[i].DroppedFields = dropped

		if len(dropped) > 0 {
			s.logger.Debug("Guard dropped fields", "table", table, "external_key", rec.ExternalKey, "dropped", dropped)
		}
		if len(clean) == 0 {
			outcomes[i].Action = ActionSkipped
			outcomes[i].Err = fmt.Errorf("%w (external_key=%s)", ErrEmptyRecord, rec.ExternalKey)
			continue
		}

		working[i] = clean

		// Merge field resolution: first candidate the schema allows and the
		// record actually carries. No candidate means a plain create.
		mergeField := resolveMergeField(clean, mergeCandidates, sch)
		outcomes[i].MergeField = mergeField
		if _, seen := groups[mergeField]; !seen {
			groupOrder = append(groupOrder, mergeField)
		}
		groups[mergeField] = append(groups[mergeField], i)
	}

	// One write per chunk; chunks fail independently
	for _, mergeField := range groupOrder {
		idxs := groups[mergeField]
		for start := 0; start < len(idxs); start += s.batchSize {
			end := min(start+s.batchSize, len(idxs))
			s.syncChunk(ctx, table, mergeField, idxs[start:end], records, working, mergeCandidates, outcomes)
		}
	}

	return outcomes, nil
}

// syncChunk pushes one chunk through the retry controller. On schema-stale the
// hook refreshes the snapshot, re-guards the chunk from the already filtered
// fields, and steps the merge field to the next candidate at most once.
func (s *Syncer) syncChunk(ctx context.Context, table, mergeField string, idxs []int, records []OutgoingRecord, working []map[string]any, mergeCandidates []string, outcomes []Outcome) {
	pending := append([]int(nil), idxs...)
	currentMerge := mergeField
	switched := false

	buildPayload := func() []map[string]any {
		payload := make([]map[string]any, 0, len(pending))
		for _, i := range pending {
			payload = append(payload, working[i])
		}
		return payload
	}

	var result *airtable.UpsertResult

	err := s.retrier.Do(ctx, "sync."+table,
		func(ctx context.Context) error {
			payload := buildPayload()
			if len(payload) == 0 {
				return nil
			}

			var err error
			if currentMerge == "" {
				result, err = s.store.BatchCreate(ctx, table, payload)
			} else {
				result, err = s.store.BatchUpsert(ctx, table, []string{currentMerge}, payload)
			}
			return err
		},
		func(ctx context.Context) error {
			fresh, err := s.schemas.Get(ctx, table, true)
			if err != nil {
				return err
			}

			// Re-guard against the fresh snapshot; records that drifted to
			// empty drop out of the chunk with their own outcome.
			kept := pending[:0]
			for _, i := range pending {
				clean, dropped := FilterFields(working[i], fresh)
				if len(dropped) > 0 {
					outcomes[i].DroppedFields = mergeDropped(outcomes[i].DroppedFields, dropped)
				}
				if len(clean) == 0 {
					outcomes[i].Action = ActionSkipped
					outcomes[i].Err = fmt.Errorf("%w (external_key=%s)", ErrEmptyRecord, records[i].ExternalKey)
					continue
				}
				working[i] = clean
				kept = append(kept, i)
			}
			pending = kept

			if currentMerge != "" && !fresh.Allows(currentMerge) && !switched {
				next := nextMergeField(currentMerge, mergeCandidates, fresh)
				s.logger.Warn("Merge field lost to schema drift, falling back",
					"table", table, "from", currentMerge, "to", next)
				currentMerge = next
				switched = true
				for _, i := range pending {
					outcomes[i].MergeField = next
				}
			}
			return nil
		},
	)

	if err != nil {
		for _, i := range pending {
			outcomes[i].Err = err
		}
		return
	}

	applyResult(result, pending, outcomes)
}

// applyResult maps the store's response back onto the chunk. The write API
// returns records in request order, so index zip is safe.
func applyResult(result *airtable.UpsertResult, pending []int, outcomes []Outcome) {
	if result == nil {
		return
	}

	created := make(map[string]bool, len(result.CreatedIDs))
	for _, id := range result.CreatedIDs {
		created[id] = true
	}
	updated := make(map[string]bool, len(result.UpdatedIDs))
	for _, id := range result.UpdatedIDs {
		updated[id] = true
	}

	for pos, i := range pending {
		if pos >= len(result.Records) {
			break
		}
		remoteID := result.Records[pos].ID
		outcomes[i].RemoteID = remoteID
		switch {
		case created[remoteID]:
			outcomes[i].Action = ActionCreated
		case updated[remoteID]:
			outcomes[i].Action = ActionUpdated
		case len(result.CreatedIDs) == 0 && len(result.UpdatedIDs) == 0:
			// Plain create responses carry no id lists
			outcomes[i].Action = ActionCreated
		default:
			outcomes[i].Action = ActionUpdated
		}
	}
}

// RecordUpdate targets an existing remote row by id.
type RecordUpdate struct {
	RemoteID string
	Fields   map[string]any
}

// Update patches existing rows in place, guarding fields the same way Upsert
// does. The returned outcomes align 1:1 with updates.
func (s *Syncer) Update(ctx context.Context, table string, updates []RecordUpdate) ([]Outcome, error) {
	outcomes := make([]Outcome, len(updates))
	for i, u := range updates {
		outcomes[i].ExternalKey = u.RemoteID
		outcomes[i].RemoteID = u.RemoteID
	}
	if len(updates) == 0 {
		return outcomes, nil
	}

	sch, err := s.schemas.Get(ctx, table, false)
	if err != nil {
		return nil, err
	}

	working := make([]map[string]any, len(updates))
	var live []int
	for i, u := range updates {
		clean, dropped := FilterFields(u.Fields, sch)
		outcomes[i].DroppedFields = dropped
		if len(clean) == 0 {
			outcomes[i].Action = ActionSkipped
			outcomes[i].Err = fmt.Errorf("%w (remote_id=%s)", ErrEmptyRecord, u.RemoteID)
			continue
		}
		working[i] = clean
		live = append(live, i)
	}

	for start := 0; start < len(live); start += s.batchSize {
		end := min(start+s.batchSize, len(live))
		s.updateChunk(ctx, table, live[start:end], updates, working, outcomes)
	}
	return outcomes, nil
}

func (s *Syncer) updateChunk(ctx context.Context, table string, idxs []int, updates []RecordUpdate, working []map[string]any, outcomes []Outcome) {
	pending := append([]int(nil), idxs...)

	err := s.retrier.Do(ctx, "sync."+table,
		func(ctx context.Context) error {
			if len(pending) == 0 {
				return nil
			}
			patches := make([]airtable.RecordPatch, 0, len(pending))
			for _, i := range pending {
				patches = append(patches, airtable.RecordPatch{ID: updates[i].RemoteID, Fields: working[i]})
			}
			_, err := s.store.BatchUpdate(ctx, table, patches)
			return err
		},
		func(ctx context.Context) error {
			fresh, err := s.schemas.Get(ctx, table, true)
			if err != nil {
				return err
			}

			kept := pending[:0]
			for _, i := range pending {
				clean, dropped := FilterFields(working[i], fresh)
				if len(dropped) > 0 {
					outcomes[i].DroppedFields = mergeDropped(outcomes[i].DroppedFields, dropped)
				}
				if len(clean) == 0 {
					outcomes[i].Action = ActionSkipped
					outcomes[i].Err = fmt.Errorf("%w (remote_id=%s)", ErrEmptyRecord, updates[i].RemoteID)
					continue
				}
				working[i] = clean
				kept = append(kept, i)
			}
			pending = kept
			return nil
		},
	)

	if err != nil {
		for _, i := range pending {
			outcomes[i].Err = err
		}
		return
	}
	for _, i := range pending {
		outcomes[i].Action = ActionUpdated
	}
}

func resolveMergeField(fields map[string]any, candidates []string, sch *schema.TableSchema) string {
	for _, c := range candidates {
		if !sch.Allows(c) {
			continue
		}
		if v, ok := fields[c]; ok && v != nil && v != "" {
			return c
		}
	}
	return ""
}

// nextMergeField returns the first allowed candidate after current, falling
// back to a plain create when the list is out.
func nextMergeField(current string, candidates []string, sch *schema.TableSchema) string {
	past := false
	for _, c := range candidates {
		if c == current {
			past = true
			continue
		}
		if past && sch.Allows(c) {
			return c
		}
	}
	return ""
}

func mergeDropped(existing, add []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, d := range existing {
		seen[d] = true
	}
	for _, d := range add {
		if !seen[d] {
			existing = append(existing, d)
			seen[d] = true
		}
	}
	return existing
}
