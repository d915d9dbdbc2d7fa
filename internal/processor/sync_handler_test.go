package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/models"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/sync"
)

type syncerCall struct {
	op         string
	table      string
	records    []sync.OutgoingRecord
	updates    []sync.RecordUpdate
	candidates []string
}

type fakeSyncer struct {
	calls    []syncerCall
	outcomes []sync.Outcome
	err      error
}

func (f *fakeSyncer) Upsert(ctx context.Context, table string, records []sync.OutgoingRecord, mergeCandidates []string) ([]sync.Outcome, error) {
	f.calls = append(f.calls, syncerCall{op: "upsert", table: table, records: records, candidates: mergeCandidates})
	return f.outcomes, f.err
}

func (f *fakeSyncer) Update(ctx context.Context, table string, updates []sync.RecordUpdate) ([]sync.Outcome, error) {
	f.calls = append(f.calls, syncerCall{op: "update", table: table, updates: updates})
	return f.outcomes, f.err
}

func newTestHandler(syncer *fakeSyncer) *SyncHandler {
	return NewSyncHandler(syncer, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func syncMessage(op string, records string) models.SyncJobMessage {
	return models.SyncJobMessage{
		CorrelationID: "corr-1",
		TableName:     "Leads_REI",
		Operation:     op,
		MergeFields:   []string{"External_Id"},
		Records:       json.RawMessage(records),
	}
}

func TestProcessMessage_RejectsMissingTable(t *testing.T) {
	syncer := &fakeSyncer{}
	h := newTestHandler(syncer)

	msg := syncMessage(models.OpUpsert, `[]`)
	msg.TableName = ""

	err := h.ProcessMessage(context.Background(), msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no table name")
	assert.Empty(t, syncer.calls)
}

func TestProcessMessage_RejectsUnknownOperation(t *testing.T) {
	syncer := &fakeSyncer{}
	h := newTestHandler(syncer)

	err := h.ProcessMessage(context.Background(), syncMessage("delete", `[]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported operation")
	assert.Empty(t, syncer.calls)
}

func TestProcessMessage_RejectsMalformedPayload(t *testing.T) {
	syncer := &fakeSyncer{}
	h := newTestHandler(syncer)

	err := h.ProcessMessage(context.Background(), syncMessage(models.OpUpsert, `{"not":"a list"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "records unmarshal error")
	assert.Empty(t, syncer.calls)
}

func TestProcessMessage_EmptyPayloadIsNoOp(t *testing.T) {
	syncer := &fakeSyncer{}
	h := newTestHandler(syncer)

	err := h.ProcessMessage(context.Background(), syncMessage(models.OpUpsert, `[]`))
	require.NoError(t, err)
	assert.Empty(t, syncer.calls)
}

func TestProcessMessage_UpsertCarriesMergeCandidates(t *testing.T) {
	syncer := &fakeSyncer{outcomes: []sync.Outcome{{ExternalKey: "L-1", Action: sync.ActionCreated}}}
	h := newTestHandler(syncer)

	body := `[{"external_key":"L-1","fields":{"External_Id":"L-1","Score":41.5}}]`
	err := h.ProcessMessage(context.Background(), syncMessage(models.OpUpsert, body))
	require.NoError(t, err)

	require.Len(t, syncer.calls, 1)
	call := syncer.calls[0]
	assert.Equal(t, "upsert", call.op)
	assert.Equal(t, "Leads_REI", call.table)
	assert.Equal(t, []string{"External_Id"}, call.candidates)
	require.Len(t, call.records, 1)
	assert.Equal(t, "L-1", call.records[0].ExternalKey)
	assert.Equal(t, 41.5, call.records[0].Fields["Score"])
}

func TestProcessMessage_CreateDropsMergeCandidates(t *testing.T) {
	syncer := &fakeSyncer{outcomes: []sync.Outcome{{Action: sync.ActionCreated}}}
	h := newTestHandler(syncer)

	body := `[{"fields":{"Score":10}}]`
	err := h.ProcessMessage(context.Background(), syncMessage(models.OpCreate, body))
	require.NoError(t, err)

	require.Len(t, syncer.calls, 1)
	assert.Equal(t, "upsert", syncer.calls[0].op)
	assert.Nil(t, syncer.calls[0].candidates)
}

func TestProcessMessage_UpdateTargetsRemoteIDs(t *testing.T) {
	syncer := &fakeSyncer{outcomes: []sync.Outcome{{RemoteID: "rec123", Action: sync.ActionUpdated}}}
	h := newTestHandler(syncer)

	body := `[{"external_key":"rec123","fields":{"Status":"CONTACTED"}}]`
	err := h.ProcessMessage(context.Background(), syncMessage(models.OpUpdate, body))
	require.NoError(t, err)

	require.Len(t, syncer.calls, 1)
	call := syncer.calls[0]
	assert.Equal(t, "update", call.op)
	require.Len(t, call.updates, 1)
	assert.Equal(t, "rec123", call.updates[0].RemoteID)
	assert.Equal(t, "CONTACTED", call.updates[0].Fields["Status"])
}

func TestProcessMessage_SyncerFailurePassesThrough(t *testing.T) {
	cause := errors.New("schema unavailable")
	syncer := &fakeSyncer{err: cause}
	h := newTestHandler(syncer)

	body := `[{"external_key":"L-1","fields":{"Score":10}}]`
	err := h.ProcessMessage(context.Background(), syncMessage(models.OpUpsert, body))
	assert.ErrorIs(t, err, cause)
}

func TestProcessMessage_GuardedEmptyRecordsAreAcknowledged(t *testing.T) {
	syncer := &fakeSyncer{outcomes: []sync.Outcome{
		{ExternalKey: "L-1", Action: sync.ActionSkipped, Err: fmt.Errorf("%w (external_key=L-1)", sync.ErrEmptyRecord)},
		{ExternalKey: "L-2", Action: sync.ActionCreated},
	}}
	h := newTestHandler(syncer)

	body := `[{"external_key":"L-1","fields":{"Gone":1}},{"external_key":"L-2","fields":{"Score":10}}]`
	err := h.ProcessMessage(context.Background(), syncMessage(models.OpUpsert, body))
	assert.NoError(t, err)
}

func TestProcessMessage_FailedRecordsFailTheMessage(t *testing.T) {
	cause := errors.New("chunk rejected")
	syncer := &fakeSyncer{outcomes: []sync.Outcome{
		{ExternalKey: "L-1", Action: sync.ActionCreated},
		{ExternalKey: "L-2", Err: cause},
	}}
	h := newTestHandler(syncer)

	body := `[{"external_key":"L-1","fields":{"Score":10}},{"external_key":"L-2","fields":{"Score":20}}]`
	err := h.ProcessMessage(context.Background(), syncMessage(models.OpUpsert, body))
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "1 of 2 records failed")
}
