package service

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
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type revertCall struct {
	ids  []int64
	note string
}

type fakeRepo struct {
	jobs       []models.SyncJob
	fetchErr   error
	publishErr map[int64]error
	published  []int64
	failed     map[int64]string
	reverts    []revertCall
}

func (f *fakeRepo) FetchAndClaim(ctx context.Context, batchSize int) ([]models.SyncJob, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.jobs, nil
}

func (f *fakeRepo) MarkPublished(ctx context.Context, id int64) error {
	if err := f.publishErr[id]; err != nil {
		return err
	}
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailed(ctx context.Context, id int64, errLog string) error {
	if f.failed == nil {
		f.failed = make(map[int64]string)
	}
	f.failed[id] = errLog
	return nil
}

func (f *fakeRepo) MarkManyAsPending(ctx context.Context, ids []int64, note string) error {
	f.reverts = append(f.reverts, revertCall{ids: ids, note: note})
	return nil
}

type publishCall struct {
	routingKey string
	msg        models.SyncJobMessage
}

type fakeBroker struct {
	calls []publishCall
	errAt map[int]error
}

func (f *fakeBroker) Publish(ctx context.Context, routingKey string, msg models.SyncJobMessage) error {
	i := len(f.calls)
	f.calls = append(f.calls, publishCall{routingKey: routingKey, msg: msg})
	return f.errAt[i]
}

func queuedJob(id int64, table, op string) models.SyncJob {
	return models.SyncJob{
		ID:            id,
		CorrelationID: fmt.Sprintf("corr-%d", id),
		TableName:     table,
		Operation:     op,
		Records:       json.RawMessage(`[{"external_key":"L-1","fields":{"Score":10}}]`),
	}
}

func TestProcessNextBatch_EmptyQueue(t *testing.T) {
	repo := &fakeRepo{}
	broker := &fakeBroker{}
	svc := NewRelayService(repo, broker, quietLogger())

	err := svc.ProcessNextBatch(context.Background(), 100)
	require.NoError(t, err)
	assert.Empty(t, broker.calls)
}

func TestProcessNextBatch_FetchFailure(t *testing.T) {
	cause := errors.New("connection reset")
	repo := &fakeRepo{fetchErr: cause}
	svc := NewRelayService(repo, &fakeBroker{}, quietLogger())

	err := svc.ProcessNextBatch(context.Background(), 100)
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "fetch failure")
}

func TestProcessNextBatch_PublishesAndCheckpoints(t *testing.T) {
	repo := &fakeRepo{jobs: []models.SyncJob{
		queuedJob(1, " Leads_REI ", models.OpUpsert),
		queuedJob(2, "Buyers", models.OpUpdate),
	}}
	broker := &fakeBroker{}
	svc := NewRelayService(repo, broker, quietLogger())

	err := svc.ProcessNextBatch(context.Background(), 100)
	require.NoError(t, err)

	require.Len(t, broker.calls, 2)
	assert.Equal(t, "sync.leads_rei.upsert", broker.calls[0].routingKey)
	assert.Equal(t, "sync.buyers.update", broker.calls[1].routingKey)

	// Envelope carries the row untouched; only the routing key is normalized
	msg := broker.calls[0].msg
	assert.Equal(t, "corr-1", msg.CorrelationID)
	assert.Equal(t, " Leads_REI ", msg.TableName)
	assert.JSONEq(t, `[{"external_key":"L-1","fields":{"Score":10}}]`, string(msg.Records))

	assert.Equal(t, []int64{1, 2}, repo.published)
	assert.Empty(t, repo.reverts)
}

func TestProcessNextBatch_InvalidMetadataFailsFast(t *testing.T) {
	repo := &fakeRepo{jobs: []models.SyncJob{
		queuedJob(1, "", models.OpUpsert),
		queuedJob(2, "Leads_REI", "delete"),
		queuedJob(3, "Leads_REI", models.OpUpsert),
	}}
	broker := &fakeBroker{}
	svc := NewRelayService(repo, broker, quietLogger())

	err := svc.ProcessNextBatch(context.Background(), 100)
	require.NoError(t, err)

	assert.Equal(t, "invalid_metadata", repo.failed[1])
	assert.Equal(t, "invalid_metadata", repo.failed[2])
	require.Len(t, broker.calls, 1)
	assert.Equal(t, []int64{3}, repo.published)
}

func TestProcessNextBatch_BrokerFailureRevertsRemainder(t *testing.T) {
	cause := errors.New("channel closed")
	repo := &fakeRepo{jobs: []models.SyncJob{
		queuedJob(1, "Leads_REI", models.OpUpsert),
		queuedJob(2, "Leads_REI", models.OpUpsert),
		queuedJob(3, "Leads_REI", models.OpUpsert),
	}}
	broker := &fakeBroker{errAt: map[int]error{1: cause}}
	svc := NewRelayService(repo, broker, quietLogger())

	err := svc.ProcessNextBatch(context.Background(), 100)
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "broker failure")

	assert.Equal(t, []int64{1}, repo.published)
	require.Len(t, repo.reverts, 1)
	assert.Equal(t, revertCall{ids: []int64{2, 3}, note: "broker_offline"}, repo.reverts[0])
}

func TestProcessNextBatch_CheckpointFailureRevertsRest(t *testing.T) {
	cause := errors.New("write timeout")
	repo := &fakeRepo{
		jobs: []models.SyncJob{
			queuedJob(1, "Leads_REI", models.OpUpsert),
			queuedJob(2, "Leads_REI", models.OpUpsert),
			queuedJob(3, "Leads_REI", models.OpUpsert),
		},
		publishErr: map[int64]error{1: cause},
	}
	broker := &fakeBroker{}
	svc := NewRelayService(repo, broker, quietLogger())

	err := svc.ProcessNextBatch(context.Background(), 100)
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "db checkpoint failure")

	require.Len(t, broker.calls, 1)
	require.Len(t, repo.reverts, 1)
	assert.Equal(t, revertCall{ids: []int64{2, 3}, note: "db_checkpoint_failure"}, repo.reverts[0])
}

func TestProcessNextBatch_CheckpointFailureOnFinalJobSkipsRevert(t *testing.T) {
	repo := &fakeRepo{
		jobs:       []models.SyncJob{queuedJob(1, "Leads_REI", models.OpUpsert)},
		publishErr: map[int64]error{1: errors.New("write timeout")},
	}
	svc := NewRelayService(repo, &fakeBroker{}, quietLogger())

	err := svc.ProcessNextBatch(context.Background(), 100)
	require.Error(t, err)
	assert.Empty(t, repo.reverts)
}

func TestProcessNextBatch_ShutdownRevertsAll(t *testing.T) {
	repo := &fakeRepo{jobs: []models.SyncJob{
		queuedJob(1, "Leads_REI", models.OpUpsert),
		queuedJob(2, "Leads_REI", models.OpUpsert),
	}}
	broker := &fakeBroker{}
	svc := NewRelayService(repo, broker, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := svc.ProcessNextBatch(ctx, 100)
	require.ErrorIs(t, err, context.Canceled)

	assert.Empty(t, broker.calls)
	require.Len(t, repo.reverts, 1)
	assert.Equal(t, revertCall{ids: []int64{1, 2}, note: "graceful_shutdown"}, repo.reverts[0])
}
