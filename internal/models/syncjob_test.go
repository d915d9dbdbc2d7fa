package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncJob_MessageCarriesFullJob(t *testing.T) {
	job := SyncJob{
		ID:            42,
		CorrelationID: "rei-score-abc",
		TableName:     "Leads_REI",
		Operation:     OpUpdate,
		MergeFields:   []string{"External_Id"},
		Records:       json.RawMessage(`[{"fields":{"Score":50}}]`),
		Attempts:      2,
	}

	msg := job.Message()

	assert.Equal(t, job.CorrelationID, msg.CorrelationID)
	assert.Equal(t, job.TableName, msg.TableName)
	assert.Equal(t, job.Operation, msg.Operation)
	assert.Equal(t, job.MergeFields, msg.MergeFields)
	assert.Equal(t, job.Records, msg.Records)
	assert.Equal(t, job.Attempts, msg.Attempts)
}

func TestSyncJob_EstimateBytes(t *testing.T) {
	job := SyncJob{
		CorrelationID: "abcd",
		TableName:     "Leads",
		Records:       json.RawMessage(`[{"fields":{}}]`),
	}

	assert.Equal(t, len(job.Records)+4+5+64, job.EstimateBytes())
}

func TestIsValidOperation(t *testing.T) {
	assert.True(t, IsValidOperation(OpUpsert))
	assert.True(t, IsValidOperation(OpCreate))
	assert.True(t, IsValidOperation(OpUpdate))
	assert.False(t, IsValidOperation("delete"))
	assert.False(t, IsValidOperation(""))
	assert.False(t, IsValidOperation("UPSERT"))
}

func TestMarshalRecords_OmitsEmptyExternalKey(t *testing.T) {
	raw, err := MarshalRecords([]RecordPayload{
		{ExternalKey: "L-1", Fields: map[string]any{"Score": 50}},
		{Fields: map[string]any{"Score": 10}},
	})
	require.NoError(t, err)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Len(t, decoded, 2)

	assert.Equal(t, "L-1", decoded[0]["external_key"])
	_, present := decoded[1]["external_key"]
	assert.False(t, present)
}
