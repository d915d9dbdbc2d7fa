package models

import "encoding/json"

// Sync job lifecycle states. A job moves pending -> publishing -> published on the
// happy path. The relay janitor moves exhausted jobs to dead; the feedback
// consumer moves remotely rejected jobs to failed.
const (
	JobStatusPending    = "pending"
	JobStatusPublishing = "publishing"
	JobStatusPublished  = "published"
	JobStatusFailed     = "failed"
	JobStatusDead       = "dead"
)

// Remote write operations carried by a sync job.
const (
	OpUpsert = "upsert"
	OpCreate = "create"
	OpUpdate = "update"
)

// SyncJob is a row of the durable write-queue (sync_jobs). Engines enqueue jobs,
// the relay ships them to the broker, syncd applies them to the remote store.
type SyncJob struct {
	ID            int64           `db:"id"`
	CorrelationID string          `db:"correlation_id"`
	TableName     string          `db:"table_name"`
	Operation     string          `db:"operation"`
	MergeFields   []string        `db:"merge_fields"`
	Records       json.RawMessage `db:"records"`
	Attempts      int             `db:"attempts"`
}

// EstimateBytes approximates the in-memory weight of a claimed job so the relay
// can warn about heavy batches before they hit the broker.
func (j SyncJob) EstimateBytes() int {
	return len(j.Records) + len(j.CorrelationID) + len(j.TableName) + 64
}

// Message converts the row to its wire envelope.
func (j SyncJob) Message() SyncJobMessage {
	return SyncJobMessage{
		CorrelationID: j.CorrelationID,
		TableName:     j.TableName,
		Operation:     j.Operation,
		MergeFields:   j.MergeFields,
		Records:       j.Records,
		Attempts:      j.Attempts,
	}
}

// SyncJobMessage is the JSON envelope published to RabbitMQ. It carries the full
// job so syncd never has to read the relay's database.
type SyncJobMessage struct {
	CorrelationID string          `json:"correlation_id"`
	TableName     string          `json:"table_name"`
	Operation     string          `json:"operation"`
	MergeFields   []string        `json:"merge_fields,omitempty"`
	Records       json.RawMessage `json:"records"`
	Attempts      int             `json:"attempts"`
}

// RecordPayload is one outgoing record inside SyncJobMessage.Records. ExternalKey
// is correlation metadata for logs and outcomes, it is never written remotely.
type RecordPayload struct {
	ExternalKey string         `json:"external_key,omitempty"`
	Fields      map[string]any `json:"fields"`
}

// MarshalRecords encodes payloads for SyncJob.Records and SyncJobMessage.Records.
func MarshalRecords(payloads []RecordPayload) (json.RawMessage, error) {
	return json.Marshal(payloads)
}

// IsValidOperation reports whether op is one of the supported remote writes.
func IsValidOperation(op string) bool {
	return op == OpUpsert || op == OpCreate || op == OpUpdate
}
