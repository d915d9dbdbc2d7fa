package models

import "time"

// Dispatch lifecycle states. queued and sending are transient; sent and failed
// are terminal and a record never leaves a terminal state.
const (
	DispatchQueued  = "queued"
	DispatchSending = "sending"
	DispatchSent    = "sent"
	DispatchFailed  = "failed"
)

// Outbound buckets. Every dispatch belongs to exactly one bucket and each bucket
// owns a fixed slice of the global daily contact limit.
const (
	BucketInbound    = "INBOUND"
	BucketWarmMarket = "WARM_MARKET"
	BucketColdList   = "COLD_LIST"
	BucketGovConFeed = "GOVCON_FEED"
)

// Dispatch is a row of the durable dispatch log (outbound_dispatches). Key is the
// deterministic idempotency key, so re-enqueueing the same contact/campaign pair
// is a visible no-op.
type Dispatch struct {
	Key          string     `db:"key"`
	RunID        string     `db:"run_id"`
	Campaign     string     `db:"campaign"`
	Bucket       string     `db:"bucket"`
	Destination  string     `db:"destination"`
	Body         string     `db:"body"`
	FallbackBody string     `db:"fallback_body"`
	Status       string     `db:"status"`
	ProviderID   string     `db:"provider_msg_id"`
	ErrorLog     string     `db:"error_log"`
	Attempts     int        `db:"attempts"`
	CreatedAt    time.Time  `db:"created_at"`
	SentAt       *time.Time `db:"sent_at"`
}
