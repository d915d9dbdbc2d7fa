package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// LimitReason says which guardrail rejected a dispatch.
type LimitReason string

const (
	ReasonGlobal    LimitReason = "global_limit"
	ReasonBucket    LimitReason = "bucket_limit"
	ReasonCooldown  LimitReason = "cooldown"
	ReasonFrequency LimitReason = "frequency"
)

// LimitError is the normal-control-flow rejection of a dispatch. Callers skip
// the send and leave the record queued; nothing about it is exceptional.
type LimitError struct {
	Reason      LimitReason
	Bucket      string
	Destination string
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("quota: %s rejected by %s (bucket=%s)", e.Destination, e.Reason, e.Bucket)
}

// IsLimit reports whether err is a quota rejection.
func IsLimit(err error) bool {
	var le *LimitError
	return errors.As(err, &le)
}

// BudgetStore persists per-day per-bucket send counters. Reserve must be a
// single atomic compare-and-increment: it claims one slot only when both the
// bucket count and the day total are under their caps, and reports whether the
// claim happened. Counters survive restarts.
type BudgetStore interface {
	Reserve(ctx context.Context, day, bucket string, bucketLimit, globalLimit int) (bool, error)
	Release(ctx context.Context, day, bucket string) error
	Usage(ctx context.Context, day string) (map[string]int, error)
}

// TouchStore answers contact-history questions from the dispatch log.
// LastContact looks at completed sends only; CountSince counts every attempt
// in the window, sent or failed.
type TouchStore interface {
	LastContact(ctx context.Context, destination string) (time.Time, bool, error)
	CountSince(ctx context.Context, destination string, since time.Time) (int, error)
}

// Engine enforces the outbound contact policy: per-destination cooldown and
// frequency first, then the bucket and global daily budgets.
type Engine struct {
	policy  Policy
	budget  BudgetStore
	touches TouchStore
	logger  *slog.Logger

	// now is swapped out in tests
	now func() time.Time
}

func NewEngine(policy Policy, budget BudgetStore, touches TouchStore, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		policy:  policy,
		budget:  budget,
		touches: touches,
		logger:  logger,
		now:     time.Now,
	}
}

// Policy returns the engine's active policy.
func (e *Engine) Policy() Policy { return e.policy }

// Today returns the current UTC day key. All budget accounting is keyed on
// this string, so the daily reset is nothing more than the date changing.
func (e *Engine) Today() string {
	return e.now().UTC().Format(DayFormat)
}

// Check reserves one send slot for destination in bucket. A nil return means
// the slot is claimed and the caller must either send or Release. A LimitError
// return means the dispatch stays queued; any other error is infrastructure.
func (e *Engine) Check(ctx context.Context, bucket, destination string) error {
	bp, ok := e.policy.Bucket(bucket)
	if !ok {
		return fmt.Errorf("quota: unknown bucket %q", bucket)
	}

	now := e.now().UTC()

	// Cooldown: minimum gap since the destination was last reached
	last, contacted, err := e.touches.LastContact(ctx, destination)
	if err != nil {
		return fmt.Errorf("quota: last contact lookup failed: %w", err)
	}
	if contacted && now.Sub(last) < e.policy.MinCooldown {
		return &LimitError{Reason: ReasonCooldown, Bucket: bucket, Destination: destination}
	}

	// Frequency: total attempts inside the trailing window
	count, err := e.touches.CountSince(ctx, destination, now.Add(-e.policy.Lookback))
	if err != nil {
		return fmt.Errorf("quota: touch count lookup failed: %w", err)
	}
	if count >= e.policy.TouchCeiling {
		return &LimitError{Reason: ReasonFrequency, Bucket: bucket, Destination: destination}
	}

	// Budget: one atomic slot claim under both caps
	day := now.Format(DayFormat)
	claimed, err := e.budget.Reserve(ctx, day, bucket, bp.DailyLimit, e.policy.GlobalDailyLimit)
	if err != nil {
		return fmt.Errorf("quota: budget reserve failed: %w", err)
	}
	if claimed {
		return nil
	}

	// The atomic claim cannot say which cap bound it, so read usage purely
	// for the rejection label.
	reason := ReasonBucket
	if usage, err := e.budget.Usage(ctx, day); err == nil {
		total := 0
		for _, n := range usage {
			total += n
		}
		if total >= e.policy.GlobalDailyLimit {
			reason = ReasonGlobal
		}
	}
	return &LimitError{Reason: reason, Bucket: bucket, Destination: destination}
}

// Release rolls back a reserved slot after a failed send so the budget only
// counts contacts that actually went out.
func (e *Engine) Release(ctx context.Context, bucket string) error {
	return e.budget.Release(ctx, e.Today(), bucket)
}

// Remaining reports unspent slots per bucket plus the GLOBAL row, for metrics
// and the ops CLI.
func (e *Engine) Remaining(ctx context.Context) (map[string]int, error) {
	usage, err := e.budget.Usage(ctx, e.Today())
	if err != nil {
		return nil, err
	}

	out := make(map[string]int, len(e.policy.Buckets)+1)
	total := 0
	for _, b := range e.policy.Buckets {
		used := usage[b.Name]
		total += used
		out[b.Name] = max(b.DailyLimit-used, 0)
	}
	out["GLOBAL"] = max(e.policy.GlobalDailyLimit-total, 0)
	return out, nil
}
