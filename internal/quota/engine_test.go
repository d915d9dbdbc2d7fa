package quota

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/models"
)

type reserveCall struct {
	day, bucket            string
	bucketLimit, globalCap int
}

type fakeBudget struct {
	reserveOK  bool
	reserveErr error
	usage      map[string]int
	usageErr   error
	reserves   []reserveCall
	releases   []string
}

func (f *fakeBudget) Reserve(ctx context.Context, day, bucket string, bucketLimit, globalLimit int) (bool, error) {
	f.reserves = append(f.reserves, reserveCall{day, bucket, bucketLimit, globalLimit})
	return f.reserveOK, f.reserveErr
}

func (f *fakeBudget) Release(ctx context.Context, day, bucket string) error {
	f.releases = append(f.releases, day+"/"+bucket)
	return nil
}

func (f *fakeBudget) Usage(ctx context.Context, day string) (map[string]int, error) {
	return f.usage, f.usageErr
}

type fakeTouches struct {
	last      time.Time
	contacted bool
	lastErr   error
	count     int
	countErr  error
	since     time.Time
}

func (f *fakeTouches) LastContact(ctx context.Context, destination string) (time.Time, bool, error) {
	return f.last, f.contacted, f.lastErr
}

func (f *fakeTouches) CountSince(ctx context.Context, destination string, since time.Time) (int, error) {
	f.since = since
	return f.count, f.countErr
}

var frozen = time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)

func newTestEngine(budget *fakeBudget, touches *fakeTouches) *Engine {
	e := NewEngine(DefaultPolicy(), budget, touches, slog.New(slog.NewTextHandler(io.Discard, nil)))
	e.now = func() time.Time { return frozen }
	return e
}

func TestEngineCheck_UnknownBucket(t *testing.T) {
	e := newTestEngine(&fakeBudget{}, &fakeTouches{})

	err := e.Check(context.Background(), "MYSTERY", "+13055550100")
	require.Error(t, err)
	assert.False(t, IsLimit(err))
}

func TestEngineCheck_CooldownRejects(t *testing.T) {
	touches := &fakeTouches{last: frozen.Add(-3 * 24 * time.Hour), contacted: true}
	e := newTestEngine(&fakeBudget{reserveOK: true}, touches)

	err := e.Check(context.Background(), models.BucketWarmMarket, "+13055550100")

	var limit *LimitError
	require.ErrorAs(t, err, &limit)
	assert.Equal(t, ReasonCooldown, limit.Reason)
	assert.Equal(t, models.BucketWarmMarket, limit.Bucket)
	assert.Equal(t, "+13055550100", limit.Destination)
	assert.True(t, IsLimit(err))
}

func TestEngineCheck_CooldownBoundaryPasses(t *testing.T) {
	// Exactly the cooldown gap is old enough to contact again
	touches := &fakeTouches{last: frozen.Add(-7 * 24 * time.Hour), contacted: true}
	budget := &fakeBudget{reserveOK: true}
	e := newTestEngine(budget, touches)

	err := e.Check(context.Background(), models.BucketWarmMarket, "+13055550100")
	require.NoError(t, err)
	assert.Len(t, budget.reserves, 1)
}

func TestEngineCheck_NeverContactedSkipsCooldown(t *testing.T) {
	budget := &fakeBudget{reserveOK: true}
	e := newTestEngine(budget, &fakeTouches{contacted: false})

	require.NoError(t, e.Check(context.Background(), models.BucketInbound, "+13055550100"))
}

func TestEngineCheck_FrequencyCeilingRejects(t *testing.T) {
	touches := &fakeTouches{count: 3}
	e := newTestEngine(&fakeBudget{reserveOK: true}, touches)

	err := e.Check(context.Background(), models.BucketColdList, "+13055550100")

	var limit *LimitError
	require.ErrorAs(t, err, &limit)
	assert.Equal(t, ReasonFrequency, limit.Reason)
	// The window is the trailing lookback from now
	assert.Equal(t, frozen.Add(-7*24*time.Hour), touches.since)
}

func TestEngineCheck_ReservesSlotUnderBothCaps(t *testing.T) {
	budget := &fakeBudget{reserveOK: true}
	e := newTestEngine(budget, &fakeTouches{count: 2})

	err := e.Check(context.Background(), models.BucketInbound, "+13055550100")
	require.NoError(t, err)

	require.Len(t, budget.reserves, 1)
	call := budget.reserves[0]
	assert.Equal(t, "2026-03-14", call.day)
	assert.Equal(t, models.BucketInbound, call.bucket)
	assert.Equal(t, 40, call.bucketLimit)
	assert.Equal(t, 100, call.globalCap)
}

func TestEngineCheck_GlobalExhaustionLabeled(t *testing.T) {
	budget := &fakeBudget{usage: map[string]int{
		models.BucketInbound:    40,
		models.BucketWarmMarket: 30,
		models.BucketColdList:   20,
		models.BucketGovConFeed: 10,
	}}
	e := newTestEngine(budget, &fakeTouches{})

	err := e.Check(context.Background(), models.BucketInbound, "+13055550100")

	var limit *LimitError
	require.ErrorAs(t, err, &limit)
	assert.Equal(t, ReasonGlobal, limit.Reason)
}

func TestEngineCheck_BucketExhaustionLabeled(t *testing.T) {
	budget := &fakeBudget{usage: map[string]int{models.BucketInbound: 40}}
	e := newTestEngine(budget, &fakeTouches{})

	err := e.Check(context.Background(), models.BucketInbound, "+13055550100")

	var limit *LimitError
	require.ErrorAs(t, err, &limit)
	assert.Equal(t, ReasonBucket, limit.Reason)
}

func TestEngineCheck_UsageFailureDefaultsToBucketLabel(t *testing.T) {
	budget := &fakeBudget{usageErr: errors.New("db down")}
	e := newTestEngine(budget, &fakeTouches{})

	err := e.Check(context.Background(), models.BucketInbound, "+13055550100")

	var limit *LimitError
	require.ErrorAs(t, err, &limit)
	assert.Equal(t, ReasonBucket, limit.Reason)
}

func TestEngineCheck_InfrastructureFailuresAreNotLimits(t *testing.T) {
	cases := []struct {
		name    string
		budget  *fakeBudget
		touches *fakeTouches
	}{
		{"last contact lookup", &fakeBudget{}, &fakeTouches{lastErr: errors.New("db down")}},
		{"touch count lookup", &fakeBudget{}, &fakeTouches{countErr: errors.New("db down")}},
		{"budget reserve", &fakeBudget{reserveErr: errors.New("db down")}, &fakeTouches{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestEngine(tc.budget, tc.touches)
			err := e.Check(context.Background(), models.BucketInbound, "+13055550100")
			require.Error(t, err)
			assert.False(t, IsLimit(err))
		})
	}
}

func TestEngineRelease_UsesCurrentDay(t *testing.T) {
	budget := &fakeBudget{}
	e := newTestEngine(budget, &fakeTouches{})

	require.NoError(t, e.Release(context.Background(), models.BucketInbound))
	assert.Equal(t, []string{"2026-03-14/INBOUND"}, budget.releases)
}

func TestEngineRemaining_ReportsPerBucketAndGlobal(t *testing.T) {
	budget := &fakeBudget{usage: map[string]int{
		models.BucketInbound:    10,
		models.BucketWarmMarket: 35,
	}}
	e := newTestEngine(budget, &fakeTouches{})

	remaining, err := e.Remaining(context.Background())
	require.NoError(t, err)

	assert.Equal(t, map[string]int{
		models.BucketInbound:    30,
		models.BucketWarmMarket: 0,
		models.BucketColdList:   20,
		models.BucketGovConFeed: 10,
		"GLOBAL":                55,
	}, remaining)
}

func TestEngineToday_UTCDayKey(t *testing.T) {
	e := newTestEngine(&fakeBudget{}, &fakeTouches{})
	assert.Equal(t, "2026-03-14", e.Today())
}
