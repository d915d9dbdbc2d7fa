package schema

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/airtable"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/retry"
)

type fakeLister struct {
	tables []airtable.TableMeta
	err    error
	calls  int
}

func (f *fakeLister) ListTables(ctx context.Context) ([]airtable.TableMeta, error) {
	f.calls++
	return f.tables, f.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCache(lister *fakeLister, ttl time.Duration) *Cache {
	retrier := retry.NewController(1, time.Millisecond, quietLogger())
	return NewCache(lister, retrier, ttl, quietLogger())
}

func leadsMeta() []airtable.TableMeta {
	return []airtable.TableMeta{
		{
			ID:   "tblLeads",
			Name: "Leads_REI",
			Fields: []airtable.FieldMeta{
				{ID: "fldScore", Name: "Score", Type: "number"},
				{ID: "fldStatus", Name: "Status", Type: "singleSelect"},
				{ID: "", Name: "Orphaned"},
				{ID: "fldNameless", Name: ""},
			},
		},
		{ID: "tblBuyers", Name: "Buyers"},
	}
}

func TestCacheGet_BuildsSnapshot(t *testing.T) {
	lister := &fakeLister{tables: leadsMeta()}
	cache := newTestCache(lister, time.Minute)

	sch, err := cache.Get(context.Background(), "Leads_REI", false)
	require.NoError(t, err)

	assert.Equal(t, "tblLeads", sch.TableID)
	assert.True(t, sch.Allows("Score"))
	assert.True(t, sch.Allows("fldStatus"))
	assert.False(t, sch.Allows("Orphaned"))
	assert.False(t, sch.Allows("Unknown"))
	assert.Equal(t, []string{"Score", "Status"}, sch.FieldNames())
}

func TestCacheGet_ServesFromCacheWithinTTL(t *testing.T) {
	lister := &fakeLister{tables: leadsMeta()}
	cache := newTestCache(lister, time.Minute)

	first, err := cache.Get(context.Background(), "Leads_REI", false)
	require.NoError(t, err)
	second, err := cache.Get(context.Background(), "Leads_REI", false)
	require.NoError(t, err)

	assert.Equal(t, 1, lister.calls)
	assert.Same(t, first, second)
}

func TestCacheGet_RefetchesAfterTTL(t *testing.T) {
	lister := &fakeLister{tables: leadsMeta()}
	cache := newTestCache(lister, time.Minute)

	base := time.Now()
	cache.now = func() time.Time { return base }

	_, err := cache.Get(context.Background(), "Leads_REI", false)
	require.NoError(t, err)

	cache.now = func() time.Time { return base.Add(2 * time.Minute) }

	_, err = cache.Get(context.Background(), "Leads_REI", false)
	require.NoError(t, err)
	assert.Equal(t, 2, lister.calls)
}

func TestCacheGet_ForceBypassesFreshSnapshot(t *testing.T) {
	lister := &fakeLister{tables: leadsMeta()}
	cache := newTestCache(lister, time.Minute)

	_, err := cache.Get(context.Background(), "Leads_REI", false)
	require.NoError(t, err)

	_, err = cache.Get(context.Background(), "Leads_REI", true)
	require.NoError(t, err)
	assert.Equal(t, 2, lister.calls)
}

func TestCacheGet_MatchesByTableID(t *testing.T) {
	lister := &fakeLister{tables: leadsMeta()}
	cache := newTestCache(lister, time.Minute)

	sch, err := cache.Get(context.Background(), "tblLeads", false)
	require.NoError(t, err)
	assert.Equal(t, "tblLeads", sch.TableID)
	assert.True(t, sch.Allows("Score"))
}

func TestCacheGet_UnknownTable(t *testing.T) {
	lister := &fakeLister{tables: leadsMeta()}
	cache := newTestCache(lister, time.Minute)

	_, err := cache.Get(context.Background(), "Ghost_Table", false)
	require.Error(t, err)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "Ghost_Table", fetchErr.Table)
	assert.ErrorIs(t, err, ErrTableNotFound)
}

func TestCacheGet_ListerFailureWrapped(t *testing.T) {
	cause := errors.New("meta api down")
	lister := &fakeLister{err: cause}
	cache := newTestCache(lister, time.Minute)

	_, err := cache.Get(context.Background(), "Leads_REI", false)
	require.Error(t, err)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.ErrorIs(t, err, cause)
}
