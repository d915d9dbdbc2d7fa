package schema

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/airtable"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/retry"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/pkg/metrics"
)

// ErrTableNotFound marks a table that exists in nobody's metadata. It rides
// inside a FetchError.
var ErrTableNotFound = errors.New("table not found in base metadata")

// FetchError reports that a usable schema for Table could not be obtained,
// either because the Meta API stayed unreachable through every retry or
// because the base does not contain the table at all.
type FetchError struct {
	Table string
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("schema: fetch for table %q failed: %v", e.Table, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// TableSchema is an immutable snapshot of one table's columns. Lookups work by
// field name or field id, mirroring what the write API accepts.
type TableSchema struct {
	Table     string
	TableID   string
	NameToID  map[string]string
	IDToName  map[string]string
	FetchedAt time.Time
}

// Allows reports whether key is a known field name or field id.
func (s *TableSchema) Allows(key string) bool {
	if _, ok := s.NameToID[key]; ok {
		return true
	}
	_, ok := s.IDToName[key]
	return ok
}

// FieldNames returns the column names sorted for stable display.
func (s *TableSchema) FieldNames() []string {
	names := make([]string, 0, len(s.NameToID))
	for n := range s.NameToID {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// MetaLister is the slice of the store client the cache needs.
type MetaLister interface {
	ListTables(ctx context.Context) ([]airtable.TableMeta, error)
}

// Cache holds per-table schema snapshots with a TTL. Snapshots are replaced
// wholesale, never mutated, so a reader holding a *TableSchema is always
// looking at a consistent column set. State is process-local; a restart
// simply refetches.
type Cache struct {
	meta    MetaLister
	retrier *retry.Controller
	ttl     time.Duration
	logger  *slog.Logger

	now func() time.Time

	mu      sync.RWMutex
	entries map[string]*TableSchema
}

func NewCache(meta MetaLister, retrier *retry.Controller, ttl time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		meta:    meta,
		retrier: retrier,
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]*TableSchema),
	}
}

// Get returns the schema for table, fetching from the Meta API when the cached
// snapshot is absent, older than the TTL, or force is set. The network fetch
// runs outside the lock; concurrent callers may fetch twice and the last swap
// wins, which is harmless because snapshots are immutable.
func (c *Cache) Get(ctx context.Context, table string, force bool) (*TableSchema, error) {
	if !force {
		c.mu.RLock()
		cached := c.entries[table]
		c.mu.RUnlock()

		if cached != nil && c.now().Sub(cached.FetchedAt) < c.ttl {
			return cached, nil
		}
	}

	snapshot, err := c.fetch(ctx, table)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[table] = snapshot
	c.mu.Unlock()

	metrics.SchemaRefreshes.WithLabelValues(table, strconv.FormatBool(force)).Inc()
	c.logger.Debug("Schema snapshot refreshed", "table", table, "fields", len(snapshot.NameToID), "forced", force)
	return snapshot, nil
}

func (c *Cache) fetch(ctx context.Context, table string) (*TableSchema, error) {
	var tables []airtable.TableMeta

	err := c.retrier.Do(ctx, "schema.fetch", func(ctx context.Context) error {
		var err error
		tables, err = c.meta.ListTables(ctx)
		return err
	}, nil)
	if err != nil {
		return nil, &FetchError{Table: table, Err: err}
	}

	fetchedAt := c.now()
	for _, t := range tables {
		if t.Name != table && t.ID != table {
			continue
		}

		nameToID := make(map[string]string, len(t.Fields))
		idToName := make(map[string]string, len(t.Fields))
		for _, f := range t.Fields {
			if f.Name == "" || f.ID == "" {
				continue
			}
			nameToID[f.Name] = f.ID
			idToName[f.ID] = f.Name
		}

		return &TableSchema{
			Table:     table,
			TableID:   t.ID,
			NameToID:  nameToID,
			IDToName:  idToName,
			FetchedAt: fetchedAt,
		}, nil
	}

	return nil, &FetchError{Table: table, Err: ErrTableNotFound}
}
