package airtable

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const defaultAPIBase = "https://api.airtable.com"

// Batch writes above this size are rejected by the API with a 422.
const MaxBatchRecords = 10

// Client talks to an Airtable-compatible tabular store. It does no retrying of
// its own; callers wrap operations in the retry controller.
type Client struct {
	// BaseURL is swapped for an httptest server in tests.
	BaseURL string

	baseID string
	apiKey string
	http   *http.Client
	logger *slog.Logger
}

func NewClient(apiKey, baseID string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		BaseURL: defaultAPIBase,
		baseID:  baseID,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

// FieldMeta describes one column of a remote table.
type FieldMeta struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// TableMeta describes one remote table from the Meta API.
type TableMeta struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Fields []FieldMeta `json:"fields"`
}

// Record is one row as returned by the store.
type Record struct {
	ID          string         `json:"id"`
	CreatedTime time.Time      `json:"createdTime"`
	Fields      map[string]any `json:"fields"`
}

// Query narrows a ListRecords call. Zero values are omitted from the request.
type Query struct {
	FilterByFormula string
	View            string
	Fields          []string
	PageSize        int
	MaxRecords      int
}

// UpsertResult is the response to a batch write. CreatedIDs and UpdatedIDs are
// only populated on performUpsert calls.
type UpsertResult struct {
	Records    []Record `json:"records"`
	CreatedIDs []string `json:"createdRecords"`
	UpdatedIDs []string `json:"updatedRecords"`
}

// RecordPatch targets an existing row by id for a partial update.
type RecordPatch struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// ListTables fetches the base schema from the Meta API.
func (c *Client) ListTables(ctx context.Context) ([]TableMeta, error) {
	endpoint := fmt.Sprintf("%s/v0/meta/bases/%s/tables", c.BaseURL, c.baseID)

	var out struct {
		Tables []TableMeta `json:"tables"`
	}
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	return out.Tables, nil
}

// ListRecords pages through a table until the offset cursor is exhausted or
// MaxRecords rows have been collected.
func (c *Client) ListRecords(ctx context.Context, table string, q Query) ([]Record, error) {
	var (
		records []Record
		offset  string
	)

	for {
		endpoint := fmt.Sprintf("%s/v0/%s/%s?%s", c.BaseURL, c.baseID, url.PathEscape(table), c.encodeQuery(q, offset))

		var page struct {
			Records []Record `json:"records"`
			Offset  string   `json:"offset"`
		}
		if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &page); err != nil {
			return nil, err
		}

		records = append(records, page.Records...)

		if q.MaxRecords > 0 && len(records) >= q.MaxRecords {
			return records[:q.MaxRecords], nil
		}
		if page.Offset == "" {
			return records, nil
		}
		offset = page.Offset
	}
}

// BatchUpsert writes up to MaxBatchRecords rows, merging on mergeFields.
// Typecast is always on so numeric strings land in number columns.
func (c *Client) BatchUpsert(ctx context.Context, table string, mergeFields []string, records []map[string]any) (*UpsertResult, error) {
	if len(records) > MaxBatchRecords {
		return nil, fmt.Errorf("airtable: batch of %d exceeds limit of %d", len(records), MaxBatchRecords)
	}

	payload := map[string]any{
		"performUpsert": map[string]any{"fieldsToMergeOn": mergeFields},
		"records":       wrapFields(records),
		"typecast":      true,
	}

	endpoint := fmt.Sprintf("%s/v0/%s/%s", c.BaseURL, c.baseID, url.PathEscape(table))
	var out UpsertResult
	if err := c.doJSON(ctx, http.MethodPost, endpoint, payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// BatchCreate writes up to MaxBatchRecords new rows without merging.
func (c *Client) BatchCreate(ctx context.Context, table string, records []map[string]any) (*UpsertResult, error) {
	if len(records) > MaxBatchRecords {
		return nil, fmt.Errorf("airtable: batch of %d exceeds limit of %d", len(records), MaxBatchRecords)
	}

	payload := map[string]any{
		"records":  wrapFields(records),
		"typecast": true,
	}

	endpoint := fmt.Sprintf("%s/v0/%s/%s", c.BaseURL, c.baseID, url.PathEscape(table))
	var out UpsertResult
	if err := c.doJSON(ctx, http.MethodPost, endpoint, payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// BatchUpdate patches up to MaxBatchRecords existing rows by record id.
func (c *Client) BatchUpdate(ctx context.Context, table string, patches []RecordPatch) (*UpsertResult, error) {
	if len(patches) > MaxBatchRecords {
		return nil, fmt.Errorf("airtable: batch of %d exceeds limit of %d", len(patches), MaxBatchRecords)
	}

	payload := map[string]any{
		"records":  patches,
		"typecast": true,
	}

	endpoint := fmt.Sprintf("%s/v0/%s/%s", c.BaseURL, c.baseID, url.PathEscape(table))
	var out UpsertResult
	if err := c.doJSON(ctx, http.MethodPatch, endpoint, payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) encodeQuery(q Query, offset string) string {
	v := url.Values{}
	if q.FilterByFormula != "" {
		v.Set("filterByFormula", q.FilterByFormula)
	}
	if q.View != "" {
		v.Set("view", q.View)
	}
	for _, f := range q.Fields {
		v.Add("fields[]", f)
	}
	if q.PageSize > 0 {
		v.Set("pageSize", strconv.Itoa(q.PageSize))
	}
	if q.MaxRecords > 0 {
		v.Set("maxRecords", strconv.Itoa(q.MaxRecords))
	}
	if offset != "" {
		v.Set("offset", offset)
	}
	return v.Encode()
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, payload, out any) error {
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("airtable: failed to encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("airtable: failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("airtable: %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(method, endpoint, resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("airtable: failed to decode response: %w", err)
	}
	return nil
}

func wrapFields(records []map[string]any) []map[string]any {
	wrapped := make([]map[string]any, 0, len(records))
	for _, r := range records {
		wrapped = append(wrapped, map[string]any{"fields": r})
	}
	return wrapped
}
