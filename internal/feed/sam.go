package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/models"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/retry"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/pkg/encoding"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/pkg/metrics"
)

// Notice is one normalized opportunity from the feed. NoticeID is the only
// required field; everything else is best effort across payload dialects.
type Notice struct {
	NoticeID string
	Title    string
	Agency   string
	NAICS    string
	Value    float64
	Deadline string
	POCPhone string
	Link     string
}

// FetchError is a non-2xx reply from the feed endpoint.
type FetchError struct {
	StatusCode int
	Detail     string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("feed: endpoint returned %d: %s", e.StatusCode, e.Detail)
}

// HTTPStatus exposes the status for retry classification.
func (e *FetchError) HTTPStatus() int {
	return e.StatusCode
}

// The feed rejects unbounded queries, so every pull carries a posted-date
// window unless the endpoint already pins one.
const (
	postedDateFormat = "01/02/2006"
	postedWindowDays = 7
)

// Client pulls opportunity notices from a SAM-compatible search endpoint.
// The endpoint's JSON dialect varies between deployments, so parsing probes
// several known envelope shapes instead of binding to one.
type Client struct {
	endpoint string
	apiKey   string
	limit    int
	retrier  *retry.Controller
	http     *http.Client
	logger   *slog.Logger
	now      func() time.Time
}

func NewClient(endpoint, apiKey string, limit int, retrier *retry.Controller, logger *slog.Logger) *Client {
	if limit <= 0 {
		limit = 25
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		limit:    limit,
		retrier:  retrier,
		http:     &http.Client{Timeout: 40 * time.Second},
		logger:   logger,
		now:      time.Now,
	}
}

// Configured reports whether an endpoint is set. Without one the govcon
// engine skips the pull phase and only rescoring runs.
func (c *Client) Configured() bool {
	return c.endpoint != ""
}

// Fetch pulls one page of notices. The total is the endpoint's own count when
// it reports one, otherwise the page length.
func (c *Client) Fetch(ctx context.Context) ([]Notice, int, error) {
	endpoint, err := c.buildURL()
	if err != nil {
		return nil, 0, err
	}

	var raw []byte
	err = c.retrier.Do(ctx, "feed.sam", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("feed: failed to build request: %w", err)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("feed: fetch failed: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 8*1024*1024))
		if err != nil {
			return fmt.Errorf("feed: failed to read response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			detail := string(body)
			if len(detail) > 500 {
				detail = detail[:500]
			}
			return &FetchError{StatusCode: resp.StatusCode, Detail: detail}
		}
		raw = body
		return nil
	}, nil)
	if err != nil {
		return nil, 0, err
	}

	items, total := extractOpportunities(raw)

	notices := make([]Notice, 0, len(items))
	for _, item := range items {
		n := normalize(item)
		if n.NoticeID == "" {
			continue
		}
		notices = append(notices, n)
	}

	if total == 0 {
		total = len(notices)
	}
	metrics.FeedOpportunities.WithLabelValues("sam").Add(float64(len(notices)))
	c.logger.Info("Feed pull complete", "fetched", len(notices), "reported_total", total)

	return notices, total, nil
}

func (c *Client) buildURL(extra ...url.Values) (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("feed: invalid endpoint: %w", err)
	}
	q := u.Query()
	if c.apiKey != "" {
		q.Set("api_key", c.apiKey)
	}
	if q.Get("limit") == "" {
		q.Set("limit", strconv.Itoa(c.limit))
	}
	if q.Get("postedFrom") == "" && q.Get("postedTo") == "" {
		to := c.now().UTC()
		from := to.AddDate(0, 0, -postedWindowDays)
		q.Set("postedFrom", from.Format(postedDateFormat))
		q.Set("postedTo", to.Format(postedDateFormat))
	}
	for _, v := range extra {
		for key, vals := range v {
			for _, val := range vals {
				q.Add(key, val)
			}
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Envelope keys observed across feed deployments. A bare array is also valid.
var (
	listKeys  = []string{"opportunitiesData", "notices", "results", "data", "opportunities"}
	totalKeys = []string{"totalRecords", "total", "count", "numFound"}
)

func extractOpportunities(raw []byte) ([]map[string]any, int) {
	var asList []map[string]any
	if err := json.Unmarshal(raw, &asList); err == nil {
		return asList, len(asList)
	}

	var asObject map[string]any
	if err := json.Unmarshal(raw, &asObject); err != nil {
		return nil, 0
	}

	var items []map[string]any
	for _, key := range listKeys {
		list, ok := asObject[key].([]any)
		if !ok {
			continue
		}
		for _, entry := range list {
			if m, ok := entry.(map[string]any); ok {
				items = append(items, m)
			}
		}
		break
	}

	total := 0
	for _, key := range totalKeys {
		if v, ok := asObject[key]; ok {
			if t := int(models.AsFloat(v)); t > 0 {
				total = t
				break
			}
		}
	}

	return items, total
}

func normalize(item map[string]any) Notice {
	// Titles and agency names come back mojibaked often enough that every
	// free-text field gets repaired on the way in.
	n := Notice{
		NoticeID: firstString(item, "noticeId", "id"),
		Title:    encoding.CleanText(firstString(item, "title", "description")),
		Agency:   encoding.CleanText(firstString(item, "organizationName", "departmentName", "agency", "fullParentPathName")),
		NAICS:    firstString(item, "naicsCode", "ncode"),
		Deadline: firstString(item, "responseDeadLine", "responseDeadline"),
		Link:     firstString(item, "uiLink", "url", "link"),
	}

	n.Value = models.AsFloat(item["awardAmount"])
	if n.Value == 0 {
		if award, ok := item["award"].(map[string]any); ok {
			n.Value = models.AsFloat(award["amount"])
		}
	}

	if n.NAICS == "" {
		if codes, ok := item["naicsCodes"].([]any); ok && len(codes) > 0 {
			if s, ok := codes[0].(string); ok {
				n.NAICS = s
			}
		}
	}

	if contacts, ok := item["pointOfContact"].([]any); ok && len(contacts) > 0 {
		if poc, ok := contacts[0].(map[string]any); ok {
			n.POCPhone = firstString(poc, "phone", "fullName")
		}
	}

	return n
}

func firstString(item map[string]any, keys ...string) string {
	for _, key := range keys {
		if s := models.AsString(item[key]); s != "" {
			return s
		}
	}
	return ""
}
