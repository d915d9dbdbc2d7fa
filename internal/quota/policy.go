package quota

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/models"
)

// DayFormat keys budget rows. Days are UTC calendar days; the rollover to a
// new day happens the moment the formatted string changes.
const DayFormat = "2006-01-02"

// BucketPolicy is one bucket's slice of the global daily limit.
type BucketPolicy struct {
	Name       string `yaml:"name"`
	DailyLimit int    `yaml:"daily_limit"`
}

// Policy is the full outbound contact policy. Bucket allocation comes from the
// quota file (or the built-in default); the cadence knobs come from env.
type Policy struct {
	GlobalDailyLimit int            `yaml:"global_daily_limit"`
	Buckets          []BucketPolicy `yaml:"buckets"`

	MinCooldown  time.Duration `yaml:"-"`
	Lookback     time.Duration `yaml:"-"`
	TouchCeiling int           `yaml:"-"`
}

// DefaultPolicy is the shipped allocation: 100 contacts per day split
// 40/30/20/10 across the four buckets, 7 day cooldown, at most 3 touches in
// any trailing 7 days.
func DefaultPolicy() Policy {
	return Policy{
		GlobalDailyLimit: 100,
		Buckets: []BucketPolicy{
			{Name: models.BucketInbound, DailyLimit: 40},
			{Name: models.BucketWarmMarket, DailyLimit: 30},
			{Name: models.BucketColdList, DailyLimit: 20},
			{Name: models.BucketGovConFeed, DailyLimit: 10},
		},
		MinCooldown:  7 * 24 * time.Hour,
		Lookback:     7 * 24 * time.Hour,
		TouchCeiling: 3,
	}
}

// LoadPolicyFile parses a quota file. The caller decides what a missing file
// means (callers fall back to DefaultPolicy) and fills the cadence fields.
func LoadPolicyFile(path string) (Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, err
	}

	var p Policy
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Policy{}, fmt.Errorf("quota: failed to parse policy file %s: %w", path, err)
	}
	return p, nil
}

// Validate rejects policies that could over- or under-allocate silently.
// A bucket sum below the global limit is legal (slack stays unused), a sum
// above it is not.
func (p Policy) Validate() error {
	if p.GlobalDailyLimit < 1 {
		return fmt.Errorf("quota: global_daily_limit must be positive, got %d", p.GlobalDailyLimit)
	}
	if len(p.Buckets) == 0 {
		return fmt.Errorf("quota: at least one bucket is required")
	}

	seen := make(map[string]bool, len(p.Buckets))
	sum := 0
	for _, b := range p.Buckets {
		if b.Name == "" {
			return fmt.Errorf("quota: bucket with empty name")
		}
		if seen[b.Name] {
			return fmt.Errorf("quota: duplicate bucket %q", b.Name)
		}
		seen[b.Name] = true
		if b.DailyLimit < 1 {
			return fmt.Errorf("quota: bucket %q daily_limit must be positive, got %d", b.Name, b.DailyLimit)
		}
		sum += b.DailyLimit
	}

	if sum > p.GlobalDailyLimit {
		return fmt.Errorf("quota: bucket limits sum to %d, exceeding global_daily_limit %d", sum, p.GlobalDailyLimit)
	}
	return nil
}

// Bucket looks up one bucket's policy by name.
func (p Policy) Bucket(name string) (BucketPolicy, bool) {
	for _, b := range p.Buckets {
		if b.Name == name {
			return b, true
		}
	}
	return BucketPolicy{}, false
}

// BucketNames returns the configured bucket names in declaration order.
func (p Policy) BucketNames() []string {
	names := make([]string, 0, len(p.Buckets))
	for _, b := range p.Buckets {
		names = append(names, b.Name)
	}
	return names
}
