package filters

import (
	"fmt"
	"regexp"
	"time"

	"github.com/Log-Tools/csv-relay/internal/config"
	"github.com/cespare/xxhash/v2"
)

// Rejection names the filter that turned an object away; empty means eligible
type Rejection string

const (
	Eligible           Rejection = ""
	RejectedContainer  Rejection = "container"
	RejectedSelector   Rejection = "selector"
	RejectedDate       Rejection = "date"
	RejectedOtherShard Rejection = "shard"
)

// BlobFilter provides filtering logic for object processing
type BlobFilter struct {
	containers map[string]struct{}
	compiled   []*regexp.Regexp
	minDate    string // YYYY-MM-DD, empty when unbounded
	maxDate    string
	sharding   config.ShardingConfig
}

// NewBlobFilter creates a new blob filter with compiled regex patterns
func NewBlobFilter(cfg *config.FilterConfig, sharding config.ShardingConfig) (*BlobFilter, error) {
	f := &BlobFilter{sharding: sharding}

	if len(cfg.Containers) > 0 {
		f.containers = make(map[string]struct{}, len(cfg.Containers))
		for _, c := range cfg.Containers {
			f.containers[c] = struct{}{}
		}
	}

	for _, pattern := range cfg.Selectors {
		regex, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid selector regex pattern %q: %w", pattern, err)
		}
		f.compiled = append(f.compiled, regex)
	}

	var err error
	if f.minDate, err = parseDate("min_date", cfg.MinDate); err != nil {
		return nil, err
	}
	if f.maxDate, err = parseDate("max_date", cfg.MaxDate); err != nil {
		return nil, err
	}

	if sharding.Enabled && (sharding.ShardsCount <= 0 || sharding.ShardNumber < 0 || sharding.ShardNumber >= sharding.ShardsCount) {
		return nil, fmt.Errorf("invalid sharding: shard %d of %d", sharding.ShardNumber, sharding.ShardsCount)
	}

	return f, nil
}

func parseDate(name string, value *string) (string, error) {
	if value == nil || *value == "" {
		return "", nil
	}
	d, err := time.Parse("2006-01-02", *value)
	if err != nil {
		return "", fmt.Errorf("%s must be in YYYY-MM-DD format: %w", name, err)
	}
	return d.Format("2006-01-02"), nil
}

// Check applies every filter in order and returns the first one that rejects the object
func (f *BlobFilter) Check(container, blobName string, eventTime time.Time) Rejection {
	if !f.matchesContainerFilter(container) {
		return RejectedContainer
	}
	if !f.matchesSelectorFilter(blobName) {
		return RejectedSelector
	}
	if !f.matchesDateFilter(eventTime) {
		return RejectedDate
	}
	if !f.matchesShardingFilter(container, blobName) {
		return RejectedOtherShard
	}
	return Eligible
}

// ShouldProcess determines if an object should be processed based on all filters
func (f *BlobFilter) ShouldProcess(container, blobName string, eventTime time.Time) bool {
	return f.Check(container, blobName, eventTime) == Eligible
}

func (f *BlobFilter) matchesContainerFilter(container string) bool {
	if f.containers == nil {
		return true
	}
	_, ok := f.containers[container]
	return ok
}

// matchesSelectorFilter checks if the blob name matches any selector regex
func (f *BlobFilter) matchesSelectorFilter(blobName string) bool {
	if len(f.compiled) == 0 {
		return true
	}
	for _, regex := range f.compiled {
		if regex.MatchString(blobName) {
			return true
		}
	}
	return false
}

// matchesDateFilter compares the UTC calendar date of the event; a missing time passes
func (f *BlobFilter) matchesDateFilter(eventTime time.Time) bool {
	if eventTime.IsZero() {
		return true
	}
	day := eventTime.UTC().Format("2006-01-02")
	if f.minDate != "" && day < f.minDate {
		return false
	}
	if f.maxDate != "" && day > f.maxDate {
		return false
	}
	return true
}

func (f *BlobFilter) matchesShardingFilter(container, blobName string) bool {
	if !f.sharding.Enabled {
		return true
	}
	return ShardFor(container, blobName, f.sharding.ShardsCount) == f.sharding.ShardNumber
}

// ShardFor returns the shard owning an object. Every worker computes the same answer.
func ShardFor(container, blobName string, shards int) int {
	if shards <= 1 {
		return 0
	}
	return int(xxhash.Sum64String(container+"/"+blobName) % uint64(shards))
}
