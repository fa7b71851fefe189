package filters

import (
	"fmt"
	"testing"
	"time"

	"github.com/Log-Tools/csv-relay/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var noSharding = config.ShardingConfig{}

func TestNewBlobFilter(t *testing.T) {
	t.Run("creates filter with valid config", func(t *testing.T) {
		cfg := &config.FilterConfig{
			Containers: []string{"reviews", "surveys"},
			Selectors:  []string{`\.csv$`},
			MinDate:    stringPtr("2024-01-01"),
			MaxDate:    stringPtr("2024-12-31"),
		}

		filter, err := NewBlobFilter(cfg, noSharding)
		require.NoError(t, err)
		assert.NotNil(t, filter)
	})

	t.Run("rejects invalid regex in selectors", func(t *testing.T) {
		filter, err := NewBlobFilter(&config.FilterConfig{Selectors: []string{"[invalid-regex"}}, noSharding)
		assert.Error(t, err)
		assert.Nil(t, filter)
	})

	t.Run("rejects invalid date", func(t *testing.T) {
		_, err := NewBlobFilter(&config.FilterConfig{MinDate: stringPtr("invalid-date")}, noSharding)
		assert.Error(t, err)
	})

	t.Run("rejects shard outside range", func(t *testing.T) {
		_, err := NewBlobFilter(&config.FilterConfig{}, config.ShardingConfig{Enabled: true, ShardsCount: 3, ShardNumber: 3})
		assert.Error(t, err)
	})
}

func TestBlobFilter_Check(t *testing.T) {
	testDate := time.Date(2024, 6, 15, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name      string
		cfg       config.FilterConfig
		container string
		blob      string
		eventTime time.Time
		expected  Rejection
	}{
		{
			name:      "empty filter accepts everything",
			container: "reviews",
			blob:      "any.bin",
			eventTime: testDate,
			expected:  Eligible,
		},
		{
			name:      "container not listed",
			cfg:       config.FilterConfig{Containers: []string{"reviews"}},
			container: "archive",
			blob:      "a.csv",
			eventTime: testDate,
			expected:  RejectedContainer,
		},
		{
			name:      "selector mismatch",
			cfg:       config.FilterConfig{Selectors: []string{`\.csv$`}},
			container: "reviews",
			blob:      "a.json",
			eventTime: testDate,
			expected:  RejectedSelector,
		},
		{
			name:      "before min date",
			cfg:       config.FilterConfig{MinDate: stringPtr("2024-07-01")},
			container: "reviews",
			blob:      "a.csv",
			eventTime: testDate,
			expected:  RejectedDate,
		},
		{
			name:      "after max date",
			cfg:       config.FilterConfig{MaxDate: stringPtr("2024-06-14")},
			container: "reviews",
			blob:      "a.csv",
			eventTime: testDate,
			expected:  RejectedDate,
		},
		{
			name:      "missing event time passes date filter",
			cfg:       config.FilterConfig{MinDate: stringPtr("2024-07-01")},
			container: "reviews",
			blob:      "a.csv",
			expected:  Eligible,
		},
		{
			name:      "container checked before selector",
			cfg:       config.FilterConfig{Containers: []string{"reviews"}, Selectors: []string{`\.csv$`}},
			container: "archive",
			blob:      "a.json",
			eventTime: testDate,
			expected:  RejectedContainer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filter, err := NewBlobFilter(&tt.cfg, noSharding)
			require.NoError(t, err)

			assert.Equal(t, tt.expected, filter.Check(tt.container, tt.blob, tt.eventTime))
			assert.Equal(t, tt.expected == Eligible, filter.ShouldProcess(tt.container, tt.blob, tt.eventTime))
		})
	}
}

func TestBlobFilter_DateFiltering(t *testing.T) {
	t.Run("handles edge cases for date filtering", func(t *testing.T) {
		cfg := &config.FilterConfig{
			MinDate: stringPtr("2024-06-15"),
			MaxDate: stringPtr("2024-06-15"),
		}

		filter, err := NewBlobFilter(cfg, noSharding)
		require.NoError(t, err)

		assert.True(t, filter.ShouldProcess("reviews", "a.csv", time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)))
		assert.True(t, filter.ShouldProcess("reviews", "a.csv", time.Date(2024, 6, 15, 23, 59, 59, 0, time.UTC)))
		assert.False(t, filter.ShouldProcess("reviews", "a.csv", time.Date(2024, 6, 14, 23, 59, 59, 0, time.UTC)))
		assert.False(t, filter.ShouldProcess("reviews", "a.csv", time.Date(2024, 6, 16, 0, 0, 1, 0, time.UTC)))
	})

	t.Run("compares in UTC", func(t *testing.T) {
		filter, err := NewBlobFilter(&config.FilterConfig{MinDate: stringPtr("2024-06-15")}, noSharding)
		require.NoError(t, err)

		// 2024-06-15 01:00 in UTC+2 is still the 14th in UTC
		plusTwo := time.FixedZone("UTC+2", 2*60*60)
		assert.False(t, filter.ShouldProcess("reviews", "a.csv", time.Date(2024, 6, 15, 1, 0, 0, 0, plusTwo)))
	})
}

func TestBlobFilter_RegexFiltering(t *testing.T) {
	cfg := &config.FilterConfig{
		Selectors: []string{
			`^exports/\d{4}/\d{2}/.*\.csv$`, // dated export folders
			`^(?i:reviews).*\.csv$`,        // review exports, any case prefix
		},
	}

	filter, err := NewBlobFilter(cfg, noSharding)
	require.NoError(t, err)

	testCases := []struct {
		blobName string
		expected bool
	}{
		{"exports/2024/06/store-1.csv", true},
		{"exports/2024/6/store-1.csv", false},
		{"exports/2024/06/store-1.csv.bak", false},
		{"Reviews-june.CSV", false},
		{"Reviews-june.csv", true},
		{"notes.txt", false},
	}

	for _, tc := range testCases {
		result := filter.ShouldProcess("reviews", tc.blobName, time.Now())
		assert.Equal(t, tc.expected, result, "Failed for blob: %s", tc.blobName)
	}
}

func TestShardAssignment(t *testing.T) {
	t.Run("consistent shard assignment", func(t *testing.T) {
		assert.Equal(t, ShardFor("reviews", "a.csv", 5), ShardFor("reviews", "a.csv", 5))
	})

	t.Run("single shard owns everything", func(t *testing.T) {
		assert.Equal(t, 0, ShardFor("reviews", "a.csv", 1))
		assert.Equal(t, 0, ShardFor("reviews", "a.csv", 0))
	})

	t.Run("distributes objects across shards", func(t *testing.T) {
		totalShards := 5
		shardCounts := make(map[int]int)
		for i := 0; i < 200; i++ {
			shardCounts[ShardFor("reviews", fmt.Sprintf("store-%d.csv", i), totalShards)]++
		}
		for i := 0; i < totalShards; i++ {
			assert.Greater(t, shardCounts[i], 0, "Shard %d has no objects assigned", i)
		}
	})

	t.Run("exactly one worker accepts each object", func(t *testing.T) {
		totalShards := 3
		workers := make([]*BlobFilter, totalShards)
		for i := range workers {
			f, err := NewBlobFilter(&config.FilterConfig{}, config.ShardingConfig{Enabled: true, ShardsCount: totalShards, ShardNumber: i})
			require.NoError(t, err)
			workers[i] = f
		}

		for i := 0; i < 50; i++ {
			blob := fmt.Sprintf("store-%d.csv", i)
			accepted := 0
			for _, w := range workers {
				if w.ShouldProcess("reviews", blob, time.Now()) {
					accepted++
				}
			}
			assert.Equal(t, 1, accepted, "object %s", blob)
		}
	})
}

// Helper functions
func stringPtr(s string) *string {
	return &s
}
