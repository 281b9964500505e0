// Package metrics implements the read side of C5's pre-aggregated metrics
// (spec.md §4.5's "Metrics contract (read from cache)") plus the
// SELECT/UPSERT statements the scheduled aggregation jobs in
// internal/schedule execute. Cache key naming follows
// original_source/services/analytics/analytics_workers/jobs/*.py exactly
// (e.g. error_rates.py's `f"metrics:error_rate:{project_id}:5min"`).
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pulsegrid/pulsegrid/internal/apperrors"
	"github.com/pulsegrid/pulsegrid/internal/cache"
)

// ErrorRatePoint is one bucket of error_rate's series.
type ErrorRatePoint struct {
	Timestamp     time.Time `json:"timestamp"`
	ErrorCount    int64     `json:"error_count"`
	CriticalCount int64     `json:"critical_count"`
}

// LogVolumePoint is one bucket of log_volume's series.
type LogVolumePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Debug     int64     `json:"debug"`
	Info      int64     `json:"info"`
	Warning   int64     `json:"warning"`
	Error     int64     `json:"error"`
	Critical  int64     `json:"critical"`
}

// TopError is one row of top_errors.
type TopError struct {
	Fingerprint     string    `json:"fingerprint"`
	ErrorType       string    `json:"error_type"`
	ErrorMessage    string    `json:"error_message"`
	OccurrenceCount int64     `json:"occurrence_count"`
	FirstSeen       time.Time `json:"first_seen"`
	LastSeen        time.Time `json:"last_seen"`
	Status          string    `json:"status"`
	SampleLogID     int64     `json:"sample_log_id"`
}

// UsageDay is one row of usage_stats.
type UsageDay struct {
	Date              string  `json:"date"`
	LogCount          int64   `json:"log_count"`
	DailyQuota        int64   `json:"daily_quota"`
	QuotaUsedPercent  float64 `json:"quota_used_percent"`
}

func errorRateKey(projectID int64) string  { return fmt.Sprintf("metrics:error_rate:%d:5min", projectID) }
func logVolumeKey(projectID int64) string  { return fmt.Sprintf("metrics:log_volume:%d:1hour", projectID) }
func topErrorsKey(projectID int64) string  { return fmt.Sprintf("metrics:top_errors:%d", projectID) }
func usageStatsKey(projectID int64) string { return fmt.Sprintf("metrics:usage_stats:%d", projectID) }
func bottleneckKey(projectID int64) string { return fmt.Sprintf("metrics:bottleneck:%d", projectID) }

// Reader serves the read side of the metrics contract straight out of the
// pre-aggregate cache; nothing here touches the logs DB.
type Reader struct {
	cache *cache.Pool
}

func NewReader(c *cache.Pool) *Reader {
	return &Reader{cache: c}
}

// ErrorRate implements spec.md §4.5's error_rate(project_id, interval,
// start, end): the cached 5-minute series, trimmed to [start, end] when
// either bound is given. Ported from
// original_source/services/query/query_service/services/metrics.py's
// get_error_rate start_time/end_time filter.
func (r *Reader) ErrorRate(ctx context.Context, projectID int64, start, end *time.Time) ([]ErrorRatePoint, error) {
	var out []ErrorRatePoint
	if err := readJSON(ctx, r.cache, errorRateKey(projectID), &out); err != nil {
		return nil, err
	}
	if start == nil && end == nil {
		return out, nil
	}
	filtered := make([]ErrorRatePoint, 0, len(out))
	for _, p := range out {
		if start != nil && p.Timestamp.Before(*start) {
			continue
		}
		if end != nil && p.Timestamp.After(*end) {
			continue
		}
		filtered = append(filtered, p)
	}
	return filtered, nil
}

// LogVolume implements spec.md §4.5's log_volume(project_id, interval,
// start, end), same trimming as ErrorRate.
func (r *Reader) LogVolume(ctx context.Context, projectID int64, start, end *time.Time) ([]LogVolumePoint, error) {
	var out []LogVolumePoint
	if err := readJSON(ctx, r.cache, logVolumeKey(projectID), &out); err != nil {
		return nil, err
	}
	if start == nil && end == nil {
		return out, nil
	}
	filtered := make([]LogVolumePoint, 0, len(out))
	for _, p := range out {
		if start != nil && p.Timestamp.Before(*start) {
			continue
		}
		if end != nil && p.Timestamp.After(*end) {
			continue
		}
		filtered = append(filtered, p)
	}
	return filtered, nil
}

// TopErrors returns the cached top-50, trimmed to limit and optionally
// filtered by status and by [start, end] overlap with each error's
// first_seen/last_seen span (spec.md §4.5's top_errors(project_id, limit,
// start, end, status?)), same overlap rule as get_top_errors in
// original_source/services/query/query_service/services/metrics.py: an
// error is kept unless its whole span falls outside the requested range.
func (r *Reader) TopErrors(ctx context.Context, projectID int64, limit int, start, end *time.Time, status string) ([]TopError, error) {
	var all []TopError
	if err := readJSON(ctx, r.cache, topErrorsKey(projectID), &all); err != nil {
		return nil, err
	}
	var filtered []TopError
	for _, e := range all {
		if start != nil && e.LastSeen.Before(*start) {
			continue
		}
		if end != nil && e.FirstSeen.After(*end) {
			continue
		}
		if status != "" && e.Status != status {
			continue
		}
		filtered = append(filtered, e)
		if limit > 0 && len(filtered) >= limit {
			break
		}
	}
	return filtered, nil
}

// UsageStats implements spec.md §4.5's usage_stats(project_id, start_date,
// end_date): per-day usage trimmed to [start_date, end_date] when given, as
// "YYYY-MM-DD" strings (lexicographic comparison is correct for that
// format).
func (r *Reader) UsageStats(ctx context.Context, projectID int64, startDate, endDate string) ([]UsageDay, error) {
	var out []UsageDay
	if err := readJSON(ctx, r.cache, usageStatsKey(projectID), &out); err != nil {
		return nil, err
	}
	if startDate == "" && endDate == "" {
		return out, nil
	}
	filtered := make([]UsageDay, 0, len(out))
	for _, d := range out {
		if startDate != "" && d.Date < startDate {
			continue
		}
		if endDate != "" && d.Date > endDate {
			continue
		}
		filtered = append(filtered, d)
	}
	return filtered, nil
}

func readJSON(ctx context.Context, c *cache.Pool, key string, dest any) error {
	b, ok, err := c.GetBytes(ctx, key)
	if err != nil {
		return apperrors.Transient("metrics cache read failed", err)
	}
	if !ok {
		return nil
	}
	if err := json.Unmarshal(b, dest); err != nil {
		return apperrors.Transient("metrics cache decode failed", err)
	}
	return nil
}

func writeJSON(ctx context.Context, c *cache.Pool, key string, ttlSec int, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.SetEX(ctx, key, ttlSec, b)
}
