// Package query implements the read side of C5 (spec.md §4.5): single-log
// lookup, filtered retrieval, and text search, all mandatorily pruned by
// partition-bearing time range. Grounded on
// original_source/services/query/query_service/services/log_query.py, ported
// from SQLAlchemy Core to pgx/v5 with the same filter/order/count/has_more
// shape.
package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulsegrid/pulsegrid/internal/apperrors"
	"github.com/pulsegrid/pulsegrid/internal/model"
)

// DefaultLookback is applied when a caller omits both start_time and
// end_time, per spec.md §4.5's "queries without a time range MUST be
// rejected or default-bounded (default last 24 h)" — pulsegrid chooses
// default-bounded over rejection so SDK callers with no explicit window
// still get a bounded, cheap query.
const DefaultLookback = 24 * time.Hour

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Filters is query_logs' filter set (spec.md §4.5).
type Filters struct {
	StartTime        *time.Time
	EndTime          *time.Time
	Level            string
	LogType          string
	Environment      string
	ErrorFingerprint string
}

// Pagination carries both supported pagination modes (spec.md §4.5's
// pagination contract): offset paging, documented O(offset), or keyset
// paging on (timestamp, id) for large scans. A non-nil AfterTimestamp
// (paired with AfterID) selects keyset mode; Offset is ignored in that case.
type Pagination struct {
	Limit         int
	Offset        int
	AfterTimestamp *time.Time
	AfterID        int64
}

func (p *Pagination) normalize() {
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
}

// Result is the {logs, total, has_more} envelope spec.md §4.5 names.
type Result struct {
	Logs    []*model.LogEvent
	Total   int64
	HasMore bool
}

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// GetLog implements get_log(project_id, log_id).
func (s *Store) GetLog(ctx context.Context, projectID, logID int64) (*model.LogEvent, error) {
	const q = selectColumns + ` FROM logs WHERE project_id = $1 AND id = $2`
	row := s.pool.QueryRow(ctx, q, projectID, logID)
	e, err := scanLog(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.NotFound("log not found")
		}
		return nil, apperrors.Transient("get_log query failed", err)
	}
	return e, nil
}

// QueryLogs implements query_logs(project_id, filters, pagination) with
// mandatory time-range pruning: a nil StartTime/EndTime pair is
// default-bounded to [now-24h, now] before any SQL is built, so the
// partition-pruning invariant (spec.md §8 property 7) holds for every call
// this package issues, not just well-formed ones.
func (s *Store) QueryLogs(ctx context.Context, projectID int64, f Filters, p Pagination) (Result, error) {
	f = boundedFilters(f)
	p.normalize()

	where, args := buildWhere(projectID, f)

	if p.AfterTimestamp != nil {
		args = append(args, *p.AfterTimestamp, p.AfterID)
		where += fmt.Sprintf(" AND (timestamp, id) < ($%d, $%d)", len(args)-1, len(args))
	}

	total, err := s.count(ctx, where, args)
	if err != nil {
		return Result{}, err
	}

	orderLimit := " ORDER BY timestamp DESC, id DESC"
	if p.AfterTimestamp == nil {
		args = append(args, p.Limit, p.Offset)
		orderLimit += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	} else {
		args = append(args, p.Limit)
		orderLimit += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, selectColumns+` FROM logs WHERE `+where+orderLimit, args...)
	if err != nil {
		return Result{}, apperrors.Transient("query_logs failed", err)
	}
	defer rows.Close()

	logs, err := scanLogs(rows)
	if err != nil {
		return Result{}, apperrors.Transient("query_logs scan failed", err)
	}

	hasMore := false
	if p.AfterTimestamp == nil {
		hasMore = int64(p.Offset+len(logs)) < total
	} else {
		hasMore = int64(len(logs)) == int64(p.Limit)
	}

	return Result{Logs: logs, Total: total, HasMore: hasMore}, nil
}

// SearchLogs implements search_logs: substring search over message,
// error_message, and error_type (the third column is present in
// log_query.py's search_filter but dropped from spec.md's prose; pulsegrid
// keeps it since it costs nothing extra and matches the grounding source).
func (s *Store) SearchLogs(ctx context.Context, projectID int64, queryText string, timeRange Filters, p Pagination) (Result, error) {
	timeRange = boundedFilters(Filters{StartTime: timeRange.StartTime, EndTime: timeRange.EndTime})
	p.normalize()

	where, args := buildWhere(projectID, Filters{StartTime: timeRange.StartTime, EndTime: timeRange.EndTime})
	args = append(args, "%"+escapeLike(queryText)+"%")
	idx := len(args)
	where += fmt.Sprintf(" AND (message ILIKE $%d OR error_message ILIKE $%d OR error_type ILIKE $%d)", idx, idx, idx)

	total, err := s.count(ctx, where, args)
	if err != nil {
		return Result{}, err
	}

	args = append(args, p.Limit, p.Offset)
	q := selectColumns + ` FROM logs WHERE ` + where +
		fmt.Sprintf(" ORDER BY timestamp DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return Result{}, apperrors.Transient("search_logs failed", err)
	}
	defer rows.Close()

	logs, err := scanLogs(rows)
	if err != nil {
		return Result{}, apperrors.Transient("search_logs scan failed", err)
	}

	return Result{
		Logs:    logs,
		Total:   total,
		HasMore: int64(p.Offset+len(logs)) < total,
	}, nil
}

func (s *Store) count(ctx context.Context, where string, args []any) (int64, error) {
	var total int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM logs WHERE `+where, args...).Scan(&total)
	if err != nil {
		return 0, apperrors.Transient("count query failed", err)
	}
	return total, nil
}

// boundedFilters applies spec.md §4.5's default-bound rule.
func boundedFilters(f Filters) Filters {
	if f.StartTime == nil && f.EndTime == nil {
		now := time.Now().UTC()
		start := now.Add(-DefaultLookback)
		f.StartTime = &start
		f.EndTime = &now
	}
	return f
}

func buildWhere(projectID int64, f Filters) (string, []any) {
	conds := []string{"project_id = $1"}
	args := []any{projectID}

	if f.StartTime != nil {
		args = append(args, *f.StartTime)
		conds = append(conds, fmt.Sprintf("timestamp >= $%d", len(args)))
	}
	if f.EndTime != nil {
		args = append(args, *f.EndTime)
		conds = append(conds, fmt.Sprintf("timestamp <= $%d", len(args)))
	}
	if f.Level != "" {
		args = append(args, f.Level)
		conds = append(conds, fmt.Sprintf("level = $%d", len(args)))
	}
	if f.LogType != "" {
		args = append(args, f.LogType)
		conds = append(conds, fmt.Sprintf("log_type = $%d", len(args)))
	}
	if f.Environment != "" {
		args = append(args, f.Environment)
		conds = append(conds, fmt.Sprintf("environment = $%d", len(args)))
	}
	if f.ErrorFingerprint != "" {
		args = append(args, f.ErrorFingerprint)
		conds = append(conds, fmt.Sprintf("error_fingerprint = $%d", len(args)))
	}

	return strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

const selectColumns = `SELECT id, project_id, timestamp, ingested_at, level, log_type, importance,
	COALESCE(environment, ''), COALESCE(release, ''), COALESCE(message, ''),
	COALESCE(error_type, ''), COALESCE(error_message, ''), COALESCE(stack_trace, ''),
	attributes, COALESCE(sdk_version, ''), COALESCE(platform, ''), COALESCE(platform_version, ''),
	processing_time_ms, COALESCE(error_fingerprint, '')`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLog(row rowScanner) (*model.LogEvent, error) {
	e := &model.LogEvent{}
	var level, logType, importance string
	err := row.Scan(
		&e.ID, &e.ProjectID, &e.Timestamp, &e.IngestedAt, &level, &logType, &importance,
		&e.Environment, &e.Release, &e.Message,
		&e.ErrorType, &e.ErrorMessage, &e.StackTrace,
		&e.Attributes, &e.SDKVersion, &e.Platform, &e.PlatformVersion,
		&e.ProcessingTimeMs, &e.ErrorFingerprint,
	)
	if err != nil {
		return nil, err
	}
	e.Level = model.Level(level)
	e.LogType = model.LogType(logType)
	e.Importance = model.Importance(importance)
	return e, nil
}

func scanLogs(rows pgx.Rows) ([]*model.LogEvent, error) {
	var out []*model.LogEvent
	for rows.Next() {
		e, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
