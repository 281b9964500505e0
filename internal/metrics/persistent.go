package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/pulsegrid/pulsegrid/internal/model"
)

// AggregateHourlyMetrics ports aggregated_metrics.py's three sub-jobs
// (endpoint, exception, log_volume) into a single upsert pass over the last
// completed hour, writing to the persistent aggregated_metrics table (spec.md
// §4.5's aggregated_metrics row is "hour × metric_type", not cache-backed).
func (a *Aggregator) AggregateHourlyMetrics(ctx context.Context) error {
	date, hour, start, end := hourWindow(time.Now().UTC().Add(-a.lag()))

	if err := a.aggregateEndpointMetrics(ctx, date, hour, start, end); err != nil {
		return err
	}
	if err := a.aggregateExceptionMetrics(ctx, date, hour, start, end); err != nil {
		return err
	}
	if err := a.aggregateLogVolumeMetrics(ctx, date, hour, start, end); err != nil {
		return err
	}
	return nil
}

const upsertAggregatedMetric = `
	INSERT INTO aggregated_metrics (
		project_id, date, hour, metric_type, endpoint_method, endpoint_path,
		log_level, log_type, log_count, error_count,
		avg_duration_ms, min_duration_ms, max_duration_ms, p95_duration_ms, p99_duration_ms
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	ON CONFLICT (project_id, date, hour, metric_type, COALESCE(endpoint_method, ''),
		COALESCE(endpoint_path, ''), COALESCE(log_level, ''), COALESCE(log_type, ''))
	DO UPDATE SET
		log_count = EXCLUDED.log_count,
		error_count = EXCLUDED.error_count,
		avg_duration_ms = EXCLUDED.avg_duration_ms,
		min_duration_ms = EXCLUDED.min_duration_ms,
		max_duration_ms = EXCLUDED.max_duration_ms,
		p95_duration_ms = EXCLUDED.p95_duration_ms,
		p99_duration_ms = EXCLUDED.p99_duration_ms`

func (a *Aggregator) aggregateEndpointMetrics(ctx context.Context, date string, hour int, start, end time.Time) error {
	const q = `
		SELECT project_id,
			(attributes->'endpoint'->>'method')::VARCHAR AS endpoint_method,
			(attributes->'endpoint'->>'path')::VARCHAR AS endpoint_path,
			COUNT(*) AS log_count,
			COUNT(*) FILTER (WHERE (attributes->'endpoint'->>'status_code')::INTEGER >= 400) AS error_count,
			AVG((attributes->'endpoint'->>'duration_ms')::FLOAT) AS avg_duration_ms,
			MIN((attributes->'endpoint'->>'duration_ms')::FLOAT) AS min_duration_ms,
			MAX((attributes->'endpoint'->>'duration_ms')::FLOAT) AS max_duration_ms,
			PERCENTILE_CONT(0.95) WITHIN GROUP (ORDER BY (attributes->'endpoint'->>'duration_ms')::FLOAT) AS p95_duration_ms,
			PERCENTILE_CONT(0.99) WITHIN GROUP (ORDER BY (attributes->'endpoint'->>'duration_ms')::FLOAT) AS p99_duration_ms
		FROM logs
		WHERE log_type = 'endpoint' AND timestamp >= $1 AND timestamp < $2
			AND attributes->'endpoint'->>'method' IS NOT NULL
			AND attributes->'endpoint'->>'path' IS NOT NULL
		GROUP BY project_id, endpoint_method, endpoint_path`

	rows, err := a.logsDB.Query(ctx, q, start, end)
	if err != nil {
		return fmt.Errorf("aggregate endpoint metrics: %w", err)
	}
	defer rows.Close()

	var batch []model.AggregatedMetric
	for rows.Next() {
		var m model.AggregatedMetric
		m.MetricType = model.MetricTypeEndpoint
		if err := rows.Scan(&m.ProjectID, &m.EndpointMethod, &m.EndpointPath, &m.LogCount, &m.ErrorCount,
			&m.AvgDurationMs, &m.MinDurationMs, &m.MaxDurationMs, &m.P95DurationMs, &m.P99DurationMs); err != nil {
			return err
		}
		m.Date, m.Hour = date, hour
		batch = append(batch, m)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return a.upsertBatch(ctx, batch)
}

func (a *Aggregator) aggregateExceptionMetrics(ctx context.Context, date string, hour int, start, end time.Time) error {
	const q = `
		SELECT project_id, COUNT(*) AS log_count, COUNT(*) AS error_count
		FROM logs
		WHERE log_type = 'exception' AND timestamp >= $1 AND timestamp < $2
		GROUP BY project_id`

	rows, err := a.logsDB.Query(ctx, q, start, end)
	if err != nil {
		return fmt.Errorf("aggregate exception metrics: %w", err)
	}
	defer rows.Close()

	var batch []model.AggregatedMetric
	for rows.Next() {
		var m model.AggregatedMetric
		m.MetricType = model.MetricTypeException
		if err := rows.Scan(&m.ProjectID, &m.LogCount, &m.ErrorCount); err != nil {
			return err
		}
		m.Date, m.Hour = date, hour
		batch = append(batch, m)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return a.upsertBatch(ctx, batch)
}

func (a *Aggregator) aggregateLogVolumeMetrics(ctx context.Context, date string, hour int, start, end time.Time) error {
	const q = `
		SELECT project_id, level, log_type, COUNT(*) AS log_count,
			COUNT(*) FILTER (WHERE level IN ('error', 'critical')) AS error_count
		FROM logs
		WHERE timestamp >= $1 AND timestamp < $2
		GROUP BY project_id, level, log_type`

	rows, err := a.logsDB.Query(ctx, q, start, end)
	if err != nil {
		return fmt.Errorf("aggregate log volume metrics: %w", err)
	}
	defer rows.Close()

	var batch []model.AggregatedMetric
	for rows.Next() {
		var m model.AggregatedMetric
		m.MetricType = model.MetricTypeLogVolume
		if err := rows.Scan(&m.ProjectID, &m.LogLevel, &m.LogType, &m.LogCount, &m.ErrorCount); err != nil {
			return err
		}
		m.Date, m.Hour = date, hour
		batch = append(batch, m)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return a.upsertBatch(ctx, batch)
}

func (a *Aggregator) upsertBatch(ctx context.Context, batch []model.AggregatedMetric) error {
	for _, m := range batch {
		_, err := a.logsDB.Exec(ctx, upsertAggregatedMetric,
			m.ProjectID, m.Date, m.Hour, m.MetricType,
			nullIfEmpty(m.EndpointMethod), nullIfEmpty(m.EndpointPath),
			nullIfEmpty(m.LogLevel), nullIfEmpty(m.LogType),
			m.LogCount, m.ErrorCount, m.AvgDurationMs, m.MinDurationMs, m.MaxDurationMs, m.P95DurationMs, m.P99DurationMs,
		)
		if err != nil {
			return fmt.Errorf("upsert aggregated_metrics: %w", err)
		}
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// AggregatedMetrics reads back rows for the aggregated_metrics(project_id,
// metric_type, period, period_from, period_to) read endpoint (spec.md
// §4.5). period_from/period_to are inclusive date bounds (YYYYMMDD).
func (a *Aggregator) AggregatedMetrics(ctx context.Context, projectID int64, metricType model.MetricType, periodFrom, periodTo string) ([]model.AggregatedMetric, error) {
	const q = `
		SELECT project_id, date, hour, metric_type,
			COALESCE(endpoint_method, ''), COALESCE(endpoint_path, ''),
			COALESCE(log_level, ''), COALESCE(log_type, ''),
			log_count, error_count, avg_duration_ms, min_duration_ms, max_duration_ms, p95_duration_ms, p99_duration_ms
		FROM aggregated_metrics
		WHERE project_id = $1 AND metric_type = $2 AND date >= $3 AND date <= $4
		ORDER BY date, hour`

	rows, err := a.logsDB.Query(ctx, q, projectID, metricType, periodFrom, periodTo)
	if err != nil {
		return nil, fmt.Errorf("read aggregated_metrics: %w", err)
	}
	defer rows.Close()

	var out []model.AggregatedMetric
	for rows.Next() {
		var m model.AggregatedMetric
		if err := rows.Scan(&m.ProjectID, &m.Date, &m.Hour, &m.MetricType, &m.EndpointMethod, &m.EndpointPath,
			&m.LogLevel, &m.LogType, &m.LogCount, &m.ErrorCount,
			&m.AvgDurationMs, &m.MinDurationMs, &m.MaxDurationMs, &m.P95DurationMs, &m.P99DurationMs); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
