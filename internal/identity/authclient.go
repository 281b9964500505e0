package identity

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulsegrid/pulsegrid/internal/model"
)

// StaticAuthClient resolves credentials directly against the identity DB's
// api_keys/projects tables (spec.md §6: "core reads only
// projects.retention_days, projects.daily_quota, api_keys.rate_limit_*,
// api_keys.status"). It stands in for the real account service, which is an
// external collaborator outside this specification's core.
type StaticAuthClient struct {
	pool *pgxpool.Pool
}

func NewStaticAuthClient(pool *pgxpool.Pool) *StaticAuthClient {
	return &StaticAuthClient{pool: pool}
}

func (s *StaticAuthClient) ValidateCredential(ctx context.Context, credentialHash string) (model.CredentialRecord, error) {
	const q = `
		SELECT k.project_id, p.account_id, p.daily_quota, p.retention_days,
		       k.rate_limit_per_minute, k.rate_limit_per_hour, k.status,
		       extract(epoch from k.created_at)::bigint
		FROM api_keys k
		JOIN projects p ON p.id = k.project_id
		WHERE k.key_hash = $1`

	var rec model.CredentialRecord
	var status string
	err := s.pool.QueryRow(ctx, q, credentialHash).Scan(
		&rec.ProjectID, &rec.AccountID, &rec.DailyQuota, &rec.RetentionDays,
		&rec.RateLimitPerMinute, &rec.RateLimitPerHour, &status, &rec.IssuedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.CredentialRecord{}, ErrNotFound
		}
		return model.CredentialRecord{}, err
	}
	if status == "revoked" {
		return model.CredentialRecord{}, ErrRevoked
	}

	const usageQ = `SELECT COALESCE(log_count, 0) FROM daily_usage WHERE project_id = $1 AND usage_date = current_date`
	_ = s.pool.QueryRow(ctx, usageQ, rec.ProjectID).Scan(&rec.CurrentUsage)

	return rec, nil
}
