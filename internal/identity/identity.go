// Package identity implements C1, the Identity & Quota Cache of spec.md
// §4.1: it resolves a presented credential to a CredentialRecord, caching
// the result with a short primary TTL and a longer-TTL emergency mirror
// that is only ever served while the breaker guarding the Auth collaborator
// is open (spec.md design note: "the emergency copy MUST only be served
// while the breaker... is OPEN; otherwise a dead credential could be
// resurrected").
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/pulsegrid/pulsegrid/internal/apperrors"
	"github.com/pulsegrid/pulsegrid/internal/breaker"
	"github.com/pulsegrid/pulsegrid/internal/cache"
	"github.com/pulsegrid/pulsegrid/internal/config"
	"github.com/pulsegrid/pulsegrid/internal/model"
)

// Sentinel errors an AuthClient implementation returns; Cache.resolve
// classifies them per spec.md §4.1's failure semantics.
var (
	ErrNotFound = errors.New("credential not found")
	ErrRevoked  = errors.New("credential revoked")
)

// AuthClient is the Auth collaborator's contract, modeled as an interface
// per spec.md §9 ("Global state is modeled as a composition root... no
// ambient globals") — the real account service lives outside this
// specification's core, so pulsegrid ships an in-process implementation
// against the identity DB (StaticAuthClient) and lets tests substitute a
// fake.
type AuthClient interface {
	ValidateCredential(ctx context.Context, credentialHash string) (model.CredentialRecord, error)
}

// Hash returns the stable, non-reversible digest of a presented credential.
// The plaintext credential is never stored — only this hash crosses into the
// cache or the identity DB lookup.
func Hash(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])
}

// Cache is C1's public surface: resolve and invalidate.
type Cache struct {
	pool     *cache.Pool
	auth     AuthClient
	breaker  *breaker.Breaker
	cacheCfg config.CacheConfig
}

func New(pool *cache.Pool, auth AuthClient, breakers *breaker.Registry, cacheCfg config.CacheConfig) *Cache {
	return &Cache{pool: pool, auth: auth, breaker: breakers.Get("auth"), cacheCfg: cacheCfg}
}

func primaryKey(hash string) string   { return "cred:primary:" + hash }
func emergencyKey(hash string) string { return "cred:emergency:" + hash }
func negativeKey(hash string) string  { return "cred:negative:" + hash }

// Resolve implements spec.md §4.1's resolve(credential). credential is the
// raw presented value (API key or session token); it is hashed before
// touching any cache or store.
func (c *Cache) Resolve(ctx context.Context, credential string) (model.CredentialRecord, error) {
	hash := Hash(credential)

	if _, tombstoned, err := c.pool.GetBytes(ctx, negativeKey(hash)); err == nil && tombstoned {
		return model.CredentialRecord{}, apperrors.Unauthorized("credential invalidated")
	}

	if raw, ok, err := c.pool.GetBytes(ctx, primaryKey(hash)); err == nil && ok {
		var rec model.CredentialRecord
		if json.Unmarshal(raw, &rec) == nil {
			return rec, nil
		}
	}

	if !c.breaker.Allow() {
		if raw, ok, err := c.pool.GetBytes(ctx, emergencyKey(hash)); err == nil && ok {
			var rec model.CredentialRecord
			if json.Unmarshal(raw, &rec) == nil {
				return rec, nil
			}
		}
		return model.CredentialRecord{}, apperrors.CircuitOpen("auth dependency unavailable", 30)
	}

	rec, err := c.auth.ValidateCredential(ctx, hash)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			c.breaker.Success() // NotFound is a permanent answer, not a dependency failure
			return model.CredentialRecord{}, apperrors.Unauthorized("credential not found")
		case errors.Is(err, ErrRevoked):
			c.breaker.Success()
			return model.CredentialRecord{}, apperrors.Revoked("credential revoked")
		default:
			c.breaker.Failure()
			if raw, ok, gerr := c.pool.GetBytes(ctx, emergencyKey(hash)); gerr == nil && ok && c.breaker.State() == breaker.Open {
				var er model.CredentialRecord
				if json.Unmarshal(raw, &er) == nil {
					return er, nil
				}
			}
			return model.CredentialRecord{}, apperrors.Transient("auth lookup failed", err)
		}
	}

	c.breaker.Success()
	if raw, merr := json.Marshal(rec); merr == nil {
		_ = c.pool.SetEX(ctx, primaryKey(hash), c.cacheCfg.CredentialTTLSec, raw)
		_ = c.pool.SetEX(ctx, emergencyKey(hash), c.cacheCfg.EmergencyTTLSec, raw)
	}
	return rec, nil
}

// Invalidate implements spec.md §4.1's invalidate(credential_hash): the
// primary cache entry is removed and a brief negative-cache tombstone is
// written so a concurrent refresh in flight cannot resurrect the stale
// entry before the tombstone is observed. The emergency mirror is kept —
// invalidation only concerns the fast path.
func (c *Cache) Invalidate(ctx context.Context, credentialHash string) error {
	if err := c.pool.Del(ctx, primaryKey(credentialHash)); err != nil {
		return err
	}
	return c.pool.SetEX(ctx, negativeKey(credentialHash), c.cacheCfg.NegativeCacheTTLSec, []byte("1"))
}

// nowUnix exists so tests can freeze issued_at comparisons without pulling
// in a clock abstraction for a single field.
func nowUnix() int64 { return time.Now().Unix() }
