// Package postgres provides a PostgreSQL-backed profile.Store for
// deployments where profiles must survive the process and be shared across
// instances.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	p, _ := store.Load(ctx, "user-42")
//	_ = store.Save(ctx, p)
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hexlattice/cadence/internal/profile"
)

const ddlProfiles = `
CREATE TABLE IF NOT EXISTS speech_profiles (
    user_id             TEXT         PRIMARY KEY,
    avg_within_ns       BIGINT       NOT NULL DEFAULT 0,
    avg_between_ns      BIGINT       NOT NULL DEFAULT 0,
    avg_thinking_ns     BIGINT       NOT NULL DEFAULT 0,
    words_per_minute    DOUBLE PRECISION NOT NULL DEFAULT 0,
    silence_ns          BIGINT       NOT NULL DEFAULT 0,
    thinking_ns         BIGINT       NOT NULL DEFAULT 0,
    max_silence_ns      BIGINT       NOT NULL DEFAULT 0,
    is_calibrated       BOOLEAN      NOT NULL DEFAULT FALSE,
    total_words_spoken  BIGINT       NOT NULL DEFAULT 0,
    last_updated        TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// Store is a PostgreSQL-backed profile store. All operations are safe for
// concurrent use; same-id writes are additionally serialized by a keyed
// mutex so folds from multiple workers cannot interleave.
type Store struct {
	pool *pgxpool.Pool

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore connects to the database at dsn, verifies the connection, and
// ensures the speech_profiles table exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("profile store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("profile store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("profile store: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, ddlProfiles); err != nil {
		pool.Close()
		return nil, fmt.Errorf("profile store: migrate: %w", err)
	}

	return &Store{
		pool:  pool,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// Load implements profile.Store. A missing row yields a default
// uncalibrated profile.
func (s *Store) Load(ctx context.Context, userID string) (*profile.Profile, error) {
	const q = `
		SELECT avg_within_ns, avg_between_ns, avg_thinking_ns, words_per_minute,
		       silence_ns, thinking_ns, max_silence_ns,
		       is_calibrated, total_words_spoken, last_updated
		FROM   speech_profiles
		WHERE  user_id = $1`

	var (
		p                                 = &profile.Profile{UserID: userID}
		withinNS, betweenNS, thinkingNS   int64
		silenceNS, thinkNS, maxSilenceNS  int64
	)
	err := s.pool.QueryRow(ctx, q, userID).Scan(
		&withinNS, &betweenNS, &thinkingNS, &p.WordsPerMinute,
		&silenceNS, &thinkNS, &maxSilenceNS,
		&p.IsCalibrated, &p.TotalWordsSpoken, &p.LastUpdated,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return profile.NewDefault(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("profile store: load %q: %w", userID, err)
	}

	p.AvgWithinPause = time.Duration(withinNS)
	p.AvgBetweenPause = time.Duration(betweenNS)
	p.AvgThinkingPause = time.Duration(thinkingNS)
	p.SilenceThreshold = time.Duration(silenceNS)
	p.ThinkingThreshold = time.Duration(thinkNS)
	p.MaxSilence = time.Duration(maxSilenceNS)
	p.Normalize()
	return p, nil
}

// Save implements profile.Store via an upsert keyed on user_id.
func (s *Store) Save(ctx context.Context, p *profile.Profile) error {
	lock := s.lockFor(p.UserID)
	lock.Lock()
	defer lock.Unlock()

	const q = `
		INSERT INTO speech_profiles
		    (user_id, avg_within_ns, avg_between_ns, avg_thinking_ns, words_per_minute,
		     silence_ns, thinking_ns, max_silence_ns, is_calibrated, total_words_spoken, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id) DO UPDATE SET
		    avg_within_ns      = EXCLUDED.avg_within_ns,
		    avg_between_ns     = EXCLUDED.avg_between_ns,
		    avg_thinking_ns    = EXCLUDED.avg_thinking_ns,
		    words_per_minute   = EXCLUDED.words_per_minute,
		    silence_ns         = EXCLUDED.silence_ns,
		    thinking_ns        = EXCLUDED.thinking_ns,
		    max_silence_ns     = EXCLUDED.max_silence_ns,
		    is_calibrated      = EXCLUDED.is_calibrated,
		    total_words_spoken = EXCLUDED.total_words_spoken,
		    last_updated       = EXCLUDED.last_updated`

	lastUpdated := p.LastUpdated
	if lastUpdated.IsZero() {
		lastUpdated = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, q,
		p.UserID,
		p.AvgWithinPause.Nanoseconds(),
		p.AvgBetweenPause.Nanoseconds(),
		p.AvgThinkingPause.Nanoseconds(),
		p.WordsPerMinute,
		p.SilenceThreshold.Nanoseconds(),
		p.ThinkingThreshold.Nanoseconds(),
		p.MaxSilence.Nanoseconds(),
		p.IsCalibrated,
		p.TotalWordsSpoken,
		lastUpdated,
	)
	if err != nil {
		return fmt.Errorf("profile store: save %q: %w", p.UserID, err)
	}
	return nil
}

// Ping reports whether the database is reachable. Used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// lockFor returns the per-user write mutex, creating it on first use.
func (s *Store) lockFor(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	return l
}

// Ensure Store implements profile.Store at compile time.
var _ profile.Store = (*Store)(nil)
