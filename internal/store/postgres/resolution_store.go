package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/instabets/marketd/internal/domain"
)

// ResolutionStore implements domain.ResolutionStore using PostgreSQL. One
// row per settled market; market_id is the primary key, so a losing trigger
// that somehow reaches Insert cannot duplicate the audit row.
type ResolutionStore struct {
	pool *pgxpool.Pool
}

// NewResolutionStore creates a ResolutionStore backed by the given pool.
func NewResolutionStore(pool *pgxpool.Pool) *ResolutionStore {
	return &ResolutionStore{pool: pool}
}

// Insert records one settlement. Re-inserting the same market is a no-op,
// keeping the first writer's row.
func (s *ResolutionStore) Insert(ctx context.Context, rec domain.ResolutionRecord) error {
	const query = `
		INSERT INTO resolutions
			(market_id, question, outcome, confidence, trigger_source, evidence_root, archive_key, tx_hash, ai_model, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (market_id) DO NOTHING`

	evidenceRoot := ""
	if !rec.EvidenceRoot.IsZero() {
		evidenceRoot = rec.EvidenceRoot.Hex()
	}

	_, err := s.pool.Exec(ctx, query,
		int64(rec.MarketID),
		rec.Question,
		rec.Outcome.String(),
		rec.Confidence,
		rec.Trigger,
		evidenceRoot,
		rec.ArchiveKey,
		rec.TxHash,
		rec.Model,
		rec.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert resolution for market %d: %w", rec.MarketID, err)
	}
	return nil
}

// GetByMarket returns the settlement record for a market, or
// domain.ErrNotFound when it has not settled.
func (s *ResolutionStore) GetByMarket(ctx context.Context, marketID uint64) (domain.ResolutionRecord, error) {
	const query = `
		SELECT market_id, question, outcome, confidence, trigger_source, evidence_root, archive_key, tx_hash, ai_model, resolved_at
		FROM resolutions
		WHERE market_id = $1`

	var (
		rec          domain.ResolutionRecord
		id           int64
		outcome      string
		evidenceRoot string
	)
	err := s.pool.QueryRow(ctx, query, int64(marketID)).Scan(
		&id,
		&rec.Question,
		&outcome,
		&rec.Confidence,
		&rec.Trigger,
		&evidenceRoot,
		&rec.ArchiveKey,
		&rec.TxHash,
		&rec.Model,
		&rec.ResolvedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ResolutionRecord{}, domain.ErrNotFound
		}
		return domain.ResolutionRecord{}, fmt.Errorf("postgres: get resolution for market %d: %w", marketID, err)
	}

	rec.MarketID = uint64(id)
	if err := rec.Outcome.UnmarshalText([]byte(outcome)); err != nil {
		return domain.ResolutionRecord{}, fmt.Errorf("postgres: resolution for market %d: %w", marketID, err)
	}
	if evidenceRoot != "" {
		addr, err := domain.ParseContentAddress(evidenceRoot)
		if err != nil {
			return domain.ResolutionRecord{}, fmt.Errorf("postgres: resolution for market %d: %w", marketID, err)
		}
		rec.EvidenceRoot = addr
	}
	return rec, nil
}

// Compile-time interface check.
var _ domain.ResolutionStore = (*ResolutionStore)(nil)
