package storage

import (
	"fmt"
	"time"
)

// PriceRecord is a persisted USD price for a price-lookup id.
type PriceRecord struct {
	PriceID   string
	USD       string // decimal string, kept exact
	FetchedAt time.Time
	Source    string
}

// SavePrices upserts price records in a single transaction.
func (s *Storage) SavePrices(records []*PriceRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO prices (price_id, usd, fetched_at, source)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(price_id) DO UPDATE SET
			usd = excluded.usd,
			fetched_at = excluded.fetched_at,
			source = excluded.source
		WHERE excluded.fetched_at >= prices.fetched_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare price upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.Exec(r.PriceID, r.USD, r.FetchedAt.UnixMilli(), r.Source); err != nil {
			return fmt.Errorf("failed to save price %s: %w", r.PriceID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit prices: %w", err)
	}
	return nil
}

// LoadPrices returns every persisted price record.
func (s *Storage) LoadPrices() ([]*PriceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT price_id, usd, fetched_at, COALESCE(source, '') FROM prices ORDER BY price_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query prices: %w", err)
	}
	defer rows.Close()

	var out []*PriceRecord
	for rows.Next() {
		var (
			r         PriceRecord
			fetchedAt int64
		)
		if err := rows.Scan(&r.PriceID, &r.USD, &fetchedAt, &r.Source); err != nil {
			return nil, fmt.Errorf("failed to scan price: %w", err)
		}
		r.FetchedAt = time.UnixMilli(fetchedAt)
		out = append(out, &r)
	}
	return out, rows.Err()
}

// PruneOldPrices deletes price records fetched before cutoff.
func (s *Storage) PruneOldPrices(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM prices WHERE fetched_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune prices: %w", err)
	}
	return res.RowsAffected()
}
