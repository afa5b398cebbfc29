package store

import (
	"context"
	"time"
)

// SourceCount is one entry of the digest's top-sources breakdown.
type SourceCount struct {
	Source string `json:"source"`
	Count  int    `json:"count"`
}

// DigestStats aggregates the last reporting window for the daily digest.
type DigestStats struct {
	NewLeads          int           `json:"new_leads"`
	HotLeads          int           `json:"hot_leads"`
	DealsCreated      int           `json:"deals_created"`
	DealsWon          int           `json:"deals_won"`
	OpenPipelineValue float64       `json:"open_pipeline_value"`
	TopSources        []SourceCount `json:"top_sources"`
}

// CollectDigestStats gathers the daily digest numbers for activity since
// the given time.
func (s *Store) CollectDigestStats(ctx context.Context, since time.Time) (*DigestStats, error) {
	stats := &DigestStats{}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM leads WHERE created_at >= $1),
			(SELECT COUNT(*) FROM leads WHERE total_score >= 80),
			(SELECT COUNT(*) FROM deals WHERE created_at >= $1),
			(SELECT COUNT(*) FROM deals WHERE status = 'won' AND updated_at >= $1),
			(SELECT COALESCE(SUM(value), 0) FROM deals WHERE status = 'open')
	`, since).Scan(&stats.NewLeads, &stats.HotLeads, &stats.DealsCreated,
		&stats.DealsWon, &stats.OpenPipelineValue)
	if err != nil {
		return nil, translateErr(err, "digest stats")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT source, COUNT(*) AS n
		FROM events
		WHERE occurred_at >= $1
		GROUP BY source
		ORDER BY n DESC
		LIMIT 5
	`, since)
	if err != nil {
		return nil, translateErr(err, "digest sources")
	}
	defer rows.Close()

	for rows.Next() {
		var sc SourceCount
		if err := rows.Scan(&sc.Source, &sc.Count); err != nil {
			return nil, translateErr(err, "digest sources")
		}
		stats.TopSources = append(stats.TopSources, sc)
	}
	return stats, rows.Err()
}
