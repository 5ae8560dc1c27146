package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/TOOITW/morning-pulse/internal/db"
	"github.com/TOOITW/morning-pulse/internal/globaltime"
	"github.com/TOOITW/morning-pulse/internal/rank"
)

// PostgresStore implements Store over the shared connection pool.
type PostgresStore struct {
	pool *db.Pool
}

func NewPostgresStore(pool *db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) SelectionByCycleDate(ctx context.Context, cycleDate time.Time) (Selection, bool, error) {
	const q = `
SELECT selection_id, cycle_date, item_ids, degraded
FROM pulse.selections
WHERE cycle_date = $1
`
	sel, err := scanSelection(s.pool.QueryRow(ctx, q, cycleDate.Format("2006-01-02")))
	if err != nil {
		if db.IsNoRows(err) {
			return Selection{}, false, nil
		}
		return Selection{}, false, fmt.Errorf("query selection for %s: %w", cycleDate.Format("2006-01-02"), err)
	}
	return sel, true, nil
}

func (s *PostgresStore) CandidatesInWindow(ctx context.Context, from, to time.Time) ([]rank.Candidate, error) {
	const q = `
SELECT
	i.item_id,
	i.source_id,
	COALESCE(i.cluster_id, 0),
	i.trust_score,
	i.published_at,
	i.tags,
	COALESCE(c.item_count, 1)
FROM pulse.items i
LEFT JOIN pulse.clusters c ON c.cluster_id = i.cluster_id
WHERE i.deleted_at IS NULL
  AND i.published_at >= $1
  AND i.published_at <= $2
ORDER BY i.published_at, i.item_id
`
	rows, err := s.pool.Query(ctx, q, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("query scoring candidates: %w", err)
	}
	defer rows.Close()

	var candidates []rank.Candidate
	for rows.Next() {
		var c rank.Candidate
		var tags string
		if err := rows.Scan(&c.ItemID, &c.SourceID, &c.ClusterID, &c.TrustScore, &c.PublishedAt, &tags, &c.ClusterSize); err != nil {
			return nil, fmt.Errorf("scan scoring candidate: %w", err)
		}
		c.Tags = splitTags(tags)
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scoring candidates: %w", err)
	}
	return candidates, nil
}

func (s *PostgresStore) RecentTrustedItems(ctx context.Context, minTrust float64, asOf time.Time, limit int) ([]rank.Candidate, error) {
	const q = `
SELECT i.item_id, i.source_id, COALESCE(i.cluster_id, 0), i.trust_score, i.published_at
FROM pulse.items i
WHERE i.deleted_at IS NULL
  AND i.trust_score >= $1
  AND i.published_at <= $2
ORDER BY i.published_at DESC, i.item_id
LIMIT $3
`
	rows, err := s.pool.Query(ctx, q, minTrust, asOf.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query recent trusted items: %w", err)
	}
	defer rows.Close()

	var candidates []rank.Candidate
	for rows.Next() {
		var c rank.Candidate
		if err := rows.Scan(&c.ItemID, &c.SourceID, &c.ClusterID, &c.TrustScore, &c.PublishedAt); err != nil {
			return nil, fmt.Errorf("scan recent trusted item: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent trusted items: %w", err)
	}
	return candidates, nil
}

// SaveSelection inserts the selection and its audit entries in one
// transaction. A race on the unique cycle_date resolves in favor of whoever
// committed first: the loser's insert affects zero rows and the stored winner
// is read back and returned.
func (s *PostgresStore) SaveSelection(ctx context.Context, sel Selection, entries []Entry) (Selection, error) {
	itemIDs := sel.ItemIDs
	if itemIDs == nil {
		itemIDs = []int64{}
	}
	rawIDs, err := json.Marshal(itemIDs)
	if err != nil {
		return Selection{}, fmt.Errorf("encode selection item ids: %w", err)
	}

	tx, err := s.pool.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return Selection{}, fmt.Errorf("begin selection tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	now := globaltime.UTC()
	cycle := sel.CycleDate.Format("2006-01-02")

	const insertQ = `
INSERT INTO pulse.selections (cycle_date, item_ids, degraded, item_count, created_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (cycle_date) DO NOTHING
RETURNING selection_id
`
	var selectionID int64
	err = tx.QueryRow(ctx, insertQ, cycle, string(rawIDs), sel.Degraded, len(itemIDs), now).Scan(&selectionID)
	if db.IsNoRows(err) {
		// Lost the race. Read the winner inside the same tx.
		existing, scanErr := scanSelection(tx.QueryRow(ctx, `
SELECT selection_id, cycle_date, item_ids, degraded
FROM pulse.selections
WHERE cycle_date = $1
`, cycle))
		if scanErr != nil {
			err = fmt.Errorf("read winning selection for %s: %w", cycle, scanErr)
			return Selection{}, err
		}
		err = tx.Commit(ctx)
		if err != nil {
			return Selection{}, fmt.Errorf("commit selection read: %w", err)
		}
		return existing, nil
	}
	if err != nil {
		err = fmt.Errorf("insert selection for %s: %w", cycle, err)
		return Selection{}, err
	}

	const entryQ = `
INSERT INTO pulse.selection_entries
	(selection_id, item_id, included, rank, reason, score, recency_score, trust_score, relevance_score, heat_score, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`
	for _, e := range entries {
		var total, recency, trust, relevance, heat *float64
		if e.Score != nil {
			total = &e.Score.Total
			recency = &e.Score.Recency
			trust = &e.Score.Trust
			relevance = &e.Score.Relevance
			heat = &e.Score.Heat
		}
		if _, err = tx.Exec(ctx, entryQ, selectionID, e.ItemID, e.Included, e.Rank, e.Reason, total, recency, trust, relevance, heat, now); err != nil {
			err = fmt.Errorf("insert selection entry item_id=%d: %w", e.ItemID, err)
			return Selection{}, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return Selection{}, fmt.Errorf("commit selection tx: %w", err)
	}

	sel.SelectionID = selectionID
	sel.ItemIDs = itemIDs
	return sel, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSelection(row rowScanner) (Selection, error) {
	var sel Selection
	var rawIDs []byte
	if err := row.Scan(&sel.SelectionID, &sel.CycleDate, &rawIDs, &sel.Degraded); err != nil {
		return Selection{}, err
	}
	if len(rawIDs) > 0 {
		if err := json.Unmarshal(rawIDs, &sel.ItemIDs); err != nil {
			return Selection{}, fmt.Errorf("decode selection item ids: %w", err)
		}
	}
	sel.CycleDate = sel.CycleDate.UTC()
	return sel, nil
}

func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			tags = append(tags, p)
		}
	}
	return tags
}
