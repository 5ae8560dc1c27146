package cluster

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/TOOITW/morning-pulse/internal/db"
	"github.com/TOOITW/morning-pulse/internal/fingerprint"
	"github.com/TOOITW/morning-pulse/internal/globaltime"
)

// Service runs the clustering pass against the durable store. Items are
// claimed one at a time inside a transaction in non-decreasing published_at
// order; the shared order is what makes cluster formation and representative
// selection deterministic for a given item set. Each claim transaction takes
// an exclusive advisory lock so concurrent passes (two workers, or a cluster
// task racing a build task) serialize instead of seeding rival clusters or
// overwriting each other's aggregate updates.
type Service struct {
	pool   *db.Pool
	engine *Engine
	logger zerolog.Logger
}

// clusterPassLockKey is the advisory lock identity for the clustering pass.
var clusterPassLockKey = advisoryLockKey("pulse.cluster_pass")

// advisoryLockKey maps a lock name to a stable 64-bit key for
// pg_advisory_xact_lock.
func advisoryLockKey(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return int64(h.Sum64())
}

type Result struct {
	Processed int
	Joined    int
	Created   int
	Skipped   int
}

func NewService(pool *db.Pool, engine *Engine, logger zerolog.Logger) *Service {
	return &Service{
		pool:   pool,
		engine: engine,
		logger: logger,
	}
}

// ClusterPending assigns up to limit unclustered items.
func (s *Service) ClusterPending(ctx context.Context, limit int) (Result, error) {
	if s == nil || s.pool == nil || s.engine == nil {
		return Result{}, fmt.Errorf("cluster service is not initialized")
	}
	if limit <= 0 {
		return Result{}, nil
	}

	var result Result
	for result.Processed < limit {
		tx, err := s.pool.BeginTx(ctx, db.TxOptions{})
		if err != nil {
			return result, fmt.Errorf("begin cluster tx: %w", err)
		}

		// Held until commit; a second pass blocks here rather than reading
		// a cluster snapshot this transaction is about to invalidate.
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, clusterPassLockKey); err != nil {
			_ = tx.Rollback(ctx)
			return result, fmt.Errorf("acquire cluster pass lock: %w", err)
		}

		item, found, err := claimOneUnclusteredItemTx(ctx, tx)
		if err != nil {
			_ = tx.Rollback(ctx)
			return result, err
		}
		if !found {
			if err := tx.Commit(ctx); err != nil {
				_ = tx.Rollback(ctx)
				return result, fmt.Errorf("commit empty cluster tx: %w", err)
			}
			break
		}

		joined, err := s.assignItemTx(ctx, tx, item)
		if err != nil {
			if errors.Is(err, ErrMissingFingerprint) {
				// One bad item must not block the batch: drop it with a
				// logged reason and keep going.
				if exErr := excludeItemTx(ctx, tx, item.ItemID, globaltime.UTC()); exErr != nil {
					_ = tx.Rollback(ctx)
					return result, exErr
				}
				if cErr := tx.Commit(ctx); cErr != nil {
					_ = tx.Rollback(ctx)
					return result, fmt.Errorf("commit exclusion tx: %w", cErr)
				}
				s.logger.Warn().
					Int64("item_id", item.ItemID).
					Err(err).
					Msg("excluded item from clustering")
				result.Processed++
				result.Skipped++
				continue
			}
			_ = tx.Rollback(ctx)
			return result, err
		}

		if err := tx.Commit(ctx); err != nil {
			_ = tx.Rollback(ctx)
			return result, fmt.Errorf("commit cluster tx: %w", err)
		}

		result.Processed++
		if joined {
			result.Joined++
		} else {
			result.Created++
		}
	}

	return result, nil
}

type pendingItem struct {
	Member
	NormalizedText string
	HasFingerprint bool
}

func claimOneUnclusteredItemTx(ctx context.Context, tx db.Tx) (pendingItem, bool, error) {
	const q = `
SELECT
	i.item_id,
	i.source_id,
	i.trust_score,
	i.content_length,
	i.published_at,
	i.fingerprint,
	i.normalized_text
FROM pulse.items i
WHERE i.cluster_id IS NULL
  AND i.deleted_at IS NULL
ORDER BY i.published_at, i.item_id
LIMIT 1
FOR UPDATE SKIP LOCKED
`

	var item pendingItem
	var fp *int64
	err := tx.QueryRow(ctx, q).Scan(
		&item.ItemID,
		&item.SourceID,
		&item.TrustScore,
		&item.ContentLength,
		&item.PublishedAt,
		&fp,
		&item.NormalizedText,
	)
	if err != nil {
		if err == db.ErrNoRows {
			return pendingItem{}, false, nil
		}
		return pendingItem{}, false, fmt.Errorf("claim unclustered item: %w", err)
	}

	if fp != nil {
		item.Fingerprint = fingerprint.Fingerprint(uint64(*fp))
		item.HasFingerprint = true
	}
	return item, true, nil
}

func (s *Service) assignItemTx(ctx context.Context, tx db.Tx, item pendingItem) (joined bool, err error) {
	now := globaltime.UTC()

	if !item.HasFingerprint {
		fp, err := pendingFingerprint(item)
		if err != nil {
			return false, err
		}
		if err := persistFingerprintTx(ctx, tx, item.ItemID, fp, now); err != nil {
			return false, err
		}
		item.Fingerprint = fp
		item.HasFingerprint = true
	}

	candidates, err := loadCandidateClustersTx(ctx, tx, item.PublishedAt, s.engine.cfg.withDefaults().Window)
	if err != nil {
		return false, err
	}

	decision := s.engine.Assign(item.Member, candidates)
	if decision.JoinClusterID == 0 {
		if err := createSingletonClusterTx(ctx, tx, item.Member, now); err != nil {
			return false, err
		}
		s.logger.Debug().
			Int64("item_id", item.ItemID).
			Int("best_distance", decision.BestDistance).
			Msg("item seeded new cluster")
		return false, nil
	}

	var members []Member
	for _, candidate := range candidates {
		if candidate.ClusterID == decision.JoinClusterID {
			members = append(candidate.Members, item.Member)
			break
		}
	}
	if members == nil {
		return false, fmt.Errorf("join decision references unknown cluster_id=%d", decision.JoinClusterID)
	}

	if err := joinClusterTx(ctx, tx, item.Member, decision.JoinClusterID, members, now); err != nil {
		return false, err
	}

	s.logger.Debug().
		Int64("item_id", item.ItemID).
		Int64("cluster_id", decision.JoinClusterID).
		Float64("similarity", decision.BestSimilarity).
		Msg("item joined cluster")
	return true, nil
}

// pendingFingerprint resolves the fingerprint of a freshly claimed item,
// computing it when the stored row has none. Empty normalized text has no
// fingerprint to compute; the caller excludes such items.
func pendingFingerprint(item pendingItem) (fingerprint.Fingerprint, error) {
	if item.HasFingerprint {
		return item.Fingerprint, nil
	}
	if strings.TrimSpace(item.NormalizedText) == "" {
		return 0, fmt.Errorf("item_id=%d has empty normalized text: %w", item.ItemID, ErrMissingFingerprint)
	}
	return fingerprint.Compute(item.NormalizedText), nil
}

// excludeItemTx soft-deletes an item the clustering pass cannot handle so it
// is not claimed again on the next pass.
func excludeItemTx(ctx context.Context, tx db.Tx, itemID int64, now time.Time) error {
	const q = `
UPDATE pulse.items
SET deleted_at = $2, updated_at = $2
WHERE item_id = $1
`
	if _, err := tx.Exec(ctx, q, itemID, now); err != nil {
		return fmt.Errorf("exclude item_id=%d: %w", itemID, err)
	}
	return nil
}

func persistFingerprintTx(ctx context.Context, tx db.Tx, itemID int64, fp fingerprint.Fingerprint, now time.Time) error {
	const q = `
UPDATE pulse.items
SET fingerprint = $2, updated_at = $3
WHERE item_id = $1
`
	if _, err := tx.Exec(ctx, q, itemID, int64(uint64(fp)), now); err != nil {
		return fmt.Errorf("persist fingerprint item_id=%d: %w", itemID, err)
	}
	return nil
}

// loadCandidateClustersTx loads the full membership of every cluster whose
// newest member falls inside the rolling window around publishedAt. Older
// clusters are never merged into, which keeps the comparison set proportional
// to recent volume.
func loadCandidateClustersTx(ctx context.Context, tx db.Tx, publishedAt time.Time, window time.Duration) ([]Snapshot, error) {
	const q = `
SELECT
	i.cluster_id,
	i.item_id,
	i.source_id,
	i.trust_score,
	i.content_length,
	i.published_at,
	i.fingerprint
FROM pulse.items i
JOIN pulse.clusters c ON c.cluster_id = i.cluster_id
WHERE c.newest_published_at >= $1
  AND c.newest_published_at <= $2
  AND i.deleted_at IS NULL
  AND i.fingerprint IS NOT NULL
ORDER BY i.cluster_id, i.item_id
`

	low := publishedAt.UTC().Add(-window)
	high := publishedAt.UTC().Add(window)

	rows, err := tx.Query(ctx, q, low, high)
	if err != nil {
		return nil, fmt.Errorf("query candidate clusters: %w", err)
	}
	defer rows.Close()

	var snapshots []Snapshot
	var current *Snapshot
	for rows.Next() {
		var clusterID int64
		var member Member
		var fp int64
		if err := rows.Scan(
			&clusterID,
			&member.ItemID,
			&member.SourceID,
			&member.TrustScore,
			&member.ContentLength,
			&member.PublishedAt,
			&fp,
		); err != nil {
			return nil, fmt.Errorf("scan candidate member: %w", err)
		}
		member.Fingerprint = fingerprint.Fingerprint(uint64(fp))

		if current == nil || current.ClusterID != clusterID {
			snapshots = append(snapshots, Snapshot{ClusterID: clusterID})
			current = &snapshots[len(snapshots)-1]
		}
		current.Members = append(current.Members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidate members: %w", err)
	}
	return snapshots, nil
}

func createSingletonClusterTx(ctx context.Context, tx db.Tx, item Member, now time.Time) error {
	const q = `
INSERT INTO pulse.clusters (
	representative_item_id,
	item_count,
	source_count,
	sim_avg,
	sim_max,
	newest_published_at,
	created_at,
	updated_at
)
VALUES ($1, 1, 1, 1, 1, $2, $3, $3)
RETURNING cluster_id
`
	var clusterID int64
	if err := tx.QueryRow(ctx, q, item.ItemID, item.PublishedAt.UTC(), now).Scan(&clusterID); err != nil {
		return fmt.Errorf("insert singleton cluster for item_id=%d: %w", item.ItemID, err)
	}
	return setItemClusterTx(ctx, tx, item.ItemID, clusterID, now)
}

// joinClusterTx adds the item and re-evaluates the whole cluster: similarity
// stats and the representative are recomputed because a new member can change
// which item represents the cluster.
func joinClusterTx(ctx context.Context, tx db.Tx, item Member, clusterID int64, members []Member, now time.Time) error {
	if err := setItemClusterTx(ctx, tx, item.ItemID, clusterID, now); err != nil {
		return err
	}

	stats := ComputeStats(members)
	rep, err := SelectRepresentative(members)
	if err != nil {
		return fmt.Errorf("select representative cluster_id=%d: %w", clusterID, err)
	}

	sources := make(map[string]struct{}, len(members))
	newest := members[0].PublishedAt
	for _, m := range members {
		sources[m.SourceID] = struct{}{}
		if m.PublishedAt.After(newest) {
			newest = m.PublishedAt
		}
	}

	const q = `
UPDATE pulse.clusters
SET
	representative_item_id = $2,
	item_count = $3,
	source_count = $4,
	sim_avg = $5,
	sim_max = $6,
	newest_published_at = $7,
	updated_at = $8
WHERE cluster_id = $1
`
	if _, err := tx.Exec(
		ctx,
		q,
		clusterID,
		rep.ItemID,
		len(members),
		len(sources),
		stats.SimAvg,
		stats.SimMax,
		newest.UTC(),
		now,
	); err != nil {
		return fmt.Errorf("refresh cluster aggregate cluster_id=%d: %w", clusterID, err)
	}
	return nil
}

func setItemClusterTx(ctx context.Context, tx db.Tx, itemID, clusterID int64, now time.Time) error {
	const q = `
UPDATE pulse.items
SET cluster_id = $2, updated_at = $3
WHERE item_id = $1
`
	if _, err := tx.Exec(ctx, q, itemID, clusterID, now); err != nil {
		return fmt.Errorf("assign item_id=%d to cluster_id=%d: %w", itemID, clusterID, err)
	}
	return nil
}

// DeleteEmptyClusters enforces the zero-member invariant; it runs as part of
// the cleanup task.
func (s *Service) DeleteEmptyClusters(ctx context.Context) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, fmt.Errorf("cluster service is not initialized")
	}

	const q = `
DELETE FROM pulse.clusters c
WHERE NOT EXISTS (
	SELECT 1
	FROM pulse.items i
	WHERE i.cluster_id = c.cluster_id
	  AND i.deleted_at IS NULL
)
`
	tag, err := s.pool.Exec(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("delete empty clusters: %w", err)
	}
	return tag.RowsAffected(), nil
}
