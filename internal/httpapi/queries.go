package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/TOOITW/morning-pulse/internal/db"
)

var (
	errSelectionNotFound = errors.New("selection not found")
	errClusterNotFound   = errors.New("cluster not found")
)

type selectionEntryItem struct {
	ItemID         int64    `json:"item_id"`
	Included       bool     `json:"included"`
	Rank           *int     `json:"rank,omitempty"`
	Reason         string   `json:"reason"`
	Score          *float64 `json:"score,omitempty"`
	RecencyScore   *float64 `json:"recency_score,omitempty"`
	TrustScore     *float64 `json:"trust_score,omitempty"`
	RelevanceScore *float64 `json:"relevance_score,omitempty"`
	HeatScore      *float64 `json:"heat_score,omitempty"`
}

type selectionDetail struct {
	SelectionUUID string               `json:"selection_uuid"`
	CycleDate     string               `json:"cycle_date"`
	ItemIDs       []int64              `json:"item_ids"`
	Degraded      bool                 `json:"degraded"`
	ItemCount     int                  `json:"item_count"`
	CreatedAt     time.Time            `json:"created_at"`
	Entries       []selectionEntryItem `json:"entries"`
}

type clusterListItem struct {
	ClusterID            int64     `json:"cluster_id"`
	ClusterUUID          string    `json:"cluster_uuid"`
	RepresentativeItemID int64     `json:"representative_item_id"`
	ItemCount            int       `json:"item_count"`
	SourceCount          int       `json:"source_count"`
	SimAvg               float64   `json:"sim_avg"`
	SimMax               float64   `json:"sim_max"`
	NewestPublishedAt    time.Time `json:"newest_published_at"`
}

type clusterMemberItem struct {
	ItemID         int64     `json:"item_id"`
	ItemUUID       string    `json:"item_uuid"`
	SourceID       string    `json:"source_id"`
	CanonicalURL   *string   `json:"canonical_url,omitempty"`
	Language       string    `json:"language"`
	TrustScore     float64   `json:"trust_score"`
	PublishedAt    time.Time `json:"published_at"`
	ContentLength  int       `json:"content_length"`
	Representative bool      `json:"representative"`
}

type clusterDetail struct {
	Cluster clusterListItem     `json:"cluster"`
	Members []clusterMemberItem `json:"members"`
}

type statsResponse struct {
	Items              int64            `json:"items"`
	UnclusteredItems   int64            `json:"unclustered_items"`
	Clusters           int64            `json:"clusters"`
	Selections         int64            `json:"selections"`
	DegradedSelections int64            `json:"degraded_selections"`
	NewestItemAt       *time.Time       `json:"newest_item_at,omitempty"`
	LastSelectionAt    *time.Time       `json:"last_selection_at,omitempty"`
	TaskCounts         map[string]int64 `json:"task_counts"`
}

func (s *Server) querySelectionDetail(ctx context.Context, cycleDate string) (*selectionDetail, error) {
	const selQ = `
SELECT selection_id, selection_uuid, cycle_date, item_ids, degraded, item_count, created_at
FROM pulse.selections
WHERE cycle_date = $1
`
	var (
		selectionID int64
		detail      selectionDetail
		day         time.Time
		rawIDs      []byte
	)
	err := s.pool.QueryRow(ctx, selQ, cycleDate).Scan(
		&selectionID,
		&detail.SelectionUUID,
		&day,
		&rawIDs,
		&detail.Degraded,
		&detail.ItemCount,
		&detail.CreatedAt,
	)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, errSelectionNotFound
		}
		return nil, fmt.Errorf("query selection: %w", err)
	}
	detail.CycleDate = day.Format("2006-01-02")
	detail.ItemIDs = []int64{}
	if len(rawIDs) > 0 {
		if err := json.Unmarshal(rawIDs, &detail.ItemIDs); err != nil {
			return nil, fmt.Errorf("decode selection item ids: %w", err)
		}
	}

	const entryQ = `
SELECT item_id, included, rank, reason, score, recency_score, trust_score, relevance_score, heat_score
FROM pulse.selection_entries
WHERE selection_id = $1
ORDER BY included DESC, rank NULLS LAST, item_id
`
	rows, err := s.pool.Query(ctx, entryQ, selectionID)
	if err != nil {
		return nil, fmt.Errorf("query selection entries: %w", err)
	}
	defer rows.Close()

	detail.Entries = []selectionEntryItem{}
	for rows.Next() {
		var e selectionEntryItem
		if err := rows.Scan(&e.ItemID, &e.Included, &e.Rank, &e.Reason, &e.Score, &e.RecencyScore, &e.TrustScore, &e.RelevanceScore, &e.HeatScore); err != nil {
			return nil, fmt.Errorf("scan selection entry: %w", err)
		}
		detail.Entries = append(detail.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate selection entries: %w", err)
	}
	return &detail, nil
}

func (s *Server) queryClusterList(ctx context.Context, page, pageSize int) (int64, []clusterListItem, error) {
	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM pulse.clusters`).Scan(&total); err != nil {
		return 0, nil, fmt.Errorf("count clusters: %w", err)
	}

	const listQ = `
SELECT cluster_id, cluster_uuid, representative_item_id, item_count, source_count, sim_avg, sim_max, newest_published_at
FROM pulse.clusters
ORDER BY newest_published_at DESC, cluster_id DESC
LIMIT $1 OFFSET $2
`
	rows, err := s.pool.Query(ctx, listQ, pageSize, (page-1)*pageSize)
	if err != nil {
		return 0, nil, fmt.Errorf("query clusters: %w", err)
	}
	defer rows.Close()

	items := []clusterListItem{}
	for rows.Next() {
		var item clusterListItem
		if err := rows.Scan(&item.ClusterID, &item.ClusterUUID, &item.RepresentativeItemID, &item.ItemCount, &item.SourceCount, &item.SimAvg, &item.SimMax, &item.NewestPublishedAt); err != nil {
			return 0, nil, fmt.Errorf("scan cluster row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("iterate cluster rows: %w", err)
	}
	return total, items, nil
}

func (s *Server) queryClusterDetail(ctx context.Context, clusterID int64) (*clusterDetail, error) {
	const clusterQ = `
SELECT cluster_id, cluster_uuid, representative_item_id, item_count, source_count, sim_avg, sim_max, newest_published_at
FROM pulse.clusters
WHERE cluster_id = $1
`
	var detail clusterDetail
	err := s.pool.QueryRow(ctx, clusterQ, clusterID).Scan(
		&detail.Cluster.ClusterID,
		&detail.Cluster.ClusterUUID,
		&detail.Cluster.RepresentativeItemID,
		&detail.Cluster.ItemCount,
		&detail.Cluster.SourceCount,
		&detail.Cluster.SimAvg,
		&detail.Cluster.SimMax,
		&detail.Cluster.NewestPublishedAt,
	)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, errClusterNotFound
		}
		return nil, fmt.Errorf("query cluster: %w", err)
	}

	const membersQ = `
SELECT item_id, item_uuid, source_id, canonical_url, language, trust_score, published_at, content_length
FROM pulse.items
WHERE cluster_id = $1
  AND deleted_at IS NULL
ORDER BY published_at, item_id
`
	rows, err := s.pool.Query(ctx, membersQ, clusterID)
	if err != nil {
		return nil, fmt.Errorf("query cluster members: %w", err)
	}
	defer rows.Close()

	detail.Members = []clusterMemberItem{}
	for rows.Next() {
		var m clusterMemberItem
		if err := rows.Scan(&m.ItemID, &m.ItemUUID, &m.SourceID, &m.CanonicalURL, &m.Language, &m.TrustScore, &m.PublishedAt, &m.ContentLength); err != nil {
			return nil, fmt.Errorf("scan cluster member: %w", err)
		}
		m.Representative = m.ItemID == detail.Cluster.RepresentativeItemID
		detail.Members = append(detail.Members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cluster members: %w", err)
	}
	return &detail, nil
}

func (s *Server) queryStats(ctx context.Context) (*statsResponse, error) {
	stats := &statsResponse{TaskCounts: map[string]int64{}}

	const countsQ = `
SELECT
	(SELECT COUNT(*) FROM pulse.items WHERE deleted_at IS NULL),
	(SELECT COUNT(*) FROM pulse.items WHERE deleted_at IS NULL AND cluster_id IS NULL),
	(SELECT COUNT(*) FROM pulse.clusters),
	(SELECT COUNT(*) FROM pulse.selections),
	(SELECT COUNT(*) FROM pulse.selections WHERE degraded),
	(SELECT MAX(published_at) FROM pulse.items WHERE deleted_at IS NULL),
	(SELECT MAX(created_at) FROM pulse.selections)
`
	err := s.pool.QueryRow(ctx, countsQ).Scan(
		&stats.Items,
		&stats.UnclusteredItems,
		&stats.Clusters,
		&stats.Selections,
		&stats.DegradedSelections,
		&stats.NewestItemAt,
		&stats.LastSelectionAt,
	)
	if err != nil {
		return nil, fmt.Errorf("query pipeline counts: %w", err)
	}

	if s.queue != nil {
		taskCounts, err := s.queue.Stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("query task counts: %w", err)
		}
		stats.TaskCounts = taskCounts
	}
	return stats, nil
}
