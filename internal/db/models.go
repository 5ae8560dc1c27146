package db

import (
	"encoding/json"
	"time"
)

// Item maps pulse.items. Fingerprint and ClusterID are the only fields the
// pipeline mutates after ingestion.
type Item struct {
	ItemID           int64      `gorm:"column:item_id;primaryKey;autoIncrement"`
	ItemUUID         string     `gorm:"column:item_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	SourceID         string     `gorm:"column:source_id;type:text;not null"`
	CanonicalURL     *string    `gorm:"column:canonical_url;type:text"`
	CanonicalURLHash []byte     `gorm:"column:canonical_url_hash;type:bytea"`
	NormalizedText   string     `gorm:"column:normalized_text;type:text;not null;default:''"`
	Language         string     `gorm:"column:language;type:text;not null;default:und"`
	TrustScore       float64    `gorm:"column:trust_score;type:double precision;not null;default:0"`
	PublishedAt      time.Time  `gorm:"column:published_at;type:timestamptz;not null"`
	Fingerprint      *int64     `gorm:"column:fingerprint;type:bigint"`
	ClusterID        *int64     `gorm:"column:cluster_id;type:bigint"`
	Tags             string     `gorm:"column:tags;type:text;not null;default:''"`
	ContentLength    int        `gorm:"column:content_length;type:integer;not null;default:0"`
	DeletedAt        *time.Time `gorm:"column:deleted_at;type:timestamptz"`
	CreatedAt        time.Time  `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Item) TableName() string { return "pulse.items" }

// Cluster maps pulse.clusters. A cluster with zero members is deleted rather
// than kept around.
type Cluster struct {
	ClusterID            int64     `gorm:"column:cluster_id;primaryKey;autoIncrement"`
	ClusterUUID          string    `gorm:"column:cluster_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	RepresentativeItemID int64     `gorm:"column:representative_item_id;type:bigint;not null"`
	ItemCount            int       `gorm:"column:item_count;type:integer;not null;default:1"`
	SourceCount          int       `gorm:"column:source_count;type:integer;not null;default:1"`
	SimAvg               float64   `gorm:"column:sim_avg;type:double precision;not null;default:1"`
	SimMax               float64   `gorm:"column:sim_max;type:double precision;not null;default:1"`
	NewestPublishedAt    time.Time `gorm:"column:newest_published_at;type:timestamptz;not null"`
	CreatedAt            time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt            time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Cluster) TableName() string { return "pulse.clusters" }

// Selection maps pulse.selections. cycle_date is the idempotency key: at most
// one row per delivery cycle, immutable once written.
type Selection struct {
	SelectionID   int64           `gorm:"column:selection_id;primaryKey;autoIncrement"`
	SelectionUUID string          `gorm:"column:selection_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	CycleDate     time.Time       `gorm:"column:cycle_date;type:date;not null;unique"`
	ItemIDs       json.RawMessage `gorm:"column:item_ids;type:jsonb;not null"`
	Degraded      bool            `gorm:"column:degraded;type:boolean;not null;default:false"`
	ItemCount     int             `gorm:"column:item_count;type:integer;not null;default:0"`
	CreatedAt     time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (Selection) TableName() string { return "pulse.selections" }

// SelectionEntry maps pulse.selection_entries, the per-item audit trail for a
// selection: every considered item lands here with its rank or exclusion reason.
type SelectionEntry struct {
	SelectionEntryID   int64     `gorm:"column:selection_entry_id;primaryKey;autoIncrement"`
	SelectionEntryUUID string    `gorm:"column:selection_entry_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	SelectionID        int64     `gorm:"column:selection_id;type:bigint;not null"`
	ItemID             int64     `gorm:"column:item_id;type:bigint;not null"`
	Included           bool      `gorm:"column:included;type:boolean;not null"`
	Rank               *int      `gorm:"column:rank;type:integer"`
	Reason             string    `gorm:"column:reason;type:text;not null"`
	Score              *float64  `gorm:"column:score;type:double precision"`
	RecencyScore       *float64  `gorm:"column:recency_score;type:double precision"`
	TrustScore         *float64  `gorm:"column:trust_score;type:double precision"`
	RelevanceScore     *float64  `gorm:"column:relevance_score;type:double precision"`
	HeatScore          *float64  `gorm:"column:heat_score;type:double precision"`
	CreatedAt          time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (SelectionEntry) TableName() string { return "pulse.selection_entries" }

// Task maps pulse.tasks, the durable work queue.
type Task struct {
	TaskID         int64           `gorm:"column:task_id;primaryKey;autoIncrement"`
	TaskUUID       string          `gorm:"column:task_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	Type           string          `gorm:"column:type;type:text;not null"`
	Status         string          `gorm:"column:status;type:text;not null;default:pending"`
	Payload        json.RawMessage `gorm:"column:payload;type:jsonb;not null"`
	Result         json.RawMessage `gorm:"column:result;type:jsonb"`
	Attempts       int             `gorm:"column:attempts;type:integer;not null;default:0"`
	MaxAttempts    int             `gorm:"column:max_attempts;type:integer;not null;default:3"`
	ScheduledFor   time.Time       `gorm:"column:scheduled_for;type:timestamptz;not null;default:now()"`
	StartedAt      *time.Time      `gorm:"column:started_at;type:timestamptz"`
	CompletedAt    *time.Time      `gorm:"column:completed_at;type:timestamptz"`
	LeaseExpiresAt *time.Time      `gorm:"column:lease_expires_at;type:timestamptz"`
	ErrorMessage   *string         `gorm:"column:error_message;type:text"`
	CreatedAt      time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Task) TableName() string { return "pulse.tasks" }

func autoMigrateModels() []any {
	return []any{
		&Item{},
		&Cluster{},
		&Selection{},
		&SelectionEntry{},
		&Task{},
	}
}
