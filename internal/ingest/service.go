// Package ingest accepts validated feed item payloads and turns them into
// fingerprinted item rows ready for clustering.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/TOOITW/morning-pulse/internal/db"
	"github.com/TOOITW/morning-pulse/internal/fingerprint"
	"github.com/TOOITW/morning-pulse/internal/globaltime"
	"github.com/TOOITW/morning-pulse/internal/langdetect"
	payloadschema "github.com/TOOITW/morning-pulse/schema"
)

type Service struct {
	pool   *db.Pool
	logger zerolog.Logger
}

func NewService(pool *db.Pool, logger zerolog.Logger) *Service {
	return &Service{pool: pool, logger: logger}
}

// Outcome reports what one ingest call did.
type Outcome struct {
	ItemID   int64
	Inserted bool
}

// Ingest validates raw, builds the item row, and inserts it. An item whose
// canonical URL already exists for the same source is a duplicate delivery
// and is skipped without error.
func (s *Service) Ingest(ctx context.Context, raw json.RawMessage) (Outcome, error) {
	payload, err := payloadschema.ValidateFeedItemPayload(raw)
	if err != nil {
		return Outcome{}, fmt.Errorf("invalid feed item payload: %w", err)
	}

	item, err := buildItem(payload)
	if err != nil {
		return Outcome{}, err
	}

	outcome, err := s.insertItem(ctx, item)
	if err != nil {
		return Outcome{}, err
	}

	event := s.logger.Info()
	if !outcome.Inserted {
		event = s.logger.Debug()
	}
	event.
		Str("source_id", item.SourceID).
		Bool("inserted", outcome.Inserted).
		Int64("item_id", outcome.ItemID).
		Msg("feed item ingested")
	return outcome, nil
}

// buildItem derives the stored row from a validated payload: normalized text,
// canonical URL hash, simhash fingerprint, and detected language.
func buildItem(payload *payloadschema.FeedItem) (db.Item, error) {
	title := normalizeText(payload.Title)
	body := ""
	if payload.BodyText != nil {
		body = normalizeText(*payload.BodyText)
	}

	normalized := title
	if body != "" {
		normalized = title + " " + body
	}
	if normalized == "" {
		return db.Item{}, fmt.Errorf("feed item has no text content")
	}

	publishedAt, err := time.Parse(time.RFC3339, strings.TrimSpace(payload.PublishedAt))
	if err != nil {
		return db.Item{}, fmt.Errorf("parse published_at: %w", err)
	}

	item := db.Item{
		SourceID:       strings.TrimSpace(payload.SourceID),
		NormalizedText: normalized,
		TrustScore:     payload.TrustScore,
		PublishedAt:    publishedAt.UTC(),
		Tags:           normalizeTags(payload.Tags),
		ContentLength:  len(normalized),
		Language:       "und",
	}

	fp := int64(uint64(fingerprint.Compute(normalized)))
	item.Fingerprint = &fp

	if payload.CanonicalURL != nil {
		canonical := normalizeURL(*payload.CanonicalURL)
		if canonical != "" {
			hash := sha256.Sum256([]byte(canonical))
			item.CanonicalURL = &canonical
			item.CanonicalURLHash = append([]byte(nil), hash[:]...)
		}
	}

	if payload.Language != nil && *payload.Language != "" {
		item.Language = strings.ToLower(*payload.Language)
	} else if code := langdetect.DetectISO6391(normalized); code != "" {
		item.Language = code
	}

	return item, nil
}

func (s *Service) insertItem(ctx context.Context, item db.Item) (Outcome, error) {
	now := globaltime.UTC()

	const insertQ = `
INSERT INTO pulse.items (
	source_id,
	canonical_url,
	canonical_url_hash,
	normalized_text,
	language,
	trust_score,
	published_at,
	fingerprint,
	tags,
	content_length,
	created_at,
	updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
ON CONFLICT (source_id, canonical_url_hash) WHERE canonical_url_hash IS NOT NULL DO NOTHING
RETURNING item_id
`
	var itemID int64
	err := s.pool.QueryRow(
		ctx,
		insertQ,
		item.SourceID,
		item.CanonicalURL,
		item.CanonicalURLHash,
		item.NormalizedText,
		item.Language,
		item.TrustScore,
		item.PublishedAt,
		item.Fingerprint,
		item.Tags,
		item.ContentLength,
		now,
	).Scan(&itemID)
	if err == nil {
		return Outcome{ItemID: itemID, Inserted: true}, nil
	}
	if !db.IsNoRows(err) {
		return Outcome{}, fmt.Errorf("insert item: %w", err)
	}

	// Conflict path: the row already exists, look it up for the caller.
	const existingQ = `
SELECT item_id
FROM pulse.items
WHERE source_id = $1
  AND canonical_url_hash = $2
  AND deleted_at IS NULL
`
	if err := s.pool.QueryRow(ctx, existingQ, item.SourceID, item.CanonicalURLHash).Scan(&itemID); err != nil {
		if db.IsNoRows(err) {
			return Outcome{}, fmt.Errorf("item conflicted but no existing row found for source_id=%s", item.SourceID)
		}
		return Outcome{}, fmt.Errorf("look up existing item: %w", err)
	}
	return Outcome{ItemID: itemID, Inserted: false}, nil
}
