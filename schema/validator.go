// Package payloadschema validates inbound feed item payloads against the
// embedded JSON schema before anything touches the database.
package payloadschema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed feed_item.schema.json
var feedItemSchemaJSON string

// FeedItem is the decoded v1 ingestion payload.
type FeedItem struct {
	PayloadVersion string   `json:"payload_version"`
	SourceID       string   `json:"source_id"`
	SourceItemID   string   `json:"source_item_id"`
	Title          string   `json:"title"`
	BodyText       *string  `json:"body_text,omitempty"`
	CanonicalURL   *string  `json:"canonical_url,omitempty"`
	PublishedAt    string   `json:"published_at"`
	TrustScore     float64  `json:"trust_score"`
	Language       *string  `json:"language,omitempty"`
	Tags           []string `json:"tags,omitempty"`
}

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

// ValidateFeedItemPayload checks payload against the schema plus semantic
// rules the schema cannot express, and returns the decoded item.
func ValidateFeedItemPayload(payload json.RawMessage) (*FeedItem, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload JSON: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize payload JSON: %w", err)
	}

	var item FeedItem
	if err := json.Unmarshal(normalized, &item); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	if err := validateSemantics(&item); err != nil {
		return nil, err
	}

	return &item, nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource("feed_item.schema.json", strings.NewReader(feedItemSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile("feed_item.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}

		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}

	return value, nil
}

func validateSemantics(item *FeedItem) error {
	if item == nil {
		return fmt.Errorf("payload is nil")
	}

	if strings.TrimSpace(item.SourceID) == "" {
		return fmt.Errorf("source_id must not be empty")
	}
	if strings.TrimSpace(item.SourceItemID) == "" {
		return fmt.Errorf("source_item_id must not be empty")
	}
	if strings.TrimSpace(item.Title) == "" {
		return fmt.Errorf("title must not be empty")
	}

	publishedAt, err := time.Parse(time.RFC3339, strings.TrimSpace(item.PublishedAt))
	if err != nil {
		return fmt.Errorf("published_at must be RFC3339: %w", err)
	}
	if publishedAt.IsZero() {
		return fmt.Errorf("published_at must not be the zero time")
	}

	if item.TrustScore < 0 || item.TrustScore > 1 {
		return fmt.Errorf("trust_score must be in [0,1], got %f", item.TrustScore)
	}

	if item.CanonicalURL != nil {
		trimmed := strings.TrimSpace(*item.CanonicalURL)
		if trimmed == "" {
			return fmt.Errorf("canonical_url must not be empty")
		}
		if _, err := url.ParseRequestURI(trimmed); err != nil {
			return fmt.Errorf("canonical_url is not a valid URI: %w", err)
		}
	}

	for i, tag := range item.Tags {
		if strings.TrimSpace(tag) == "" {
			return fmt.Errorf("tags[%d] must not be empty", i)
		}
	}

	return nil
}
