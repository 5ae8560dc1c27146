package ingest

import (
	"testing"

	payloadschema "github.com/TOOITW/morning-pulse/schema"
)

func TestNormalizeText(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"  Hello   World  ", "hello world"},
		{"Tabs\tand\nnewlines", "tabs and newlines"},
		{"", ""},
		{"   \t\n  ", ""},
		{"MiXeD Case", "mixed case"},
	}
	for _, tc := range cases {
		if got := normalizeText(tc.in); got != tc.want {
			t.Fatalf("normalizeText(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"https://Example.com/News/", "https://example.com/News"},
		{"https://example.com:443/a", "https://example.com/a"},
		{"https://example.com/a?utm_source=x&id=2", "https://example.com/a?id=2"},
		{"https://example.com/a?b=2&a=1", "https://example.com/a?a=1&b=2"},
		{"https://example.com/a#section", "https://example.com/a"},
		{"not a url", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := normalizeURL(tc.in); got != tc.want {
			t.Fatalf("normalizeURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeTags(t *testing.T) {
	t.Parallel()

	got := normalizeTags([]string{" Economy ", "TECH", "economy", "", "tech"})
	if got != "economy,tech" {
		t.Fatalf("normalizeTags = %q", got)
	}
	if normalizeTags(nil) != "" {
		t.Fatal("empty input should produce empty string")
	}
}

func TestBuildItem(t *testing.T) {
	t.Parallel()

	body := "The Central Bank raised its key rate by a quarter point."
	url := "https://example.com/articles/rates?utm_source=feed"
	payload := &payloadschema.FeedItem{
		PayloadVersion: "v1",
		SourceID:       " wire-a ",
		SourceItemID:   "a-123",
		Title:          "Central Bank Raises Rates",
		BodyText:       &body,
		CanonicalURL:   &url,
		PublishedAt:    "2026-03-10T06:00:00+02:00",
		TrustScore:     0.9,
		Tags:           []string{"Economy", "rates"},
	}

	item, err := buildItem(payload)
	if err != nil {
		t.Fatalf("buildItem: %v", err)
	}

	if item.SourceID != "wire-a" {
		t.Fatalf("SourceID = %q", item.SourceID)
	}
	if item.NormalizedText != "central bank raises rates the central bank raised its key rate by a quarter point." {
		t.Fatalf("NormalizedText = %q", item.NormalizedText)
	}
	if item.Fingerprint == nil {
		t.Fatal("fingerprint not computed")
	}
	if item.CanonicalURL == nil || *item.CanonicalURL != "https://example.com/articles/rates" {
		t.Fatalf("CanonicalURL = %v", item.CanonicalURL)
	}
	if len(item.CanonicalURLHash) != 32 {
		t.Fatalf("CanonicalURLHash length = %d, want sha256", len(item.CanonicalURLHash))
	}
	if !item.PublishedAt.Equal(item.PublishedAt.UTC()) || item.PublishedAt.Hour() != 4 {
		t.Fatalf("PublishedAt not normalized to UTC: %v", item.PublishedAt)
	}
	if item.Tags != "economy,rates" {
		t.Fatalf("Tags = %q", item.Tags)
	}
	if item.ContentLength != len(item.NormalizedText) {
		t.Fatalf("ContentLength = %d", item.ContentLength)
	}
}

func TestBuildItemRequiresText(t *testing.T) {
	t.Parallel()

	payload := &payloadschema.FeedItem{
		PayloadVersion: "v1",
		SourceID:       "wire-a",
		SourceItemID:   "a-123",
		Title:          "   ",
		PublishedAt:    "2026-03-10T06:00:00Z",
		TrustScore:     0.9,
	}
	if _, err := buildItem(payload); err == nil {
		t.Fatal("expected error for empty text")
	}
}

func TestBuildItemLanguage(t *testing.T) {
	t.Parallel()

	lang := "de"
	payload := &payloadschema.FeedItem{
		PayloadVersion: "v1",
		SourceID:       "wire-a",
		SourceItemID:   "a-1",
		Title:          "Zentralbank erhoeht Leitzins",
		PublishedAt:    "2026-03-10T06:00:00Z",
		TrustScore:     0.9,
		Language:       &lang,
	}
	item, err := buildItem(payload)
	if err != nil {
		t.Fatalf("buildItem: %v", err)
	}
	if item.Language != "de" {
		t.Fatalf("Language = %q, want declared language preserved", item.Language)
	}
}
