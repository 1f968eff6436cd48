package platform

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Nasapan23/sandsound/internal/model"
	"github.com/ytget/ytdlp/v2"
)

// Timeout constants
const (
	DefaultProbeTimeout = 60 * time.Second
)

// URL parameters and separators
const (
	CollectionParam = "list="
	ParamSeparator  = "&"
)

// Default values
const (
	DefaultDuration       = "Unknown"
	DefaultCollectionName = "Unknown Playlist"
)

// URL templates
const (
	VideoURLTemplate = "https://www.youtube.com/watch?v=%s"
)

// Collection title constants
const (
	MinPrefixLength  = 10
	CollectionSuffix = " Playlist"
)

// Prober lists the members of a collection (playlist) without fetching any
// content, so the incremental work set can be computed before submission.
type Prober struct {
	timeout time.Duration
}

// NewProber creates a new collection prober
func NewProber() *Prober {
	return &Prober{
		timeout: DefaultProbeTimeout,
	}
}

// SetTimeout sets the timeout for probe operations
func (p *Prober) SetTimeout(timeout time.Duration) {
	p.timeout = timeout
}

// ProbeCollection returns the flat item listing of a collection URL
func (p *Prober) ProbeCollection(ctx context.Context, url string) (*model.Collection, error) {
	if !IsCollectionURL(url) {
		return nil, fmt.Errorf("not a collection URL: %s", url)
	}

	collectionID := ExtractCollectionID(url)
	if collectionID == "" {
		return nil, fmt.Errorf("could not extract collection ID from URL: %s", url)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	d := ytdlp.New()
	entries, err := d.GetPlaylistItemsAll(ctx, collectionID, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list collection items: %w", err)
	}

	items := make([]model.CollectionItem, 0, len(entries))
	for _, entry := range entries {
		items = append(items, model.CollectionItem{
			ID:    entry.VideoID,
			Title: entry.Title,
			// The flat listing carries no length information.
			Duration: DefaultDuration,
			URL:      fmt.Sprintf(VideoURLTemplate, entry.VideoID),
		})
	}

	return &model.Collection{
		ID:    collectionID,
		Title: deriveCollectionTitle(items),
		URL:   url,
		Items: items,
	}, nil
}

// IsCollectionURL checks if the URL points at a playlist-style collection
func IsCollectionURL(url string) bool {
	return strings.Contains(url, CollectionParam)
}

// ExtractCollectionID extracts the collection ID from various URL formats
func ExtractCollectionID(url string) string {
	if !strings.Contains(url, CollectionParam) {
		return ""
	}
	parts := strings.Split(url, CollectionParam)
	if len(parts) < 2 {
		return ""
	}
	id := parts[1]
	if strings.Contains(id, ParamSeparator) {
		id = strings.Split(id, ParamSeparator)[0]
	}
	return id
}

// deriveCollectionTitle generates a title for the collection based on items
func deriveCollectionTitle(items []model.CollectionItem) string {
	if len(items) == 0 {
		return DefaultCollectionName
	}
	if len(items) > 1 {
		commonPrefix := findCommonPrefix(items[0].Title, items[1].Title)
		if len(commonPrefix) > MinPrefixLength {
			return strings.TrimSpace(commonPrefix) + CollectionSuffix
		}
	}
	return items[0].Title + CollectionSuffix
}

// findCommonPrefix finds the common prefix between two strings
func findCommonPrefix(s1, s2 string) string {
	minLen := min(len(s1), len(s2))
	for i := 0; i < minLen; i++ {
		if s1[i] != s2[i] {
			return s1[:i]
		}
	}
	return s1[:minLen]
}
