package history

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/phuslu/log"

	"github.com/Nasapan23/sandsound/internal/model"
	"github.com/Nasapan23/sandsound/internal/platform"
)

// Ledger file constants
const (
	LedgerFileName        = "download_history.json"
	LedgerFilePermissions = 0644
	timestampFormat       = time.RFC3339
)

// ItemRecord is the durable record of one completed fetch.
type ItemRecord struct {
	ItemID    string `json:"item_id"`
	Title     string `json:"title"`
	FetchedAt string `json:"fetched_at"`
	Format    string `json:"format"`
	Quality   string `json:"quality"`
}

// CollectionRecord groups the item records fetched as members of one
// collection. Created lazily on the first completed fetch within that
// collection, never deleted implicitly.
type CollectionRecord struct {
	CollectionID  string                `json:"collection_id"`
	CollectionURL string                `json:"collection_url"`
	Title         string                `json:"title"`
	LastFetched   string                `json:"last_fetched"`
	Items         map[string]ItemRecord `json:"items"`
}

// ledgerFile is the on-disk layout.
type ledgerFile struct {
	Collections     map[string]*CollectionRecord `json:"collections"`
	StandaloneItems map[string]ItemRecord        `json:"standalone_items"`
}

// Ledger is the durable record of previously completed fetches, keyed by item
// and optionally by collection. In-memory state is the source of truth for
// the running process; every mutation is written through to disk, and a write
// failure is reported without rolling the mutation back.
type Ledger struct {
	mu          sync.Mutex
	path        string
	collections map[string]*CollectionRecord
	standalone  map[string]ItemRecord
}

// Open loads the ledger at path. A missing, unreadable, or corrupt file
// degrades to an empty ledger - history is an optimization, never a
// requirement for being able to fetch.
func Open(path string) *Ledger {
	l := &Ledger{
		path:        path,
		collections: make(map[string]*CollectionRecord),
		standalone:  make(map[string]ItemRecord),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("failed to read history, starting empty")
		}
		return l
	}

	var file ledgerFile
	if err := json.Unmarshal(data, &file); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("history file corrupt, starting empty")
		return l
	}

	if file.Collections != nil {
		l.collections = file.Collections
	}
	if file.StandaloneItems != nil {
		l.standalone = file.StandaloneItems
	}
	for _, record := range l.collections {
		if record.Items == nil {
			record.Items = make(map[string]ItemRecord)
		}
	}
	return l
}

// DefaultPath returns the per-user ledger file location
func DefaultPath() string {
	dir, err := platform.HomeConfigDir()
	if err != nil {
		return LedgerFileName
	}
	return filepath.Join(dir, LedgerFileName)
}

// RecordCompletion upserts the record for a completed fetch. Recording the
// same item twice in the same context overwrites the prior record and bumps
// the collection's last_fetched timestamp. The mutation is persisted
// synchronously; it satisfies the orchestrator's Recorder contract.
func (l *Ledger) RecordCompletion(itemID, title, format, quality string, col *model.CollectionRef) {
	now := time.Now().Format(timestampFormat)
	item := ItemRecord{
		ItemID:    itemID,
		Title:     title,
		FetchedAt: now,
		Format:    format,
		Quality:   quality,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if col != nil {
		record, ok := l.collections[col.ID]
		if !ok {
			record = &CollectionRecord{
				CollectionID:  col.ID,
				CollectionURL: col.URL,
				Title:         col.Title,
				Items:         make(map[string]ItemRecord),
			}
			l.collections[col.ID] = record
		}
		record.Items[itemID] = item
		record.LastFetched = now
	} else {
		l.standalone[itemID] = item
	}

	l.saveLocked()
}

// FetchedIDs returns the ids already fetched under a collection. Unknown
// collections yield an empty set, never an error.
func (l *Ledger) FetchedIDs(collectionID string) map[string]struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids := make(map[string]struct{})
	if record, ok := l.collections[collectionID]; ok {
		for id := range record.Items {
			ids[id] = struct{}{}
		}
	}
	return ids
}

// NewItems filters candidates down to the ids not yet fetched under the
// collection, preserving input order.
func (l *Ledger) NewItems(collectionID string, candidates []string) []string {
	fetched := l.FetchedIDs(collectionID)

	fresh := make([]string, 0, len(candidates))
	for _, id := range candidates {
		if _, ok := fetched[id]; !ok {
			fresh = append(fresh, id)
		}
	}
	return fresh
}

// IsFetched reports whether an item was fetched in the given collection
// context; collectionID "" queries the standalone context. The two contexts
// are disjoint: a collection-scoped fetch is invisible without its context
// and vice versa.
func (l *Ledger) IsFetched(itemID, collectionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if collectionID != "" {
		record, ok := l.collections[collectionID]
		if !ok {
			return false
		}
		_, ok = record.Items[itemID]
		return ok
	}
	_, ok := l.standalone[itemID]
	return ok
}

// CollectionRecordFor returns a copy of the record for a collection
func (l *Ledger) CollectionRecordFor(collectionID string) (CollectionRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.collections[collectionID]
	if !ok {
		return CollectionRecord{}, false
	}

	out := *record
	out.Items = make(map[string]ItemRecord, len(record.Items))
	for id, item := range record.Items {
		out.Items[id] = item
	}
	return out, true
}

// ClearCollection removes one collection from history
func (l *Ledger) ClearCollection(collectionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.collections[collectionID]; !ok {
		return
	}
	delete(l.collections, collectionID)
	l.saveLocked()
}

// ClearAll wipes the entire history
func (l *Ledger) ClearAll() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.collections = make(map[string]*CollectionRecord)
	l.standalone = make(map[string]ItemRecord)
	l.saveLocked()
}

// saveLocked writes the ledger through to disk. Callers hold l.mu.
func (l *Ledger) saveLocked() {
	file := ledgerFile{
		Collections:     l.collections,
		StandaloneItems: l.standalone,
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		log.Warn().Err(err).Msg("failed to encode history")
		return
	}
	if err := os.WriteFile(l.path, data, LedgerFilePermissions); err != nil {
		log.Warn().Err(err).Str("path", l.path).Msg("failed to save history")
	}
}
