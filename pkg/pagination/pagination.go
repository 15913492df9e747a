// Package pagination holds the per-caller snapshot and cursor state that
// backs the list/more/details tools.
//
// A "fresh" list call snapshots the full sorted collection for one
// (identity, resource kind) pair and returns the first page; "more" calls
// replay the frozen snapshot from the cursor without re-fetching. The
// snapshot is deliberately stale between fresh calls: the use case is
// conversational browsing, not a live feed, and re-fetching the whole
// collection on every page would be expensive and rate-limited upstream.
//
// The cursor advances by the number of positions scanned (not matched),
// so repeated "more" calls terminate even under heavy filtering; pages
// may come back shorter than requested in filter-sparse regions.
package pagination

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/osbuild/image-builder-mcp/pkg/metrics"
)

// Kind names a paginated resource.
type Kind string

const (
	KindBlueprint Kind = "blueprint"
	KindCompose   Kind = "compose"
)

// Record is one snapshot entry. ReplyID is a transient 1-based ordinal in
// the snapshot's sort order, assigned on Fresh and stable only within one
// snapshot's lifetime.
type Record struct {
	// UUID is the upstream resource id.
	UUID string

	// Name is the filter and lookup target (blueprint name or compose
	// image name).
	Name string

	// SortKey is the resource timestamp (last_modified_at or created_at);
	// snapshots sort descending by it, ties broken by original API order.
	SortKey string

	// ReplyID is assigned by Fresh.
	ReplyID int

	// Fields is the exact object returned to the caller for this record.
	// Fresh stores the assigned reply_id into it.
	Fields map[string]any
}

// Page is the result of a Fresh or More call.
type Page struct {
	Records []Record
	Total   int // snapshot size
	HasMore bool
}

type key struct {
	identity string
	kind     Kind
}

// entry pairs one snapshot with its cursor. Both are guarded by a single
// mutex so a cursor can never be observed against a snapshot that was
// concurrently replaced.
type entry struct {
	mu       sync.Mutex
	snapshot []Record
	cursor   int // positions consumed; invariant 0 <= cursor <= len(snapshot)
}

// Store owns all snapshot/cursor state, keyed by caller identity and
// resource kind. Different identities never contend on a lock.
type Store struct {
	mu      sync.Mutex
	entries map[key]*entry

	metrics        *metrics.Metrics
	blueprintTotal atomic.Int64
	composeTotal   atomic.Int64
}

// NewStore creates an empty store. metrics may be nil.
func NewStore(m *metrics.Metrics) *Store {
	return &Store{
		entries: make(map[key]*entry),
		metrics: m,
	}
}

func (s *Store) entryFor(identity string, kind Kind) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{identity: identity, kind: kind}
	e, ok := s.entries[k]
	if !ok {
		e = &entry{}
		s.entries[k] = e
	}
	return e
}

// Fresh sorts records descending by SortKey (stable, so upstream order
// breaks ties), assigns reply ids 1..N, replaces any prior snapshot for
// the (identity, kind) pair, resets the cursor, and returns the first
// page of up to size records matching the optional case-insensitive
// substring search.
func (s *Store) Fresh(identity string, kind Kind, records []Record, size int, search string) Page {
	snapshot := make([]Record, len(records))
	copy(snapshot, records)
	sort.SliceStable(snapshot, func(i, j int) bool {
		return snapshot[i].SortKey > snapshot[j].SortKey
	})
	for i := range snapshot {
		snapshot[i].ReplyID = i + 1
		if snapshot[i].Fields == nil {
			snapshot[i].Fields = make(map[string]any)
		}
		snapshot[i].Fields["reply_id"] = i + 1
	}

	page, scanned := collect(snapshot, 0, size, search)

	e := s.entryFor(identity, kind)
	e.mu.Lock()
	delta := len(snapshot) - len(e.snapshot)
	e.snapshot = snapshot
	e.cursor = scanned
	e.mu.Unlock()

	s.addTotal(kind, delta)

	return Page{
		Records: page,
		Total:   len(snapshot),
		HasMore: len(snapshot) > len(page),
	}
}

// More replays the existing snapshot from the cursor, collecting up to
// size matches and advancing the cursor by the positions scanned. The
// second return value is false when no snapshot exists yet or the cursor
// already reached the end — an expected condition, not a failure.
func (s *Store) More(identity string, kind Kind, size int, search string) (Page, bool) {
	s.mu.Lock()
	e, ok := s.entries[key{identity: identity, kind: kind}]
	s.mu.Unlock()
	if !ok {
		return Page{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.snapshot) == 0 || e.cursor >= len(e.snapshot) {
		return Page{Total: len(e.snapshot)}, false
	}

	page, scanned := collect(e.snapshot, e.cursor, size, search)
	e.cursor += scanned

	return Page{
		Records: page,
		Total:   len(e.snapshot),
		HasMore: e.cursor < len(e.snapshot),
	}, true
}

// Has reports whether a snapshot exists for the (identity, kind) pair.
func (s *Store) Has(identity string, kind Kind) bool {
	s.mu.Lock()
	e, ok := s.entries[key{identity: identity, kind: kind}]
	s.mu.Unlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.snapshot) > 0
}

// Find returns every snapshot record whose UUID, name, or stringified
// reply id equals identifier. Names are not unique upstream, so zero,
// one, or several matches are all possible.
func (s *Store) Find(identity string, kind Kind, identifier string) []Record {
	s.mu.Lock()
	e, ok := s.entries[key{identity: identity, kind: kind}]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var matches []Record
	for _, r := range e.snapshot {
		if r.UUID == identifier || r.Name == identifier || strconv.Itoa(r.ReplyID) == identifier {
			matches = append(matches, r)
		}
	}
	return matches
}

// Purge drops all snapshots for an identity. Called when the identity's
// client is evicted from the registry.
func (s *Store) Purge(identity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.entries {
		if k.identity != identity {
			continue
		}
		e.mu.Lock()
		n := len(e.snapshot)
		e.snapshot = nil
		e.cursor = 0
		e.mu.Unlock()
		s.addTotal(k.kind, -n)
		delete(s.entries, k)
	}
}

// collect scans snapshot starting at offset, gathering up to size records
// whose Name contains search case-insensitively (every record matches
// when search is empty). It returns the page and the number of positions
// scanned, which is what the cursor advances by.
func collect(snapshot []Record, offset, size int, search string) (page []Record, scanned int) {
	needle := strings.ToLower(search)
	for i := offset; i < len(snapshot); i++ {
		scanned++
		if needle == "" || strings.Contains(strings.ToLower(snapshot[i].Name), needle) {
			page = append(page, snapshot[i])
			if len(page) >= size {
				break
			}
		}
	}
	return page, scanned
}

func (s *Store) addTotal(kind Kind, delta int) {
	var total int64
	switch kind {
	case KindBlueprint:
		total = s.blueprintTotal.Add(int64(delta))
	case KindCompose:
		total = s.composeTotal.Add(int64(delta))
	default:
		return
	}
	s.metrics.SetSnapshotRecords(string(kind), int(total))
}
