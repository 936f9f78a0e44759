// Package registry keeps the deduplicated set of peripherals seen by scans,
// split into the target-model partition and everything else.
package registry

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/srg/lysync/internal/address"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// DefaultMarker identifies the LYWSD02 clock in advertised names
const DefaultMarker = "LYWSD02"

// UnknownName is recorded for peripherals that advertise no name
const UnknownName = "Unknown"

// ErrNotFound is returned by Get and Lookup when no record matches
var ErrNotFound = errors.New("device not found")

// Partition is one of the two disjoint registry buckets
type Partition int

const (
	TargetModel Partition = iota
	Other
)

func (p Partition) String() string {
	switch p {
	case TargetModel:
		return "target"
	case Other:
		return "other"
	default:
		return fmt.Sprintf("partition(%d)", int(p))
	}
}

// ParsePartition accepts the short forms used by the shell ("t", "o")
func ParsePartition(s string) (Partition, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "t", "target", "lywsd02":
		return TargetModel, nil
	case "o", "other":
		return Other, nil
	default:
		return 0, fmt.Errorf("unknown partition %q (expected t or o)", s)
	}
}

// Record is an immutable discovered peripheral
type Record struct {
	ID        string
	Name      string
	Partition Partition
	FirstSeen time.Time
}

func (r Record) String() string {
	return fmt.Sprintf("%s [%s]", r.Name, r.ID)
}

func (r Record) matches(lowerQuery string) bool {
	return strings.Contains(strings.ToLower(r.Name), lowerQuery) ||
		strings.Contains(strings.ToLower(r.ID), lowerQuery)
}

// Registration is the result of Register
type Registration struct {
	Inserted  bool
	Partition Partition
	Record    Record
}

// Registry is safe for concurrent use. Records are never evicted except by Clear.
type Registry struct {
	marker string
	now    func() time.Time

	mu     sync.RWMutex
	index  *hashmap.Map[string, Record]
	target *orderedmap.OrderedMap[string, Record]
	other  *orderedmap.OrderedMap[string, Record]
}

// New creates an empty registry. An empty marker falls back to DefaultMarker.
func New(marker string) *Registry {
	if marker == "" {
		marker = DefaultMarker
	}
	return &Registry{
		marker: marker,
		now:    time.Now,
		index:  hashmap.New[string, Record](),
		target: orderedmap.New[string, Record](),
		other:  orderedmap.New[string, Record](),
	}
}

// Marker returns the substring that selects the target-model partition
func (r *Registry) Marker() string {
	return r.marker
}

// Register inserts a peripheral on first sighting. Re-registering a known ID
// is a no-op, even when the name differs from the first sighting.
func (r *Registry) Register(rawName, rawID string) Registration {
	id := address.Normalize(rawID)
	name := rawName
	if name == "" {
		name = UnknownName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.index.Get(id); ok {
		return Registration{Partition: existing.Partition, Record: existing}
	}

	rec := Record{ID: id, Name: name, Partition: Other, FirstSeen: r.now()}
	if strings.Contains(name, r.marker) {
		rec.Partition = TargetModel
	}

	r.index.Set(id, rec)
	r.bucket(rec.Partition).Set(id, rec)

	return Registration{Inserted: true, Partition: rec.Partition, Record: rec}
}

func (r *Registry) bucket(p Partition) *orderedmap.OrderedMap[string, Record] {
	if p == TargetModel {
		return r.target
	}
	return r.other
}

// Search returns the records whose name or ID contains query (case-insensitive),
// in insertion order within each partition.
func (r *Registry) Search(query string) (target, other []Record) {
	q := strings.ToLower(strings.TrimSpace(query))

	r.mu.RLock()
	defer r.mu.RUnlock()

	collect := func(m *orderedmap.OrderedMap[string, Record]) []Record {
		out := make([]Record, 0, m.Len())
		for pair := m.Oldest(); pair != nil; pair = pair.Next() {
			if pair.Value.matches(q) {
				out = append(out, pair.Value)
			}
		}
		return out
	}
	return collect(r.target), collect(r.other)
}

// Get resolves a position within a partition, as shown by an unfiltered Search
func (r *Registry) Get(p Partition, index int) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p != TargetModel && p != Other {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, p)
	}

	m := r.bucket(p)
	if index < 0 || index >= m.Len() {
		return Record{}, fmt.Errorf("%w: %s index %d (have %d)", ErrNotFound, p, index, m.Len())
	}

	i := 0
	for pair := m.Oldest(); pair != nil; pair = pair.Next() {
		if i == index {
			return pair.Value, nil
		}
		i++
	}
	return Record{}, fmt.Errorf("%w: %s index %d", ErrNotFound, p, index)
}

// Lookup finds a record by raw or normalized ID
func (r *Registry) Lookup(rawID string) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.index.Get(address.Normalize(rawID))
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, rawID)
	}
	return rec, nil
}

// Len returns the number of records in a partition
func (r *Registry) Len(p Partition) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bucket(p).Len()
}

// Clear drops every record
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.index = hashmap.New[string, Record]()
	r.target = orderedmap.New[string, Record]()
	r.other = orderedmap.New[string, Record]()
}
