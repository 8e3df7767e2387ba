package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"synapsedb.dev/synapsedb/objstore"
	"synapsedb.dev/synapsedb/types"
)

// countsRecord is the persisted counts object: the
// authoritative cache of total/per-type counts, recomputed by scanning
// if absent or corrupt.
type countsRecord struct {
	TotalNounCount int            `json:"totalNounCount"`
	TotalVerbCount int            `json:"totalVerbCount"`
	EntityCounts   map[string]int `json:"entityCounts"`
	VerbCounts     map[string]int `json:"verbCounts"`
	LastUpdated    time.Time      `json:"lastUpdated"`
}

// Counts is the engine's in-memory, periodically-persisted count
// bookkeeping for total/per-type nouns and verbs.
type Counts struct {
	mu       sync.Mutex
	nounsByT map[types.NounType]int
	verbsByT map[types.VerbType]int
	dirty    bool
}

func NewCounts() *Counts {
	return &Counts{
		nounsByT: make(map[types.NounType]int),
		verbsByT: make(map[types.VerbType]int),
	}
}

func (c *Counts) IncNoun(t types.NounType, delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nounsByT[t] += delta
	c.dirty = true
}

func (c *Counts) IncVerb(t types.VerbType, delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.verbsByT[t] += delta
	c.dirty = true
}

// CopyFrom replaces c's counters with a snapshot of src's. The copy is
// marked dirty so the next flush persists it under the new branch.
func (c *Counts) CopyFrom(src *Counts) {
	src.mu.Lock()
	nouns := make(map[types.NounType]int, len(src.nounsByT))
	for t, n := range src.nounsByT {
		nouns[t] = n
	}
	verbs := make(map[types.VerbType]int, len(src.verbsByT))
	for t, n := range src.verbsByT {
		verbs[t] = n
	}
	src.mu.Unlock()

	c.mu.Lock()
	c.nounsByT = nouns
	c.verbsByT = verbs
	c.dirty = true
	c.mu.Unlock()
}

func (c *Counts) TotalNouns() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, n := range c.nounsByT {
		total += n
	}
	return total
}

func (c *Counts) TotalVerbs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, n := range c.verbsByT {
		total += n
	}
	return total
}

func (c *Counts) NounCount(t types.NounType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nounsByT[t]
}

func (c *Counts) VerbCount(t types.VerbType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.verbsByT[t]
}

// Flush persists the counts object if dirty since the last flush.
// Invoked on explicit flush, close, and shutdown signals
func (c *Counts) Flush(ctx context.Context, backend objstore.ObjectBackend, paths Paths) error {
	c.mu.Lock()
	if !c.dirty {
		c.mu.Unlock()
		return nil
	}
	rec := countsRecord{
		EntityCounts: make(map[string]int, len(c.nounsByT)),
		VerbCounts:   make(map[string]int, len(c.verbsByT)),
		LastUpdated:  time.Now(),
	}
	for t, n := range c.nounsByT {
		rec.TotalNounCount += n
		rec.EntityCounts[t.String()] = n
	}
	for t, n := range c.verbsByT {
		rec.TotalVerbCount += n
		rec.VerbCounts[t.String()] = n
	}
	c.dirty = false
	c.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: marshaling counts: %v", types.ErrStorage, err)
	}
	if err := backend.Write(ctx, paths.CountsObject(), data); err != nil {
		c.mu.Lock()
		c.dirty = true
		c.mu.Unlock()
		return fmt.Errorf("%w: persisting counts: %v", types.ErrStorage, err)
	}
	return nil
}

// LoadCounts reads the persisted counts object, if any — trying the modern
// _system/ location first and the legacy index/ location second, per the
// backward-compat layout. Callers fall back to a recount when this
// returns ErrNotFound or a decode error.
func LoadCounts(ctx context.Context, backend objstore.ObjectBackend, paths Paths) (*Counts, error) {
	data, err := backend.Read(ctx, paths.CountsObject())
	if err != nil {
		if !errors.Is(err, types.ErrNotFound) {
			return nil, err
		}
		data, err = backend.Read(ctx, paths.LegacyCountsObject())
	}
	if err != nil {
		return nil, err
	}
	var rec countsRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: decoding counts: %v", types.ErrStorage, err)
	}
	c := NewCounts()
	for name, n := range rec.EntityCounts {
		if t, ok := types.ParseNounType(name); ok {
			c.nounsByT[t] = n
		}
	}
	for name, n := range rec.VerbCounts {
		if t, ok := types.ParseVerbType(name); ok {
			c.verbsByT[t] = n
		}
	}
	return c, nil
}
