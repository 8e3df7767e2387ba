package engine

import (
	"context"
	"fmt"
	"time"

	"synapsedb.dev/synapsedb/storage"
	"synapsedb.dev/synapsedb/txn"
	"synapsedb.dev/synapsedb/types"
)

// AddParams are add()'s inputs. Exactly one of Vector or
// Text should be set when an Embedder is configured; Data is the opaque
// raw payload carried alongside the entity, independent of embedding.
type AddParams struct {
	ID         string
	Type       types.NounType
	Vector     []float32
	Text       string
	Data       []byte
	Metadata   map[string]types.MetadataValue
	Service    string
	CreatedBy  string
	Confidence float64
	Weight     float64
}

// Add creates a new noun: validates, embeds if needed,
// and applies a transaction that saves the noun, inserts it into the
// typed HNSW sub-index, and indexes its metadata — all three happen
// together or not at all.
func (db *Database) Add(ctx context.Context, p AddParams) (string, error) {
	if err := db.ensureRebuilt(ctx); err != nil {
		return "", err
	}

	vec := p.Vector
	if len(vec) == 0 && p.Text != "" {
		if db.embedder == nil {
			return "", fmt.Errorf("%w: no vector given and no embedder configured", types.ErrValidation)
		}
		embedded, err := db.embedder.Embed(ctx, p.Text)
		if err != nil {
			return "", fmt.Errorf("%w: embedding failed: %v", types.ErrStorage, err)
		}
		vec = embedded
	}
	if err := db.checkDim(vec); err != nil {
		return "", err
	}

	id := p.ID
	if id == "" {
		id = newID()
	}

	now := time.Now()
	noun := &types.Noun{
		ID:         id,
		Type:       p.Type,
		Vector:     vec,
		Metadata:   p.Metadata,
		Service:    p.Service,
		Data:       p.Data,
		CreatedBy:  p.CreatedBy,
		Confidence: p.Confidence,
		Weight:     p.Weight,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := noun.Validate(db.dim); err != nil {
		return "", err
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	tx := txn.New()
	tx.Add(&txn.SaveNounOp{Storage: db.storageEng, Noun: noun})
	tx.Add(&txn.AddHNSWOp{Index: db.hnswIdx, Type: noun.Type, ID: noun.ID, Vector: noun.Vector})
	tx.Add(&txn.AddMetaIndexOp{Index: db.metaIdx, ID: noun.ID, NounType: noun.Type, Meta: noun.Metadata})
	if err := txn.Execute(ctx, tx); err != nil {
		return "", err
	}

	db.rememberType(noun.ID, noun.Type)
	db.storageEng.Counts().IncNoun(noun.Type, 1)
	return noun.ID, nil
}

// Get loads a noun by id, returning (nil, nil) if it does not exist.
// includeVectors=false returns the entity with an empty vector, skipping
// the (possibly remote) vector object read.
func (db *Database) Get(ctx context.Context, id string, includeVectors bool) (*types.Noun, error) {
	if !includeVectors {
		if t, ok := db.typeOf(id); ok {
			n, err := db.storageEng.GetNounMetadata(ctx, t, id)
			if err != nil {
				if isNotFound(err) {
					return nil, nil
				}
				return nil, err
			}
			return n, nil
		}
	}
	n, err := db.resolveNoun(ctx, id)
	if err != nil || n == nil {
		return n, err
	}
	if !includeVectors {
		n.Vector = nil
	}
	return n, nil
}

// BatchGet loads many nouns by id; missing ids are silently absent from
// the returned map.
func (db *Database) BatchGet(ctx context.Context, ids []string) (map[string]*types.Noun, error) {
	byType := make(map[types.NounType][]storage.NounRef)
	var untyped []string
	for _, id := range ids {
		if t, ok := db.typeOf(id); ok {
			byType[t] = append(byType[t], storage.NewNounRef(id, t))
		} else {
			untyped = append(untyped, id)
		}
	}

	out := make(map[string]*types.Noun, len(ids))
	for _, refs := range byType {
		batch, err := db.storageEng.GetNounBatch(ctx, refs)
		if err != nil {
			return nil, err
		}
		for id, n := range batch {
			out[id] = n
		}
	}
	for _, id := range untyped {
		n, err := db.resolveNoun(ctx, id)
		if err != nil {
			return nil, err
		}
		if n != nil {
			out[id] = n
		}
	}
	return out, nil
}

// UpdateParams are update()'s inputs. Nil fields leave the corresponding
// noun field unchanged; a non-nil Text re-embeds the vector.
type UpdateParams struct {
	Text     *string
	Vector   []float32
	Metadata map[string]types.MetadataValue
	Data     []byte
	HasData  bool
}

// Update mutates an existing noun's data/metadata/vector,
// re-embedding when Text changes and rewriting the HNSW/metadata index
// entries to match within one transaction.
func (db *Database) Update(ctx context.Context, id string, p UpdateParams) error {
	if err := db.ensureRebuilt(ctx); err != nil {
		return err
	}
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	prev, err := db.resolveNoun(ctx, id)
	if err != nil {
		return err
	}
	if prev == nil {
		return fmt.Errorf("%w: noun %s", types.ErrNotFound, id)
	}

	next := prev.Clone()
	next.UpdatedAt = time.Now()
	vectorChanged := false

	if p.Text != nil {
		if db.embedder == nil {
			return fmt.Errorf("%w: no embedder configured for re-embedding", types.ErrValidation)
		}
		vec, err := db.embedder.Embed(ctx, *p.Text)
		if err != nil {
			return fmt.Errorf("%w: re-embedding failed: %v", types.ErrStorage, err)
		}
		next.Vector = vec
		vectorChanged = true
	} else if len(p.Vector) > 0 {
		next.Vector = p.Vector
		vectorChanged = true
	}
	if vectorChanged {
		if err := db.checkDim(next.Vector); err != nil {
			return err
		}
	}
	if p.Metadata != nil {
		next.Metadata = p.Metadata
	}
	if p.HasData {
		next.Data = p.Data
	}
	if err := next.Validate(db.dim); err != nil {
		return err
	}

	tx := txn.New()
	if vectorChanged {
		tx.Add(&txn.SaveNounOp{Storage: db.storageEng, Noun: next, Prev: prev, HadPrev: true})
		tx.Add(&txn.RemoveHNSWOp{Index: db.hnswIdx, Type: prev.Type, ID: prev.ID, Vector: prev.Vector})
		tx.Add(&txn.AddHNSWOp{Index: db.hnswIdx, Type: next.Type, ID: next.ID, Vector: next.Vector})
	} else {
		tx.Add(&txn.SaveNounMetadataOp{Storage: db.storageEng, Noun: next, Prev: prev, HadPrev: true})
	}
	tx.Add(&txn.RemoveMetaIndexOp{Index: db.metaIdx, ID: prev.ID, NounType: prev.Type, Meta: prev.Metadata})
	tx.Add(&txn.AddMetaIndexOp{Index: db.metaIdx, ID: next.ID, NounType: next.Type, Meta: next.Metadata})

	return txn.Execute(ctx, tx)
}

// Delete removes a noun and cascades to every incident verb. Silent
// (nil error) when the noun does not exist.
func (db *Database) Delete(ctx context.Context, id string) error {
	if err := db.ensureRebuilt(ctx); err != nil {
		return err
	}
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	prev, err := db.resolveNoun(ctx, id)
	if err != nil {
		return err
	}
	if prev == nil {
		return nil
	}

	incidentVerbIDs := append(db.graphIdx.GetVerbIDsBySource(id), db.graphIdx.GetVerbIDsByTarget(id)...)
	verbs := make(map[string]*types.Verb, len(incidentVerbIDs))
	for _, vid := range incidentVerbIDs {
		v, err := db.storageEng.GetVerb(ctx, vid)
		if err == nil {
			verbs[vid] = v
		}
	}

	tx := txn.New()
	tx.Add(&txn.DeleteNounOp{Storage: db.storageEng, Prev: prev})
	tx.Add(&txn.RemoveMetaIndexOp{Index: db.metaIdx, ID: prev.ID, NounType: prev.Type, Meta: prev.Metadata})
	tx.Add(&txn.RemoveHNSWOp{Index: db.hnswIdx, Type: prev.Type, ID: prev.ID, Vector: prev.Vector})
	for vid, v := range verbs {
		tx.Add(&txn.DeleteVerbOp{Storage: db.storageEng, Prev: v})
		tx.Add(&txn.RemoveGraphIndexOp{Index: db.graphIdx, VerbID: vid, Source: v.Source, Target: v.Target, VerbType: v.Type})
	}

	if err := txn.Execute(ctx, tx); err != nil {
		return err
	}

	db.forgetType(id)
	db.storageEng.Counts().IncNoun(prev.Type, -1)
	for _, v := range verbs {
		db.storageEng.Counts().IncVerb(v.Type, -1)
	}
	if db.neo4j != nil {
		for vid := range verbs {
			_ = db.neo4j.MirrorRemove(ctx, vid)
		}
	}
	return nil
}

// RelateParams are relate()'s inputs.
type RelateParams struct {
	From          string
	To            string
	Type          types.VerbType
	Weight        float64
	Metadata      map[string]types.MetadataValue
	Bidirectional bool
}

// Relate creates a verb from From to To. A duplicate
// (source, target, type) tuple is not an error: the existing verb's id
// is returned instead of inserting again.
func (db *Database) Relate(ctx context.Context, p RelateParams) (string, error) {
	if err := db.ensureRebuilt(ctx); err != nil {
		return "", err
	}
	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	return db.relateLocked(ctx, p)
}

// relateLocked is Relate's body, factored out so the bidirectional
// branch can create the reciprocal edge under the writeMu the exported
// method already holds.
func (db *Database) relateLocked(ctx context.Context, p RelateParams) (string, error) {
	if existing, ok := db.graphIdx.ExistingRelation(p.From, p.To, p.Type); ok {
		return existing, nil
	}

	from, err := db.resolveNoun(ctx, p.From)
	if err != nil {
		return "", err
	}
	to, err := db.resolveNoun(ctx, p.To)
	if err != nil {
		return "", err
	}
	if from == nil || to == nil {
		return "", fmt.Errorf("%w: relate requires both endpoints to exist", types.ErrEndpointMissing)
	}

	id := newID()
	verb := &types.Verb{
		ID:        id,
		Source:    p.From,
		Target:    p.To,
		Type:      p.Type,
		Weight:    p.Weight,
		Vector:    deriveVerbVector(from.Vector, to.Vector),
		Metadata:  p.Metadata,
		CreatedAt: time.Now(),
	}
	if err := verb.Validate(); err != nil {
		return "", err
	}

	tx := txn.New()
	tx.Add(&txn.SaveVerbOp{Storage: db.storageEng, Verb: verb})
	tx.Add(&txn.AddGraphIndexOp{Index: db.graphIdx, VerbID: verb.ID, Source: verb.Source, Target: verb.Target, VerbType: verb.Type})
	if err := txn.Execute(ctx, tx); err != nil {
		return "", err
	}
	db.storageEng.Counts().IncVerb(verb.Type, 1)
	if db.neo4j != nil {
		_ = db.neo4j.MirrorEdge(ctx, verb.ID, verb.Source, verb.Target, verb.Type)
	}

	if p.Bidirectional {
		// A reciprocal edge is a distinct (target, source, type) tuple;
		// reuse the same dedup rule rather than duplicating it here.
		if _, err := db.relateLocked(ctx, RelateParams{From: p.To, To: p.From, Type: p.Type, Weight: p.Weight, Metadata: p.Metadata}); err != nil {
			return "", err
		}
	}
	return verb.ID, nil
}

// Unrelate removes a verb by id.
// Silent on a missing verb.
func (db *Database) Unrelate(ctx context.Context, verbID string) error {
	if err := db.ensureRebuilt(ctx); err != nil {
		return err
	}
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	v, err := db.storageEng.GetVerb(ctx, verbID)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}

	tx := txn.New()
	tx.Add(&txn.DeleteVerbOp{Storage: db.storageEng, Prev: v})
	tx.Add(&txn.RemoveGraphIndexOp{Index: db.graphIdx, VerbID: verbID, Source: v.Source, Target: v.Target, VerbType: v.Type})
	if err := txn.Execute(ctx, tx); err != nil {
		return err
	}
	db.storageEng.Counts().IncVerb(v.Type, -1)
	if db.neo4j != nil {
		_ = db.neo4j.MirrorRemove(ctx, verbID)
	}
	return nil
}

// GetRelations returns every verb incident on id in either direction,
// materialized via the graph index's batch-cached loader.
func (db *Database) GetRelations(ctx context.Context, id string) ([]*types.Verb, error) {
	ids := append(db.graphIdx.GetVerbIDsBySource(id), db.graphIdx.GetVerbIDsByTarget(id)...)
	if len(ids) == 0 {
		return nil, nil
	}
	byID, err := db.graphIdx.GetVerbsBatchCached(ctx, db.storageEng, ids)
	if err != nil {
		return nil, err
	}
	out := make([]*types.Verb, 0, len(byID))
	for _, id := range ids {
		if v, ok := byID[id]; ok {
			out = append(out, v)
		}
	}
	return out, nil
}

// deriveVerbVector gives a verb its own owned vector, the midpoint of
// its endpoints.
func deriveVerbVector(a, b []float32) []float32 {
	if len(a) == 0 || len(a) != len(b) {
		return nil
	}
	out := make([]float32, len(a))
	for i := range a {
		out[i] = (a[i] + b[i]) / 2
	}
	return out
}
