package storage

import (
	"encoding/json"
	"time"

	"synapsedb.dev/synapsedb/types"
)

// nounVectorRecord is the persisted noun-vector object: the embedding plus the HNSW connections the node holds at each level.
// It doubles as the HNSW index's durable node representation — the
// storage engine doesn't know what HNSW does with Connections/Level, it
// only round-trips them.
type nounVectorRecord struct {
	ID          string             `json:"id"`
	Vector      []float32          `json:"vector"`
	Level       int                `json:"level"`
	Connections map[int][]string   `json:"connections"`
}

// nounMetadataRecord is the persisted noun-metadata object.
type nounMetadataRecord struct {
	Type       types.NounType                   `json:"type"`
	CreatedAt  time.Time                        `json:"createdAt"`
	UpdatedAt  time.Time                        `json:"updatedAt"`
	Data       []byte                           `json:"data,omitempty"`
	Confidence float64                          `json:"confidence,omitempty"`
	Weight     float64                          `json:"weight,omitempty"`
	Service    string                           `json:"service,omitempty"`
	CreatedBy  string                           `json:"createdBy,omitempty"`
	Fields     map[string]types.MetadataValue   `json:"fields,omitempty"`
}

// verbVectorRecord is the persisted verb-vector object.
type verbVectorRecord struct {
	ID          string           `json:"id"`
	Vector      []float32        `json:"vector"`
	Connections map[int][]string `json:"connections,omitempty"`
	Verb        types.VerbType   `json:"verb"`
	SourceID    string           `json:"sourceId"`
	TargetID    string           `json:"targetId"`
}

// verbMetadataRecord is the persisted verb-metadata object.
type verbMetadataRecord struct {
	Verb      types.VerbType                 `json:"verb"`
	Weight    float64                        `json:"weight"`
	CreatedAt time.Time                      `json:"createdAt"`
	Fields    map[string]types.MetadataValue `json:"fields,omitempty"`
}

func nounToRecords(n *types.Noun) (nounVectorRecord, nounMetadataRecord) {
	vr := nounVectorRecord{ID: n.ID, Vector: n.Vector}
	mr := nounMetadataRecord{
		Type:       n.Type,
		CreatedAt:  n.CreatedAt,
		UpdatedAt:  n.UpdatedAt,
		Data:       n.Data,
		Confidence: n.Confidence,
		Weight:     n.Weight,
		Service:    n.Service,
		CreatedBy:  n.CreatedBy,
		Fields:     n.Metadata,
	}
	return vr, mr
}

func recordsToNoun(id string, vr *nounVectorRecord, mr *nounMetadataRecord) *types.Noun {
	n := &types.Noun{
		ID:         id,
		Type:       mr.Type,
		CreatedAt:  mr.CreatedAt,
		UpdatedAt:  mr.UpdatedAt,
		Data:       mr.Data,
		Confidence: mr.Confidence,
		Weight:     mr.Weight,
		Service:    mr.Service,
		CreatedBy:  mr.CreatedBy,
		Metadata:   mr.Fields,
	}
	if vr != nil {
		n.Vector = vr.Vector
	}
	return n
}

func verbToRecords(v *types.Verb) (verbVectorRecord, verbMetadataRecord) {
	vr := verbVectorRecord{ID: v.ID, Vector: v.Vector, Verb: v.Type, SourceID: v.Source, TargetID: v.Target}
	mr := verbMetadataRecord{Verb: v.Type, Weight: v.Weight, CreatedAt: v.CreatedAt, Fields: v.Metadata}
	return vr, mr
}

func recordsToVerb(id string, vr *verbVectorRecord, mr *verbMetadataRecord) *types.Verb {
	v := &types.Verb{
		ID:        id,
		Type:      mr.Verb,
		Weight:    mr.Weight,
		CreatedAt: mr.CreatedAt,
		Metadata:  mr.Fields,
	}
	if vr != nil {
		v.Vector = vr.Vector
		v.Source = vr.SourceID
		v.Target = vr.TargetID
	}
	return v
}

func marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }
