package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"synapsedb.dev/synapsedb/types"
)

// EachEntity implements cow.StateSource: every live noun, serialized as
// JSON, keyed by id.
func (db *Database) EachEntity(ctx context.Context, yield func(id string, data []byte) error) error {
	for t := 0; t < types.NounTypeCount(); t++ {
		page, err := db.storageEng.ScanNouns(ctx, types.NounType(t), scanAllPagination(), nil)
		if err != nil {
			return err
		}
		for _, n := range page.Items {
			data, err := json.Marshal(n)
			if err != nil {
				return fmt.Errorf("engine: encoding noun %s: %w", n.ID, err)
			}
			if err := yield(n.ID, data); err != nil {
				return err
			}
		}
	}
	return nil
}

// EachRelation implements cow.StateSource: every live verb, serialized
// as JSON.
func (db *Database) EachRelation(ctx context.Context, yield func(source, target, verbType string, data []byte) error) error {
	return db.storageEng.ScanVerbs(ctx, func(v *types.Verb) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("engine: encoding verb %s: %w", v.ID, err)
		}
		return yield(v.Source, v.Target, v.Type.String(), data)
	})
}

// EntityCount and RelationCount implement cow.StateSource using the
// branch's running counters rather than a fresh scan.
func (db *Database) EntityCount() int   { return db.storageEng.Counts().TotalNouns() }
func (db *Database) RelationCount() int { return db.storageEng.Counts().TotalVerbs() }
