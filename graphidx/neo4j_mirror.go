package graphidx

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"synapsedb.dev/synapsedb/types"
)

// Neo4jMirror persists the same edges the in-memory Index tracks to
// Neo4j, for operators who want Cypher-queryable topology outside the
// engine. It is a write-through
// mirror only: the in-memory Index remains authoritative for every
// query path the engine itself serves.
type Neo4jMirror struct {
	driver neo4j.DriverWithContext
}

func NewNeo4jMirror(uri, username, password string) (*Neo4jMirror, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("graphidx: creating neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(context.Background()); err != nil {
		return nil, fmt.Errorf("graphidx: connecting to neo4j: %w", err)
	}
	return &Neo4jMirror{driver: driver}, nil
}

// MirrorEdge upserts a (source)-[verbType]->(target) relationship.
func (m *Neo4jMirror) MirrorEdge(ctx context.Context, verbID, source, target string, verbType types.VerbType) error {
	session := m.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		query := `
			MERGE (s:Entity {id: $source})
			MERGE (t:Entity {id: $target})
			MERGE (s)-[r:RELATES {verbId: $verbId, verbType: $verbType}]->(t)
		`
		params := map[string]interface{}{
			"source":   source,
			"target":   target,
			"verbId":   verbID,
			"verbType": verbType.String(),
		}
		_, err := tx.Run(ctx, query, params)
		return nil, err
	})
	return err
}

// MirrorRemove deletes the relationship identified by verbID.
func (m *Neo4jMirror) MirrorRemove(ctx context.Context, verbID string) error {
	session := m.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		query := `MATCH ()-[r:RELATES {verbId: $verbId}]->() DELETE r`
		_, err := tx.Run(ctx, query, map[string]interface{}{"verbId": verbID})
		return nil, err
	})
	return err
}

// WouldCreateCycle reports whether a path already exists from target
// back to source. Callers that want a relationship type to stay acyclic
// (e.g. PartOf) can consult it before relating; the core engine itself
// does not require verb relationships to be acyclic.
func (m *Neo4jMirror) WouldCreateCycle(ctx context.Context, source, target string) (bool, error) {
	session := m.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		query := `
			MATCH path = (t:Entity {id: $target})-[:RELATES*]->(s:Entity {id: $source})
			RETURN count(path) > 0 as hasCycle
		`
		params := map[string]interface{}{"source": source, "target": target}
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return false, err
		}
		if res.Next(ctx) {
			if v, ok := res.Record().Get("hasCycle"); ok {
				return v.(bool), nil
			}
		}
		return false, res.Err()
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

func (m *Neo4jMirror) Close(ctx context.Context) error { return m.driver.Close(ctx) }
