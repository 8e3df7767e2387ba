// Package txn implements the engine's transaction manager:
// an ordered list of reversible operations executed all-or-nothing, used
// by the core API to keep storage, the HNSW index, the metadata index,
// and the graph adjacency index consistent with each other across a
// single logical write.
package txn

import (
	"context"
	"fmt"
)

// Operation is one reversible step of a transaction. Apply and Rollback
// receive the same ctx the transaction was executed with.
type Operation interface {
	// Apply performs the operation's effect. A non-nil error means the
	// operation did NOT take effect (or rollback is unnecessary for it).
	Apply(ctx context.Context) error
	// Rollback undoes a previously-successful Apply.
	Rollback(ctx context.Context) error
	// Name identifies the operation for logging/diagnostics.
	Name() string
}

// Transaction is an ordered list of operations executed as a unit.
type Transaction struct {
	ops []Operation
}

func New() *Transaction { return &Transaction{} }

// Add appends an operation to the transaction's ordered list.
func (t *Transaction) Add(op Operation) *Transaction {
	t.ops = append(t.ops, op)
	return t
}

func (t *Transaction) Len() int { return len(t.ops) }

// Execute applies every operation in order. On the first failure, every
// operation applied so far is rolled back in reverse order and the
// original error is returned, wrapped with which operation failed.
// Transactions are single-threaded with respect to the indexes they
// touch — callers serialize concurrent transactions over the same
// entity themselves.
func Execute(ctx context.Context, t *Transaction) error {
	applied := make([]Operation, 0, len(t.ops))
	for _, op := range t.ops {
		if err := op.Apply(ctx); err != nil {
			rollbackErr := rollback(ctx, applied)
			if rollbackErr != nil {
				return fmt.Errorf("txn: %s failed (%w), and rollback also failed: %v", op.Name(), err, rollbackErr)
			}
			return fmt.Errorf("txn: %s failed: %w", op.Name(), err)
		}
		applied = append(applied, op)
	}
	return nil
}

// rollback undoes applied operations in reverse order. A rollback
// failure is reported but does not stop earlier operations from also
// being rolled back, since leaving the system in a half-reverted state
// is worse than an incomplete one with a clear error.
func rollback(ctx context.Context, applied []Operation) error {
	var firstErr error
	for i := len(applied) - 1; i >= 0; i-- {
		if err := applied[i].Rollback(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("rolling back %s: %w", applied[i].Name(), err)
		}
	}
	return firstErr
}
