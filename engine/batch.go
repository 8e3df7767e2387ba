package engine

import (
	"context"
	"fmt"

	"synapsedb.dev/synapsedb/types"
)

// BatchOptions control batch-wide behavior. Items are processed in
// submission order; ContinueOnError decides whether one item's failure
// aborts the remainder or is recorded and skipped.
type BatchOptions struct {
	ContinueOnError bool
}

// BatchItemError records which item of a batch failed and why.
type BatchItemError struct {
	Index int
	Err   error
}

func (e *BatchItemError) Error() string {
	return fmt.Sprintf("batch item %d: %v", e.Index, e.Err)
}

func (e *BatchItemError) Unwrap() error { return e.Err }

// BatchAddResult is index-aligned with BatchAdd's input: IDs[i] is the
// id assigned to items[i], or "" when that item failed under
// ContinueOnError.
type BatchAddResult struct {
	IDs    []string
	Errors []*BatchItemError
}

// BatchAdd adds many nouns in submission order. Without ContinueOnError
// the first failure aborts the batch (already-added items stay; each Add
// is its own transaction). Cancellation between items fails with
// ErrCancelled and schedules no further work.
func (db *Database) BatchAdd(ctx context.Context, items []AddParams, opts BatchOptions) (*BatchAddResult, error) {
	res := &BatchAddResult{IDs: make([]string, len(items))}
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("%w: %v", types.ErrCancelled, err)
		}
		id, err := db.Add(ctx, item)
		if err != nil {
			if !opts.ContinueOnError {
				return res, &BatchItemError{Index: i, Err: err}
			}
			res.Errors = append(res.Errors, &BatchItemError{Index: i, Err: err})
			continue
		}
		res.IDs[i] = id
	}
	return res, nil
}

// BatchDelete deletes many nouns in submission order, cascading each
// delete to its incident verbs the same way Delete does.
func (db *Database) BatchDelete(ctx context.Context, ids []string, opts BatchOptions) ([]*BatchItemError, error) {
	var itemErrs []*BatchItemError
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return itemErrs, fmt.Errorf("%w: %v", types.ErrCancelled, err)
		}
		if err := db.Delete(ctx, id); err != nil {
			if !opts.ContinueOnError {
				return itemErrs, &BatchItemError{Index: i, Err: err}
			}
			itemErrs = append(itemErrs, &BatchItemError{Index: i, Err: err})
		}
	}
	return itemErrs, nil
}

// BatchRelate creates many verbs in submission order; duplicates resolve
// to the existing verb's id exactly as Relate does.
func (db *Database) BatchRelate(ctx context.Context, items []RelateParams, opts BatchOptions) (*BatchAddResult, error) {
	res := &BatchAddResult{IDs: make([]string, len(items))}
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("%w: %v", types.ErrCancelled, err)
		}
		id, err := db.Relate(ctx, item)
		if err != nil {
			if !opts.ContinueOnError {
				return res, &BatchItemError{Index: i, Err: err}
			}
			res.Errors = append(res.Errors, &BatchItemError{Index: i, Err: err})
			continue
		}
		res.IDs[i] = id
	}
	return res, nil
}
