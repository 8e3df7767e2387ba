package txn

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingOp struct {
	name      string
	applyErr  error
	log       *[]string
	rollErr   error
	applyOnly bool
}

func (o *recordingOp) Apply(ctx context.Context) error {
	*o.log = append(*o.log, "apply:"+o.name)
	return o.applyErr
}

func (o *recordingOp) Rollback(ctx context.Context) error {
	*o.log = append(*o.log, "rollback:"+o.name)
	return o.rollErr
}

func (o *recordingOp) Name() string { return o.name }

func TestExecuteAppliesAllOpsInOrder(t *testing.T) {
	var log []string
	tx := New()
	tx.Add(&recordingOp{name: "a", log: &log})
	tx.Add(&recordingOp{name: "b", log: &log})
	tx.Add(&recordingOp{name: "c", log: &log})

	require.Equal(t, 3, tx.Len())
	require.NoError(t, Execute(context.Background(), tx))
	require.Equal(t, []string{"apply:a", "apply:b", "apply:c"}, log)
}

func TestExecuteRollsBackAppliedOpsInReverseOnFailure(t *testing.T) {
	var log []string
	tx := New()
	tx.Add(&recordingOp{name: "a", log: &log})
	tx.Add(&recordingOp{name: "b", log: &log})
	tx.Add(&recordingOp{name: "c", log: &log, applyErr: errors.New("boom")})
	tx.Add(&recordingOp{name: "d", log: &log})

	err := Execute(context.Background(), tx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "c")
	require.Contains(t, err.Error(), "boom")

	require.Equal(t, []string{
		"apply:a", "apply:b", "apply:c",
		"rollback:b", "rollback:a",
	}, log)
}

func TestExecuteContinuesRollbackEvenIfOneRollbackFails(t *testing.T) {
	var log []string
	tx := New()
	tx.Add(&recordingOp{name: "a", log: &log})
	tx.Add(&recordingOp{name: "b", log: &log, rollErr: errors.New("rollback-b-failed")})
	tx.Add(&recordingOp{name: "c", log: &log, applyErr: errors.New("boom")})

	err := Execute(context.Background(), tx)
	require.Error(t, err)

	require.Equal(t, []string{
		"apply:a", "apply:b", "apply:c",
		"rollback:b", "rollback:a",
	}, log)
}

func TestExecuteEmptyTransactionIsNoop(t *testing.T) {
	tx := New()
	require.Equal(t, 0, tx.Len())
	require.NoError(t, Execute(context.Background(), tx))
}
