package session

import (
	"context"
	"fmt"

	"github.com/blazeorm/blaze"
	"github.com/blazeorm/blaze/adapter"
)

// TransactionManager drives the nesting state machine over one
// adapter: the first frame is a native transaction, every deeper frame
// a named savepoint. Only the top frame may be committed or rolled
// back; savepoint names come from a monotonic counter so they never
// collide within a session's lifetime.
type TransactionManager struct {
	adapter adapter.Adapter
	frames  []string // "" marks the root frame
	counter int
}

// NewTransactionManager returns a manager at depth 0.
func NewTransactionManager(a adapter.Adapter) *TransactionManager {
	return &TransactionManager{adapter: a}
}

// Depth returns the number of open frames.
func (tm *TransactionManager) Depth() int { return len(tm.frames) }

// Begin opens a frame: a native BEGIN at depth 0, a savepoint below.
func (tm *TransactionManager) Begin(ctx context.Context) error {
	if len(tm.frames) == 0 {
		if err := tm.adapter.Begin(ctx); err != nil {
			return err
		}
		tm.frames = append(tm.frames, "")
		return nil
	}
	if !tm.adapter.Dialect().Capabilities().SupportsSavepoints {
		return blaze.NewTransactionError(fmt.Sprintf(
			"dialect %s does not support nested transactions", tm.adapter.Dialect().Name()),
			blaze.ErrSavepointsUnsupported)
	}
	tm.counter++
	name := fmt.Sprintf("sp_%d", tm.counter)
	if _, err := tm.adapter.Exec(ctx, "SAVEPOINT "+name, nil); err != nil {
		return err
	}
	tm.frames = append(tm.frames, name)
	return nil
}

// Commit closes the top frame. Savepoint releases leave the data
// pending in the enclosing frame.
func (tm *TransactionManager) Commit(ctx context.Context) error {
	name, err := tm.pop("commit")
	if err != nil {
		return err
	}
	if name == "" {
		return tm.adapter.Commit(ctx)
	}
	_, err = tm.adapter.Exec(ctx, "RELEASE SAVEPOINT "+name, nil)
	return err
}

// Rollback discards the top frame. A savepoint is rolled back to and
// then released so the enclosing frame's namespace stays clean.
func (tm *TransactionManager) Rollback(ctx context.Context) error {
	name, err := tm.pop("rollback")
	if err != nil {
		return err
	}
	if name == "" {
		return tm.adapter.Rollback(ctx)
	}
	if _, err := tm.adapter.Exec(ctx, "ROLLBACK TO SAVEPOINT "+name, nil); err != nil {
		return err
	}
	_, err = tm.adapter.Exec(ctx, "RELEASE SAVEPOINT "+name, nil)
	return err
}

func (tm *TransactionManager) pop(op string) (string, error) {
	if len(tm.frames) == 0 {
		return "", blaze.NewTransactionError(op+" outside of a transaction", blaze.ErrNoTransaction)
	}
	name := tm.frames[len(tm.frames)-1]
	tm.frames = tm.frames[:len(tm.frames)-1]
	return name, nil
}
