package interpret

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/syssam/arbor/change"
)

// AsyncExecutor runs a plan with bounded concurrency. Update and delete
// actions keep their plan order and act as barriers; insert actions run
// concurrently once the action producing their owner's key has finished.
// It is only safe on connections that allow concurrent statements, i.e. a
// pooled driver rather than a single transaction.
type AsyncExecutor struct {
	in    *Interpreter
	limit int
}

// NewAsyncExecutor returns an executor running at most limit statements
// at once. A non-positive limit means no bound.
func NewAsyncExecutor(in *Interpreter, limit int) *AsyncExecutor {
	return &AsyncExecutor{in: in, limit: limit}
}

// Execute runs the planned actions, parallelizing the insert phase.
func (e *AsyncExecutor) Execute(ctx context.Context, c *change.AggregateChange, plan []*change.Action) error {
	// Handles of the arena actions each plan action carries out, used to
	// translate arena dependencies into plan-level ones.
	handleOf := make(map[*change.Action]int, c.Len())
	for h, a := range c.Actions() {
		handleOf[a] = h
	}
	done := make(map[int]*signal, c.Len())
	covered := func(a *change.Action) []int {
		if len(a.Members) > 0 {
			return a.Members
		}
		if h, ok := handleOf[a]; ok {
			return []int{h}
		}
		return nil
	}

	var inserts []*change.Action
	for _, a := range plan {
		switch a.Kind {
		case change.KindInsert, change.KindInsertRoot, change.KindBatchInsert:
			s := &signal{ch: make(chan struct{})}
			for _, h := range covered(a) {
				done[h] = s
			}
			inserts = append(inserts, a)
		default:
			// Barrier phase: updates and deletes run in plan order
			// before any insert is dispatched.
			if err := e.in.ExecuteAction(ctx, c, a); err != nil {
				return err
			}
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	if e.limit > 0 {
		g.SetLimit(e.limit)
	}
	for _, a := range inserts {
		a := a
		s := done[covered(a)[0]]
		deps := make(map[*signal]bool)
		for _, h := range covered(a) {
			d := c.Action(h).DependsOn
			if d == change.NoDependency {
				continue
			}
			if dep := done[d]; dep != nil && dep != s {
				deps[dep] = true
			}
		}
		g.Go(func() error {
			err := func() error {
				for dep := range deps {
					select {
					case <-dep.ch:
						if dep.err != nil {
							return dep.err
						}
					case <-ctx.Done():
						return ctx.Err()
					}
				}
				return e.in.ExecuteAction(ctx, c, a)
			}()
			s.err = err
			close(s.ch)
			return err
		})
	}
	return g.Wait()
}

// signal publishes the outcome of an insert to the inserts that
// back-reference its generated keys. err is written before ch is closed,
// so a dependent that woke from the close observes it without racing.
type signal struct {
	ch  chan struct{}
	err error
}
