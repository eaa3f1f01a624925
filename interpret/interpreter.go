// Package interpret executes the database actions produced by the change
// writers. The interpreter renders one statement per action through the
// SQL generator, resolves back-references from the generated keys of
// earlier actions, and propagates database-generated keys back into the
// entities.
package interpret

import (
	"context"
	"fmt"
	"reflect"

	"github.com/syssam/arbor/change"
	"github.com/syssam/arbor/convert"
	"github.com/syssam/arbor/dialect"
	"github.com/syssam/arbor/dialect/sql"
	"github.com/syssam/arbor/mapping"
	"github.com/syssam/arbor/row"
	"github.com/syssam/arbor/sqlgen"
)

// Interpreter executes change actions against one connection or
// transaction. An interpreter is stateless between calls; the same
// instance may execute many plans.
type Interpreter struct {
	gen    *sqlgen.Generator
	mapper *convert.Mapper
	conn   dialect.ExecQuerier
}

// NewInterpreter returns an interpreter executing on conn, which is
// either a driver or an open transaction.
func NewInterpreter(ctx *mapping.Context, gen *sqlgen.Generator, conn dialect.ExecQuerier) *Interpreter {
	return &Interpreter{gen: gen, mapper: convert.NewMapper(ctx), conn: conn}
}

// Execute runs the planned actions in order. The plan is produced by
// change.Plan, which orders actions so that every dependency precedes its
// dependents.
func (in *Interpreter) Execute(ctx context.Context, c *change.AggregateChange, plan []*change.Action) error {
	for _, a := range plan {
		if err := in.ExecuteAction(ctx, c, a); err != nil {
			return err
		}
	}
	return nil
}

// ExecuteAction runs a single action, wrapping failures with the action's
// identity.
func (in *Interpreter) ExecuteAction(ctx context.Context, c *change.AggregateChange, a *change.Action) error {
	var err error
	switch a.Kind {
	case change.KindInsertRoot, change.KindInsert:
		err = in.insert(ctx, c, a)
	case change.KindBatchInsert:
		err = in.batchInsert(ctx, c, a)
	case change.KindUpdateRoot:
		err = in.update(ctx, a)
	case change.KindDelete, change.KindDeleteRoot:
		err = in.delete(ctx, a)
	case change.KindBatchDelete:
		err = in.batchDelete(ctx, c, a)
	case change.KindDeleteAll, change.KindDeleteAllRoot:
		err = in.deleteAll(ctx, a)
	default:
		err = fmt.Errorf("unknown action kind %v", a.Kind)
	}
	if err != nil {
		return &ExecError{Kind: a.Kind, Path: a.Path.String(), Err: err}
	}
	return nil
}

// document builds the outbound row of an insert action: the entity's
// columns plus the back-reference and, on qualified paths, the key column.
// Database-generated id columns are left out so the database fills them.
func (in *Interpreter) document(c *change.AggregateChange, a *change.Action) (*row.Document, *mapping.Entity, error) {
	leaf, err := a.Path.RequiredLeaf()
	if err != nil {
		return nil, nil, err
	}
	doc, err := in.mapper.Document(a.Path, a.Entity)
	if err != nil {
		return nil, nil, err
	}
	if !a.Path.IsRoot() {
		backRef, err := a.Path.ReverseColumnName()
		if err != nil {
			return nil, nil, err
		}
		if a.DependsOn == change.NoDependency {
			return nil, nil, fmt.Errorf("nested insert without owner")
		}
		owner, err := c.Action(a.DependsOn).IDValue()
		if err != nil {
			return nil, nil, err
		}
		doc.Set(backRef, owner)
		if a.Path.IsQualified() {
			keyCol, err := a.Path.KeyColumnName()
			if err != nil {
				return nil, nil, err
			}
			doc.Set(keyCol, a.Key)
		}
	}
	if a.IDSource == change.IDGenerated && leaf.ID != nil {
		doc.Delete(leaf.ID.Column)
	}
	return doc, leaf, nil
}

func (in *Interpreter) insert(ctx context.Context, c *change.AggregateChange, a *change.Action) error {
	doc, leaf, err := in.document(c, a)
	if err != nil {
		return err
	}
	table, err := a.Path.TableName()
	if err != nil {
		return err
	}
	returning := ""
	if a.IDSource == change.IDGenerated && leaf.ID != nil {
		returning = leaf.ID.Column
	}
	query, args := in.gen.Insert(table, doc, returning)
	if returning == "" {
		return in.conn.Exec(ctx, query, args, nil)
	}
	if in.gen.Dialect().Returning {
		ids, err := in.queryKeys(ctx, query, args, 1)
		if err != nil {
			return err
		}
		return in.assignKey(a, leaf, ids[0])
	}
	var res sql.Result
	if err := in.conn.Exec(ctx, query, args, &res); err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	return in.assignKey(a, leaf, id)
}

func (in *Interpreter) batchInsert(ctx context.Context, c *change.AggregateChange, a *change.Action) error {
	members := make([]*change.Action, len(a.Members))
	docs := make([]*row.Document, len(a.Members))
	var leaf *mapping.Entity
	for i, h := range a.Members {
		m := c.Action(h)
		doc, l, err := in.document(c, m)
		if err != nil {
			return err
		}
		members[i], docs[i], leaf = m, doc, l
	}
	table, err := a.Path.TableName()
	if err != nil {
		return err
	}
	returning := ""
	if a.IDSource == change.IDGenerated && leaf.ID != nil {
		returning = leaf.ID.Column
	}
	query, args := in.gen.BatchInsert(table, docs, returning)
	if returning == "" {
		return in.conn.Exec(ctx, query, args, nil)
	}
	if in.gen.Dialect().Returning {
		ids, err := in.queryKeys(ctx, query, args, len(members))
		if err != nil {
			return err
		}
		for i, m := range members {
			if err := in.assignKey(m, leaf, ids[i]); err != nil {
				return err
			}
		}
		return nil
	}
	// MySQL reports the first key of a multi-row insert; with the default
	// innodb_autoinc_lock_mode the remaining keys follow consecutively.
	var res sql.Result
	if err := in.conn.Exec(ctx, query, args, &res); err != nil {
		return err
	}
	first, err := res.LastInsertId()
	if err != nil {
		return err
	}
	for i, m := range members {
		if err := in.assignKey(m, leaf, first+int64(i)); err != nil {
			return err
		}
	}
	return nil
}

// queryKeys reads the generated keys of a RETURNING statement.
func (in *Interpreter) queryKeys(ctx context.Context, query string, args []any, n int) ([]any, error) {
	var rows sql.Rows
	if err := in.conn.Query(ctx, query, args, &rows); err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := make([]any, 0, n)
	for rows.Next() {
		var id any
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) != n {
		return nil, fmt.Errorf("expected %d generated keys, got %d", n, len(ids))
	}
	return ids, nil
}

// assignKey records the generated key on the action and writes it back
// into the entity's id property.
func (in *Interpreter) assignKey(a *change.Action, leaf *mapping.Entity, raw any) error {
	t := leaf.ID.Type
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	id, err := convert.Coerce(raw, t)
	if err != nil {
		return fmt.Errorf("generated key: %w", err)
	}
	a.SetGeneratedID(id.Interface())
	v := reflect.ValueOf(a.Entity)
	if v.Kind() == reflect.Pointer && !v.IsNil() {
		leaf.ID.Set(v.Elem(), id)
	}
	return nil
}

func (in *Interpreter) update(ctx context.Context, a *change.Action) error {
	leaf, err := a.Path.RequiredLeaf()
	if err != nil {
		return err
	}
	doc, err := in.mapper.Document(a.Path, a.Entity)
	if err != nil {
		return err
	}
	id, err := a.IDValue()
	if err != nil {
		return err
	}
	doc.Delete(leaf.ID.Column)
	if doc.Len() == 0 {
		// A root carrying no columns besides its key has nothing to set;
		// probe for the row so a missing aggregate still reports not found.
		return in.exists(ctx, leaf, id)
	}
	query, args := in.gen.Update(leaf.Table, doc, leaf.ID.Column, id)
	var res sql.Result
	if err := in.conn.Exec(ctx, query, args, &res); err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// exists checks that the row with the given id is present.
func (in *Interpreter) exists(ctx context.Context, leaf *mapping.Entity, id any) error {
	query, args := in.gen.Exists(leaf.Table, leaf.ID.Column, id)
	var rows sql.Rows
	if err := in.conn.Query(ctx, query, args, &rows); err != nil {
		return err
	}
	defer rows.Close()
	found := rows.Next()
	if err := rows.Err(); err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

func (in *Interpreter) delete(ctx context.Context, a *change.Action) error {
	if a.Kind == change.KindDeleteRoot {
		leaf, err := a.Path.RequiredLeaf()
		if err != nil {
			return err
		}
		query, args := in.gen.Delete(leaf.Table, leaf.ID.Column, a.RootID)
		return in.conn.Exec(ctx, query, args, nil)
	}
	query, err := in.gen.DeleteByRoot(a.Path, 1)
	if err != nil {
		return err
	}
	return in.conn.Exec(ctx, query, []any{a.RootID}, nil)
}

func (in *Interpreter) batchDelete(ctx context.Context, c *change.AggregateChange, a *change.Action) error {
	ids := make([]any, 0, len(a.Members))
	seen := make(map[any]bool, len(a.Members))
	for _, h := range a.Members {
		m := c.Action(h)
		if !seen[m.RootID] {
			seen[m.RootID] = true
			ids = append(ids, m.RootID)
		}
	}
	query, err := in.gen.DeleteByRoot(a.Path, len(ids))
	if err != nil {
		return err
	}
	return in.conn.Exec(ctx, query, ids, nil)
}

func (in *Interpreter) deleteAll(ctx context.Context, a *change.Action) error {
	table, err := a.Path.TableName()
	if err != nil {
		return err
	}
	return in.conn.Exec(ctx, in.gen.DeleteAll(table), []any{}, nil)
}
