// Package arbor persists aggregates — object graphs reachable from a
// single root entity — to relational databases. Saving a root converts
// the graph into an ordered set of database actions, batches compatible
// actions and executes them in one transaction; loading renders a single
// SQL query per aggregate type and folds the flattened result set back
// into object graphs.
package arbor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/syssam/arbor/change"
	"github.com/syssam/arbor/convert"
	"github.com/syssam/arbor/dialect"
	"github.com/syssam/arbor/dialect/sql"
	"github.com/syssam/arbor/interpret"
	"github.com/syssam/arbor/mapping"
	"github.com/syssam/arbor/sqlgen"
)

// Template is the entry point for aggregate persistence. It is safe for
// concurrent use; all per-call state lives on the stack.
type Template struct {
	drv      dialect.Driver
	mapping  *mapping.Context
	gen      *sqlgen.Generator
	reader   *convert.AggregateReader
	writer   *change.Writer
	log      *slog.Logger
	cache    Cache
	cacheTTL time.Duration
	async    int
}

// Option configures a Template.
type Option func(*Template)

// WithMappingContext replaces the default mapping context, allowing
// naming strategies and overrides to be shared across templates.
func WithMappingContext(ctx *mapping.Context) Option {
	return func(t *Template) { t.mapping = ctx }
}

// WithLogger sets the logger used for statement debugging.
func WithLogger(l *slog.Logger) Option {
	return func(t *Template) { t.log = l }
}

// WithCache enables the read-through aggregate cache.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(t *Template) { t.cache, t.cacheTTL = c, ttl }
}

// WithAsyncWrites executes independent insert actions concurrently with
// at most limit in-flight statements. Writes then run outside a
// transaction, trading atomicity for throughput.
func WithAsyncWrites(limit int) Option {
	return func(t *Template) { t.async = limit }
}

// New returns a template persisting through the given driver.
func New(drv dialect.Driver, opts ...Option) (*Template, error) {
	d, err := sqlgen.ByName(drv.Dialect())
	if err != nil {
		return nil, err
	}
	t := &Template{
		drv:     drv,
		mapping: mapping.NewContext(),
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.gen = sqlgen.NewGenerator(d)
	t.reader = convert.NewAggregateReader(t.mapping, t.gen)
	t.writer = change.NewWriter(t.mapping)
	return t, nil
}

// Mapping returns the template's mapping context.
func (t *Template) Mapping() *mapping.Context { return t.mapping }

// Save persists the aggregate rooted at entity, which must be a pointer
// so generated keys can be written back. A root with a zero id is
// inserted; otherwise its previous state is replaced.
func (t *Template) Save(ctx context.Context, entity any) error {
	c, ent, err := t.saveChange(entity)
	if err != nil {
		return err
	}
	if err := t.run(ctx, c, change.Plan(c)); err != nil {
		return t.translate(err, ent, entity)
	}
	return t.invalidate(ctx, ent)
}

// SaveAll persists several aggregates of the same root type in one plan,
// so sibling inserts across aggregates batch into multi-row statements.
func (t *Template) SaveAll(ctx context.Context, entities ...any) error {
	if len(entities) == 0 {
		return nil
	}
	changes := make([]*change.AggregateChange, len(entities))
	var ent *mapping.Entity
	for i, e := range entities {
		c, en, err := t.saveChange(e)
		if err != nil {
			return err
		}
		changes[i], ent = c, en
	}
	merged, err := change.Merge(changes...)
	if err != nil {
		return err
	}
	if err := t.run(ctx, merged, change.Plan(merged)); err != nil {
		return t.translate(err, ent, nil)
	}
	return t.invalidate(ctx, ent)
}

func (t *Template) saveChange(entity any) (*change.AggregateChange, *mapping.Entity, error) {
	v := reflect.ValueOf(entity)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return nil, nil, fmt.Errorf("arbor: Save expects a non-nil pointer to the aggregate root, got %T", entity)
	}
	ent, err := t.mapping.Entity(v.Elem().Type())
	if err != nil {
		return nil, nil, err
	}
	if ent.ID == nil {
		return nil, nil, &mapping.Error{Type: ent.Type, Reason: "aggregate root requires an identifier"}
	}
	var c *change.AggregateChange
	if ent.ID.IsZero(v.Elem().Interface()) {
		c, err = t.writer.Insert(entity)
	} else {
		c, err = t.writer.Update(entity, nil)
	}
	if err != nil {
		return nil, nil, err
	}
	return c, ent, nil
}

// Delete removes the aggregate the entity belongs to, identified by the
// entity's id.
func (t *Template) Delete(ctx context.Context, entity any) error {
	v := reflect.ValueOf(entity)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return fmt.Errorf("arbor: Delete of nil entity")
		}
		v = v.Elem()
	}
	ent, err := t.mapping.Entity(v.Type())
	if err != nil {
		return err
	}
	if ent.ID == nil {
		return &mapping.Error{Type: ent.Type, Reason: "aggregate root requires an identifier"}
	}
	return t.DeleteByID(ctx, v.Interface(), ent.ID.Value(v.Interface()))
}

// DeleteByID removes the aggregate of the prototype's root type with the
// given id. The whole aggregate is removed, children first.
func (t *Template) DeleteByID(ctx context.Context, prototype any, id any) error {
	ent, err := t.mapping.EntityOf(prototype)
	if err != nil {
		return err
	}
	c, err := t.writer.Delete(ent.Type, id)
	if err != nil {
		return err
	}
	if err := t.run(ctx, c, change.Plan(c)); err != nil {
		return err
	}
	if t.cache != nil {
		return t.cache.Delete(ctx, cacheKey(ent.Table, id))
	}
	return nil
}

// DeleteAll removes every aggregate of the prototype's root type.
func (t *Template) DeleteAll(ctx context.Context, prototype any) error {
	ent, err := t.mapping.EntityOf(prototype)
	if err != nil {
		return err
	}
	c, err := t.writer.DeleteAll(ent.Type)
	if err != nil {
		return err
	}
	if err := t.run(ctx, c, change.Plan(c)); err != nil {
		return err
	}
	return t.invalidate(ctx, ent)
}

// FindByID loads the aggregate with the given root id into dest, which
// must be a pointer to the root struct. Returns a NotFoundError when no
// row matches.
func (t *Template) FindByID(ctx context.Context, dest any, id any) error {
	v := reflect.ValueOf(dest)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("arbor: FindByID expects a non-nil pointer to the aggregate root, got %T", dest)
	}
	ent, err := t.mapping.Entity(v.Elem().Type())
	if err != nil {
		return err
	}
	if t.cache != nil {
		data, err := t.cache.Get(ctx, cacheKey(ent.Table, id))
		if err != nil {
			return err
		}
		if data != nil {
			return decodeAggregate(data, dest)
		}
	}
	roots, err := t.query(ctx, ent, 1, id)
	if err != nil {
		return err
	}
	switch len(roots) {
	case 0:
		return NewNotFoundErrorWithID(ent.Name, id)
	case 1:
	default:
		return &NotSingularError{label: ent.Name, count: len(roots)}
	}
	v.Elem().Set(roots[0])
	if t.cache != nil {
		data, err := encodeAggregate(dest)
		if err != nil {
			return err
		}
		return t.cache.Set(ctx, cacheKey(ent.Table, id), data, t.cacheTTL)
	}
	return nil
}

// FindAll loads every aggregate of the slice's element type into dest,
// which must be a pointer to a slice of the root struct or of pointers
// to it.
func (t *Template) FindAll(ctx context.Context, dest any) error {
	ent, sv, err := t.sliceDest(dest)
	if err != nil {
		return err
	}
	roots, err := t.query(ctx, ent, 0)
	if err != nil {
		return err
	}
	return fillSlice(sv, roots)
}

// FindAllByID loads the aggregates whose root id is among ids.
// Missing ids are skipped, not reported.
func (t *Template) FindAllByID(ctx context.Context, dest any, ids ...any) error {
	ent, sv, err := t.sliceDest(dest)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return fillSlice(sv, nil)
	}
	roots, err := t.query(ctx, ent, len(ids), ids...)
	if err != nil {
		return err
	}
	return fillSlice(sv, roots)
}

// query renders and runs the aggregate query with n bound ids and
// reconstructs the result set.
func (t *Template) query(ctx context.Context, ent *mapping.Entity, n int, ids ...any) ([]reflect.Value, error) {
	var (
		stmt string
		err  error
	)
	switch n {
	case 0:
		stmt, err = t.gen.FindAll(t.mapping, ent.Type)
	case 1:
		stmt, err = t.gen.FindByID(t.mapping, ent.Type)
	default:
		stmt, err = t.gen.FindAllByID(t.mapping, ent.Type, n)
	}
	if err != nil {
		return nil, err
	}
	var rows sql.Rows
	if err := t.drv.Query(ctx, stmt, ids, &rows); err != nil {
		return nil, err
	}
	docs, err := convert.ReadDocuments(rows)
	if cerr := rows.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}
	return t.reader.Aggregates(ent.Type, docs)
}

// run executes a plan, transactionally unless async writes are enabled.
func (t *Template) run(ctx context.Context, c *change.AggregateChange, plan []*change.Action) error {
	t.log.Debug("executing plan", "actions", len(plan))
	if t.async > 0 {
		in := interpret.NewInterpreter(t.mapping, t.gen, t.drv)
		return interpret.NewAsyncExecutor(in, t.async).Execute(ctx, c, plan)
	}
	tx, err := t.drv.Tx(ctx)
	if err != nil {
		return err
	}
	in := interpret.NewInterpreter(t.mapping, t.gen, tx)
	if err := in.Execute(ctx, c, plan); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			err = fmt.Errorf("%w: rolling back: %v", err, rerr)
		}
		return err
	}
	return tx.Commit()
}

// translate converts interpreter sentinels into the facade's error types.
func (t *Template) translate(err error, ent *mapping.Entity, entity any) error {
	if err == nil {
		return nil
	}
	if entity != nil && ent != nil && ent.ID != nil {
		var execErr *interpret.ExecError
		if errors.As(err, &execErr) && errors.Is(execErr.Err, interpret.ErrNotFound) {
			return NewNotFoundErrorWithID(ent.Name, ent.ID.Value(reflect.ValueOf(entity).Elem().Interface()))
		}
	}
	return err
}

func (t *Template) invalidate(ctx context.Context, ent *mapping.Entity) error {
	if t.cache == nil {
		return nil
	}
	return t.cache.DeletePrefix(ctx, ent.Table+":")
}

func (t *Template) sliceDest(dest any) (*mapping.Entity, reflect.Value, error) {
	v := reflect.ValueOf(dest)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Slice {
		return nil, reflect.Value{}, fmt.Errorf("arbor: expected a non-nil pointer to a slice, got %T", dest)
	}
	elem := v.Elem().Type().Elem()
	for elem.Kind() == reflect.Pointer {
		elem = elem.Elem()
	}
	ent, err := t.mapping.Entity(elem)
	if err != nil {
		return nil, reflect.Value{}, err
	}
	return ent, v.Elem(), nil
}

// fillSlice assigns the reconstructed roots to the destination slice,
// wrapping them in pointers if the element type asks for it.
func fillSlice(sv reflect.Value, roots []reflect.Value) error {
	st := sv.Type()
	out := reflect.MakeSlice(st, 0, len(roots))
	ptr := st.Elem().Kind() == reflect.Pointer
	for _, r := range roots {
		if ptr {
			out = reflect.Append(out, r.Addr())
		} else {
			out = reflect.Append(out, r)
		}
	}
	sv.Set(out)
	return nil
}
