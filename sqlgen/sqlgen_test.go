package sqlgen

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/arbor/dialect"
	"github.com/syssam/arbor/mapping"
	"github.com/syssam/arbor/row"
)

// Test aggregates shared across the generator tests.
type (
	color struct {
		ID   int64
		Name string
	}
	customer struct {
		Name string
	}
	note struct {
		Text string
	}
	item struct {
		ID      int64
		Product string
		Notes   []note
	}
	order struct {
		ID       int64
		Name     string
		Customer *customer
		Items    []item
	}
)

func TestDialects(t *testing.T) {
	t.Parallel()
	pg := MustByName(dialect.Postgres)
	assert.Equal(t, "$3", pg.Placeholder(3))
	assert.Equal(t, "$2, $3, $4", pg.Placeholders(2, 3))
	assert.Equal(t, "GREATEST(a, b)", pg.Greatest("a", "b"))
	assert.True(t, pg.Returning)

	lite := MustByName(dialect.SQLite)
	assert.Equal(t, "?", lite.Placeholder(3))
	assert.Equal(t, "MAX(a, b)", lite.Greatest("a", "b"))
	assert.Equal(t, "a", lite.Greatest("a"))
	assert.True(t, lite.Returning)

	my := MustByName(dialect.MySQL)
	assert.False(t, my.Returning)

	_, err := ByName("oracle")
	assert.Error(t, err)
}

func TestAliasStability(t *testing.T) {
	t.Parallel()
	ctx := mapping.NewContext()
	f := NewAliasFactory()

	a, err := ctx.PropertyPath("Items.Notes", reflect.TypeOf(order{}))
	require.NoError(t, err)
	root, err := ctx.Aggregate(reflect.TypeOf(order{}))
	require.NoError(t, err)
	b := root.MustAppend("Items").MustAppend("Notes")

	// Separately constructed equal paths resolve to the identical alias.
	assert.Equal(t, f.TableAlias(a), f.TableAlias(b))
	assert.Equal(t, f.RowNumberAlias(a), f.RowNumberAlias(b))
	assert.Equal(t, "t_order_items_notes", f.TableAlias(a))
	assert.Equal(t, "rn_order_items_notes", f.RowNumberAlias(a))
	assert.Equal(t, "rc_order_items_notes", f.RowCountAlias(a))
	assert.Equal(t, "br_order_items_notes", f.BackRefAlias(a))

	items := root.MustAppend("Items")
	assert.Equal(t, "key_order_items", f.KeyAlias(items))
	assert.Equal(t, "order_items_product", f.ColumnAlias(items, "product"))

	// Root columns keep their plain names.
	assert.Equal(t, "id", f.ColumnAlias(root, "id"))
	assert.Equal(t, "rn", f.RowNumberAlias(root))
	assert.Equal(t, "rc", f.RowCountAlias(root))
}

func TestInsertStatement(t *testing.T) {
	t.Parallel()
	g := NewGenerator(MustByName(dialect.SQLite))

	doc := row.NewDocument().Set("name", "a8m").Set("order_id", 7)
	query, args := g.Insert("order_items", doc, "id")
	assert.Equal(t, "INSERT INTO order_items (name, order_id) VALUES (?, ?) RETURNING id", query)
	assert.Equal(t, []any{"a8m", 7}, args)

	// MySQL reads keys via LastInsertId instead.
	query, _ = NewGenerator(MustByName(dialect.MySQL)).Insert("order_items", doc, "id")
	assert.Equal(t, "INSERT INTO order_items (name, order_id) VALUES (?, ?)", query)

	query, args = g.Insert("events", row.NewDocument(), "")
	assert.Equal(t, "INSERT INTO events DEFAULT VALUES", query)
	assert.Empty(t, args)
}

func TestBatchInsertStatement(t *testing.T) {
	t.Parallel()
	g := NewGenerator(MustByName(dialect.Postgres))

	docs := []*row.Document{
		row.NewDocument().Set("name", "a").Set("order_id", 1),
		row.NewDocument().Set("name", "b").Set("order_id", 1),
	}
	query, args := g.BatchInsert("order_items", docs, "id")
	assert.Equal(t,
		"INSERT INTO order_items (name, order_id) VALUES ($1, $2), ($3, $4) RETURNING id",
		query)
	assert.Equal(t, []any{"a", 1, "b", 1}, args)
}

func TestUpdateStatement(t *testing.T) {
	t.Parallel()
	g := NewGenerator(MustByName(dialect.Postgres))

	doc := row.NewDocument().Set("name", "a8m").Set("total", 3)
	query, args := g.Update("orders", doc, "id", 7)
	assert.Equal(t, "UPDATE orders SET name = $1, total = $2 WHERE id = $3", query)
	assert.Equal(t, []any{"a8m", 3, 7}, args)
}

func TestDeleteStatements(t *testing.T) {
	t.Parallel()
	ctx := mapping.NewContext()
	g := NewGenerator(MustByName(dialect.SQLite))
	root, err := ctx.Aggregate(reflect.TypeOf(order{}))
	require.NoError(t, err)

	query, args := g.Delete("orders", "id", 7)
	assert.Equal(t, "DELETE FROM orders WHERE id = ?", query)
	assert.Equal(t, []any{7}, args)

	query, args = g.DeleteIn("orders", "id", []any{1, 2})
	assert.Equal(t, "DELETE FROM orders WHERE id IN (?, ?)", query)
	assert.Equal(t, []any{1, 2}, args)

	assert.Equal(t, "DELETE FROM orders", g.DeleteAll("orders"))

	// First-level rows are reachable through their back-reference.
	items := root.MustAppend("Items")
	query, err = g.DeleteByRoot(items, 1)
	require.NoError(t, err)
	assert.Equal(t, "DELETE FROM items WHERE order_id = ?", query)

	// Deeper rows chain subselects down from the root ids.
	notes := items.MustAppend("Notes")
	query, err = g.DeleteByRoot(notes, 2)
	require.NoError(t, err)
	assert.Equal(t,
		"DELETE FROM notes WHERE item_id IN (SELECT id FROM items WHERE order_id IN (?, ?))",
		query)
}

func TestFindAllTrivialAggregate(t *testing.T) {
	t.Parallel()
	ctx := mapping.NewContext()
	g := NewGenerator(MustByName(dialect.SQLite))

	// An aggregate without entity references degrades to the bare inline
	// view: no windows, no joins, literal row number and count.
	query, err := g.FindAll(ctx, reflect.TypeOf(color{}))
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT t_color.id AS id, t_color.name AS name, t_color.rn AS rn "+
			"FROM (SELECT 1 AS rn, 1 AS rc, id, name FROM colors) t_color "+
			"ORDER BY t_color.id",
		query)
	assert.NotContains(t, query, "ROW_NUMBER")
	assert.NotContains(t, query, "LEFT JOIN")
}

func TestFindByIDSingleReference(t *testing.T) {
	t.Parallel()
	ctx := mapping.NewContext()
	g := NewGenerator(MustByName(dialect.Postgres))

	type account struct {
		ID       int64
		Name     string
		Customer *customer
	}
	query, err := g.FindByID(ctx, reflect.TypeOf(account{}))
	require.NoError(t, err)

	// The referenced entity becomes an inline view with window columns,
	// joined on the root id.
	assert.Contains(t, query,
		"ROW_NUMBER() OVER (PARTITION BY account_id ORDER BY account_id) AS rn_account_customer")
	assert.Contains(t, query,
		"COUNT(*) OVER (PARTITION BY account_id) AS rc_account_customer")
	assert.Contains(t, query, "LEFT JOIN (SELECT account_id, name, ROW_NUMBER()")
	assert.Contains(t, query, "ON t_account_customer.account_id = t_account.id")
	assert.Contains(t, query, "FROM (SELECT 1 AS rn, 1 AS rc, id, name FROM accounts) t_account")
	assert.Contains(t, query,
		"GREATEST(t_account.rn, COALESCE(t_account_customer.rn_account_customer, 1)) AS rn")
	assert.Contains(t, query, "WHERE t_account.id = $1")
	assert.Contains(t, query, "ORDER BY t_account.id, rn")
}

func TestFindAllByIDAndNestedViews(t *testing.T) {
	t.Parallel()
	ctx := mapping.NewContext()
	g := NewGenerator(MustByName(dialect.SQLite))

	query, err := g.FindAllByID(ctx, reflect.TypeOf(order{}), 3)
	require.NoError(t, err)

	// Collections order their windows by the key column and project it.
	assert.Contains(t, query,
		"ROW_NUMBER() OVER (PARTITION BY order_id ORDER BY order_key) AS rn_order_items")
	assert.Contains(t, query, "t_order_items.order_key AS key_order_items")
	// Nested views join their id-defining parent view, not the root.
	assert.Contains(t, query, "ON t_order_items_notes.item_id = t_order_items.id")
	// SQLite spells the variadic greatest MAX.
	assert.Contains(t, query, "MAX(t_order.rn, ")
	assert.Contains(t, query, "WHERE t_order.id IN (?, ?, ?)")
}
