package arbor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/syssam/arbor"
	"github.com/syssam/arbor/dialect"
	"github.com/syssam/arbor/dialect/sql"
)

type (
	address struct {
		Street string
		City   string
	}
	customer struct {
		ID   int64
		Name string
	}
	note struct {
		ID   int64
		Text string
	}
	item struct {
		ID      int64
		Product string
		Price   int
		Notes   []note
	}
	coupon struct {
		Discount int
	}
	order struct {
		ID       int64
		Name     string
		Shipping address `db:"shipping_,embedded"`
		Customer *customer
		Items    []item
		Coupons  map[string]coupon
	}
)

var schema = []string{
	`CREATE TABLE orders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT,
		shipping_street TEXT,
		shipping_city TEXT
	)`,
	`CREATE TABLE customers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT,
		order_id INTEGER REFERENCES orders(id)
	)`,
	`CREATE TABLE items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		product TEXT,
		price INTEGER,
		order_id INTEGER REFERENCES orders(id),
		order_key INTEGER
	)`,
	`CREATE TABLE notes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		text TEXT,
		item_id INTEGER REFERENCES items(id),
		item_key INTEGER
	)`,
	`CREATE TABLE coupons (
		discount INTEGER,
		order_id INTEGER REFERENCES orders(id),
		order_key TEXT
	)`,
}

func openTemplate(t *testing.T, name string) *arbor.Template {
	t.Helper()
	drv, err := sql.Open(dialect.SQLite, "file:"+name+"?mode=memory&cache=shared&_pragma=foreign_keys(1)")
	require.NoError(t, err)
	drv.DB().SetMaxOpenConns(1)
	t.Cleanup(func() { _ = drv.Close() })
	ctx := context.Background()
	for _, stmt := range schema {
		require.NoError(t, drv.Exec(ctx, stmt, []any{}, nil))
	}
	tpl, err := arbor.New(drv, arbor.WithCache(arbor.NewMemoryCache(), time.Minute))
	require.NoError(t, err)
	return tpl
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	tpl := openTemplate(t, "arbor_roundtrip")
	ctx := context.Background()

	ord := &order{
		Name:     "first",
		Shipping: address{Street: "1 Main St", City: "Springfield"},
		Customer: &customer{Name: "Sam"},
		Items: []item{
			{Product: "widget", Price: 12, Notes: []note{{Text: "gift wrap"}}},
			{Product: "gadget", Price: 7},
		},
		Coupons: map[string]coupon{
			"SAVE5":  {Discount: 5},
			"SAVE10": {Discount: 10},
		},
	}
	require.NoError(t, tpl.Save(ctx, ord))

	// Generated keys land on every reachable entity.
	assert.NotZero(t, ord.ID)
	assert.NotZero(t, ord.Customer.ID)
	assert.NotZero(t, ord.Items[0].ID)
	assert.NotZero(t, ord.Items[1].ID)
	assert.NotZero(t, ord.Items[0].Notes[0].ID)

	var got order
	require.NoError(t, tpl.FindByID(ctx, &got, ord.ID))
	assert.Equal(t, *ord, got)

	// A second read is served by the cache and stays structurally equal.
	var cached order
	require.NoError(t, tpl.FindByID(ctx, &cached, ord.ID))
	assert.Equal(t, got, cached)
}

func TestUpdateReplacesChildren(t *testing.T) {
	t.Parallel()
	tpl := openTemplate(t, "arbor_update")
	ctx := context.Background()

	ord := &order{
		Name:    "first",
		Items:   []item{{Product: "widget", Price: 12}, {Product: "gadget", Price: 7}},
		Coupons: map[string]coupon{"SAVE5": {Discount: 5}},
	}
	require.NoError(t, tpl.Save(ctx, ord))

	ord.Name = "renamed"
	ord.Items = ord.Items[:1]
	ord.Items[0].Product = "sprocket"
	ord.Coupons["EXTRA"] = coupon{Discount: 1}
	require.NoError(t, tpl.Save(ctx, ord))

	var got order
	require.NoError(t, tpl.FindByID(ctx, &got, ord.ID))
	assert.Equal(t, "renamed", got.Name)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "sprocket", got.Items[0].Product)
	assert.Equal(t, map[string]coupon{
		"SAVE5": {Discount: 5},
		"EXTRA": {Discount: 1},
	}, got.Coupons)
}

func TestUpdateMissingRoot(t *testing.T) {
	t.Parallel()
	tpl := openTemplate(t, "arbor_missing")
	ctx := context.Background()

	err := tpl.Save(ctx, &order{ID: 99, Name: "ghost"})
	require.Error(t, err)
	assert.True(t, arbor.IsNotFound(err))
}

func TestSaveAllAndFindAll(t *testing.T) {
	t.Parallel()
	tpl := openTemplate(t, "arbor_saveall")
	ctx := context.Background()

	a := &order{Name: "a", Items: []item{{Product: "widget", Price: 1}}}
	b := &order{Name: "b", Items: []item{{Product: "gadget", Price: 2}}}
	require.NoError(t, tpl.SaveAll(ctx, a, b))
	assert.NotZero(t, a.ID)
	assert.NotZero(t, b.ID)
	assert.NotEqual(t, a.ID, b.ID)

	var all []order
	require.NoError(t, tpl.FindAll(ctx, &all))
	require.Len(t, all, 2)
	assert.Equal(t, *a, all[0])
	assert.Equal(t, *b, all[1])

	var some []order
	require.NoError(t, tpl.FindAllByID(ctx, &some, a.ID, int64(999)))
	require.Len(t, some, 1)
	assert.Equal(t, *a, some[0])
}

func TestDeleteAggregate(t *testing.T) {
	t.Parallel()
	tpl := openTemplate(t, "arbor_delete")
	ctx := context.Background()

	ord := &order{
		Name:  "first",
		Items: []item{{Product: "widget", Price: 12, Notes: []note{{Text: "fragile"}}}},
	}
	require.NoError(t, tpl.Save(ctx, ord))
	require.NoError(t, tpl.Delete(ctx, ord))

	var got order
	err := tpl.FindByID(ctx, &got, ord.ID)
	require.Error(t, err)
	assert.True(t, arbor.IsNotFound(err))

	// The grandchild rows are gone as well, a fresh save may reuse the table.
	again := &order{Name: "second"}
	require.NoError(t, tpl.Save(ctx, again))
	var all []order
	require.NoError(t, tpl.FindAll(ctx, &all))
	require.Len(t, all, 1)
	assert.Equal(t, "second", all[0].Name)
}

func TestDeleteAll(t *testing.T) {
	t.Parallel()
	tpl := openTemplate(t, "arbor_deleteall")
	ctx := context.Background()

	require.NoError(t, tpl.SaveAll(ctx,
		&order{Name: "a", Items: []item{{Product: "widget", Price: 1}}},
		&order{Name: "b"},
	))
	require.NoError(t, tpl.DeleteAll(ctx, order{}))

	var all []order
	require.NoError(t, tpl.FindAll(ctx, &all))
	assert.Empty(t, all)
}
