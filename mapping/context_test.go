package mapping

import (
	"reflect"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test aggregate: an order owning an embedded address, an identifier-less
// customer reference, items with notes, and a keyed coupon map.
type (
	testAddress struct {
		Street string
		City   string
	}
	testCustomer struct {
		Name string
	}
	testNote struct {
		Text string
	}
	testItem struct {
		ID      int64
		Product string
		Price   float64
		Notes   []testNote
	}
	testCoupon struct {
		Code string
	}
	testOrder struct {
		ID       int64
		Name     string
		Ref      uuid.UUID
		Shipping testAddress `db:"shipping_,embedded"`
		Customer *testCustomer
		Items    []testItem
		Coupons  map[string]testCoupon
		Secret   string `db:"-"`
	}
)

var (
	orderType = reflect.TypeOf(testOrder{})
	itemType  = reflect.TypeOf(testItem{})
)

func TestContextEntity(t *testing.T) {
	t.Parallel()
	ctx := NewContext()

	e, err := ctx.Entity(orderType)
	require.NoError(t, err)
	assert.Equal(t, "testOrder", e.Name)
	assert.Equal(t, "test_orders", e.Table)
	require.NotNil(t, e.ID)
	assert.Equal(t, "id", e.ID.Column)
	assert.True(t, e.ID.IsID)

	// The ignored field is dropped from the property set.
	assert.Nil(t, e.Property("Secret"))

	assert.Equal(t, KindColumn, e.Property("Name").Kind)
	assert.Equal(t, KindColumn, e.Property("Ref").Kind)
	assert.Equal(t, KindEmbedded, e.Property("Shipping").Kind)
	assert.Equal(t, "shipping_", e.Property("Shipping").EmbeddedPrefix)
	assert.Equal(t, KindEntity, e.Property("Customer").Kind)
	assert.True(t, e.Property("Customer").Ptr)
	assert.Equal(t, KindSlice, e.Property("Items").Kind)
	assert.Equal(t, KindMap, e.Property("Coupons").Kind)
	assert.Equal(t, reflect.TypeOf(""), e.Property("Coupons").KeyType)

	// Resolution is cached: the same metadata instance comes back.
	again, err := ctx.Entity(orderType)
	require.NoError(t, err)
	assert.Same(t, e, again)
}

func TestContextEntityErrors(t *testing.T) {
	t.Parallel()
	ctx := NewContext()

	_, err := ctx.Entity(reflect.TypeOf(42))
	require.Error(t, err)
	var merr *Error
	require.ErrorAs(t, err, &merr)

	type badSlice struct {
		ID   int64
		Tags []string
	}
	_, err = ctx.Entity(reflect.TypeOf(badSlice{}))
	assert.Error(t, err)

	type badKey struct {
		ID    int64
		Notes map[testAddress]testNote
	}
	_, err = ctx.Entity(reflect.TypeOf(badKey{}))
	assert.Error(t, err)
}

func TestPropertyAccessors(t *testing.T) {
	t.Parallel()
	ctx := NewContext()
	e, err := ctx.Entity(orderType)
	require.NoError(t, err)

	o := testOrder{ID: 7, Name: "first"}
	assert.Equal(t, int64(7), e.ID.Value(o))
	assert.Equal(t, int64(7), e.ID.Value(&o))
	assert.Equal(t, "first", e.Property("Name").Value(o))
	assert.False(t, e.ID.IsZero(o))
	assert.True(t, e.Property("Ref").IsZero(o))

	// Set converts assignable driver values into the field type.
	v := reflect.ValueOf(&o).Elem()
	e.ID.Set(v, reflect.ValueOf(int64(9)))
	assert.Equal(t, int64(9), o.ID)

	// Pointer properties are wrapped transparently.
	cust := e.Property("Customer")
	cust.Set(v, reflect.ValueOf(testCustomer{Name: "acme"}))
	require.NotNil(t, o.Customer)
	assert.Equal(t, "acme", o.Customer.Name)
	assert.Equal(t, testCustomer{Name: "acme"}, cust.Value(o))
}

func TestPropertyPathInterning(t *testing.T) {
	t.Parallel()
	ctx := NewContext()

	a, err := ctx.PropertyPath("Items.Notes", orderType)
	require.NoError(t, err)
	root, err := ctx.Aggregate(orderType)
	require.NoError(t, err)
	b := root.MustAppend("Items").MustAppend("Notes")

	// Equal logical paths resolved through one context are the same pointer.
	assert.Same(t, a, b)
	assert.True(t, a.Equal(b))

	_, err = ctx.PropertyPath("Items.Bogus", orderType)
	assert.Error(t, err)
}

func TestContextNamingOverrides(t *testing.T) {
	t.Parallel()
	ctx := NewContext(WithNamingOverrides(Overrides{
		Tables: map[string]string{"testOrder": "purchase_orders"},
	}))
	e, err := ctx.Entity(orderType)
	require.NoError(t, err)
	assert.Equal(t, "purchase_orders", e.Table)
}
