package convert

import (
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/arbor/mapping"
	"github.com/syssam/arbor/row"
)

type (
	money struct {
		Amount   int64
		Currency string
	}
	receipt struct {
		ID      int64
		Ref     uuid.UUID
		Note    string
		Paid    bool
		At      time.Time
		Total   money  `db:"total_,embedded"`
		Tip     *money `db:"tip_,embedded"`
		Comment *string
	}
)

func TestMapperDocument(t *testing.T) {
	t.Parallel()
	ctx := mapping.NewContext()
	m := NewMapper(ctx)
	path, err := ctx.Aggregate(reflect.TypeOf(receipt{}))
	require.NoError(t, err)

	comment := "thanks"
	r := &receipt{
		ID:      3,
		Note:    "lunch",
		Paid:    true,
		Total:   money{Amount: 1200, Currency: "EUR"},
		Comment: &comment,
	}
	doc, err := m.Document(path, r)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"id", "ref", "note", "paid", "at",
		"total_amount", "total_currency",
		"tip_amount", "tip_currency",
		"comment",
	}, doc.Columns())

	v, _ := doc.Get("total_amount")
	assert.Equal(t, int64(1200), v)
	v, _ = doc.Get("comment")
	assert.Equal(t, "thanks", v)

	// A nil embedded pointer still contributes its columns, as NULLs.
	v, ok := doc.Get("tip_amount")
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestMapperEntity(t *testing.T) {
	t.Parallel()
	ctx := mapping.NewContext()
	m := NewMapper(ctx)
	path, err := ctx.Aggregate(reflect.TypeOf(receipt{}))
	require.NoError(t, err)

	ref := uuid.New()
	doc := row.NewDocument().
		Set("id", int64(3)).
		Set("ref", ref.String()).
		Set("note", []byte("lunch")).
		Set("paid", int64(1)).
		Set("at", "2026-08-26 10:30:00").
		Set("total_amount", int64(1200)).
		Set("total_currency", "EUR").
		Set("tip_amount", nil).
		Set("tip_currency", nil).
		Set("comment", []byte("thanks"))

	v, err := m.Entity(path, doc)
	require.NoError(t, err)
	got := v.Interface().(receipt)

	assert.Equal(t, int64(3), got.ID)
	assert.Equal(t, ref, got.Ref)
	assert.Equal(t, "lunch", got.Note)
	assert.True(t, got.Paid)
	assert.Equal(t, time.Date(2026, 8, 26, 10, 30, 0, 0, time.UTC), got.At)
	assert.Equal(t, money{Amount: 1200, Currency: "EUR"}, got.Total)
	// All tip columns were NULL, so the optional embedded stays nil.
	assert.Nil(t, got.Tip)
	require.NotNil(t, got.Comment)
	assert.Equal(t, "thanks", *got.Comment)
}

func TestCoerce(t *testing.T) {
	t.Parallel()
	cases := []struct {
		raw    any
		target any
		want   any
	}{
		{int64(7), int(0), int(7)},
		{int64(1), false, true},
		{[]byte("x"), "", "x"},
		{float64(2.5), float32(0), float32(2.5)},
		{"2026-01-02", time.Time{}, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		got, err := Coerce(tc.raw, reflect.TypeOf(tc.target))
		require.NoError(t, err)
		assert.Equal(t, tc.want, got.Interface())
	}

	id := uuid.New()
	got, err := Coerce(id[:], reflect.TypeOf(uuid.UUID{}))
	require.NoError(t, err)
	assert.Equal(t, id, got.Interface())

	_, err = Coerce("nonsense", reflect.TypeOf(time.Time{}))
	assert.Error(t, err)
	_, err = Coerce([]any{}, reflect.TypeOf(0))
	assert.Error(t, err)
}
