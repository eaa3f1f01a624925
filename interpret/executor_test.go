package interpret

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/arbor/change"
	"github.com/syssam/arbor/dialect"
	"github.com/syssam/arbor/dialect/sql"
	"github.com/syssam/arbor/mapping"
	"github.com/syssam/arbor/sqlgen"
)

func newAsyncFixture(t *testing.T) (*Interpreter, sqlmock.Sqlmock, *change.Writer) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	// Concurrent inserts may reach the database in any order.
	mock.MatchExpectationsInOrder(false)
	ctx := mapping.NewContext()
	drv := sql.OpenDB(dialect.SQLite, db)
	gen := sqlgen.NewGenerator(sqlgen.MustByName(dialect.SQLite))
	return NewInterpreter(ctx, gen, drv), mock, change.NewWriter(ctx)
}

func TestAsyncExecutorInsert(t *testing.T) {
	t.Parallel()
	in, mock, w := newAsyncFixture(t)

	root := &order{Name: "first", Items: []item{{Product: "widget"}, {Product: "gadget"}}}
	c, err := w.Insert(root)
	require.NoError(t, err)

	mock.ExpectQuery("INSERT INTO orders (name) VALUES (?) RETURNING id").
		WithArgs("first").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	// The batch waits for the root's generated key before running.
	mock.ExpectQuery("INSERT INTO items (product, order_id, order_key) VALUES (?, ?, ?), (?, ?, ?) RETURNING id").
		WithArgs("widget", int64(1), 0, "gadget", int64(1), 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(10).AddRow(11))

	exec := NewAsyncExecutor(in, 4)
	require.NoError(t, exec.Execute(context.Background(), c, change.Plan(c)))
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, int64(1), root.ID)
	assert.Equal(t, int64(10), root.Items[0].ID)
	assert.Equal(t, int64(11), root.Items[1].ID)
}

func TestAsyncExecutorFailurePropagates(t *testing.T) {
	t.Parallel()
	in, mock, w := newAsyncFixture(t)

	root := &order{Name: "first", Items: []item{{Product: "widget"}}}
	c, err := w.Insert(root)
	require.NoError(t, err)

	mock.ExpectQuery("INSERT INTO orders (name) VALUES (?) RETURNING id").
		WithArgs("first").
		WillReturnError(errors.New("connection reset"))

	exec := NewAsyncExecutor(in, 2)
	err = exec.Execute(context.Background(), c, change.Plan(c))
	require.Error(t, err)
	var execErr *ExecError
	require.ErrorAs(t, err, &execErr)
	// The dependent insert observes the failed root and returns its error
	// instead of running, so the root insert is the only statement seen.
	assert.Equal(t, "order", execErr.Path)
	require.NoError(t, mock.ExpectationsWereMet())
}
