package interpret

import (
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/arbor/change"
	"github.com/syssam/arbor/mapping"
)

func TestExecError(t *testing.T) {
	t.Parallel()
	ctx := mapping.NewContext()
	type account struct{ ID int64 }
	path, err := ctx.Aggregate(reflect.TypeOf(account{}))
	require.NoError(t, err)

	cause := errors.New("disk full")
	execErr := &ExecError{Kind: change.KindInsertRoot, Path: path.String(), Err: cause}
	assert.Equal(t, "interpret: InsertRoot account: disk full", execErr.Error())
	assert.ErrorIs(t, execErr, cause)

	var target *ExecError
	wrapped := fmt.Errorf("saving: %w", execErr)
	require.ErrorAs(t, wrapped, &target)
	assert.Equal(t, change.KindInsertRoot, target.Kind)
}

func TestIsUniqueConstraintError(t *testing.T) {
	t.Parallel()
	assert.False(t, IsUniqueConstraintError(nil))
	assert.False(t, IsUniqueConstraintError(errors.New("connection refused")))

	// Postgres reports SQLSTATE 23505 through the driver error type.
	pgErr := &pq.Error{Code: "23505", Message: "duplicate key value"}
	assert.True(t, IsUniqueConstraintError(pgErr))
	assert.True(t, IsUniqueConstraintError(fmt.Errorf("insert: %w", pgErr)))
	assert.True(t, IsConstraintError(pgErr))

	// MySQL carries the error number in the message.
	myErr := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'x' for key 'users.email'"}
	assert.True(t, IsUniqueConstraintError(myErr))

	// SQLite only gives us a message to go by.
	assert.True(t, IsUniqueConstraintError(errors.New("constraint failed: UNIQUE constraint failed: users.email (2067)")))

	assert.False(t, IsForeignKeyConstraintError(pgErr))
	assert.False(t, IsCheckConstraintError(pgErr))
}

func TestIsForeignKeyConstraintError(t *testing.T) {
	t.Parallel()
	pgErr := &pq.Error{Code: "23503", Message: "insert or update violates foreign key constraint"}
	assert.True(t, IsForeignKeyConstraintError(pgErr))
	assert.True(t, IsConstraintError(pgErr))

	for _, num := range []uint16{1451, 1452} {
		myErr := &mysql.MySQLError{Number: num, Message: "a foreign key constraint fails"}
		assert.True(t, IsForeignKeyConstraintError(myErr), "number %d", num)
	}
	assert.True(t, IsForeignKeyConstraintError(errors.New("constraint failed: FOREIGN KEY constraint failed (787)")))
	assert.False(t, IsUniqueConstraintError(pgErr))
}

func TestIsCheckConstraintError(t *testing.T) {
	t.Parallel()
	pgErr := &pq.Error{Code: "23514"}
	assert.True(t, IsCheckConstraintError(pgErr))

	myErr := &mysql.MySQLError{Number: 3819, Message: "Check constraint 'price_positive' is violated."}
	assert.True(t, IsCheckConstraintError(myErr))

	assert.True(t, IsCheckConstraintError(errors.New("constraint failed: CHECK constraint failed: price_positive (275)")))
	assert.False(t, IsCheckConstraintError(errors.New("syntax error")))
}
