// Package dialect provides the database driver abstraction used by arbor.
//
// The Driver interface decouples the aggregate persistence engine from
// database/sql, so the same action-ordering logic can be executed against
// PostgreSQL, MySQL or SQLite connections, plain or transactional.
//
// Each dialect is identified by a constant string:
//
//	dialect.Postgres = "postgres"
//	dialect.MySQL    = "mysql"
//	dialect.SQLite   = "sqlite"
//
// Opening a connection:
//
//	drv, err := sql.Open(dialect.Postgres, "postgres://...")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer drv.Close()
//
// The dialect/sql sub-package implements Driver on top of database/sql.
package dialect
