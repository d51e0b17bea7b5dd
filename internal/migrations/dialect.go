package migrations

import (
	"context"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// dropTable drops table if present. On Postgres the drop cascades to
// dependent objects; SQLite has no CASCADE clause.
func dropTable(ctx context.Context, db bun.IDB, table string) error {
	q := db.NewDropTable().Table(table).IfExists()
	if db.Dialect().Name() == dialect.PG {
		q = q.Cascade()
	}
	_, err := q.Exec(ctx)
	return err
}
