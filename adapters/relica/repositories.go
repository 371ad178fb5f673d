package relica

import (
	"context"
	"database/sql"

	"github.com/coregx/cloudbackend"
)

// Open applies the embedded migrations for driverName and returns an
// EntityRepository on the migrated schema.
//
// The db parameter should be an *sql.DB connected to MySQL, PostgreSQL, or SQLite.
// An empty prefix selects cloudbackend.DefaultTablePrefix.
func Open(ctx context.Context, db *sql.DB, driverName, prefix string) (*EntityRepository, error) {
	if prefix == "" {
		prefix = cloudbackend.DefaultTablePrefix
	}
	if err := cloudbackend.Migrate(ctx, db, driverName, prefix); err != nil {
		return nil, err
	}
	return NewEntityRepositoryWithPrefix(db, driverName, prefix), nil
}
