package cloudbackend

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

// DefaultTablePrefix is prepended to table names when no prefix is given.
const DefaultTablePrefix = "cloudbackend_"

// prefixPlaceholder is replaced with the table prefix in migration files.
const prefixPlaceholder = "{{prefix}}"

// MigrationFiles contains the SQL migration files embedded in the binary,
// one directory per database driver (sqlite3, mysql, postgres). Each file
// holds a single statement and uses {{prefix}} in place of the table prefix.
//
// Most applications call Migrate. External migration tools can read the
// files directly after substituting the prefix.
//
//go:embed migrations/*/*.sql
var MigrationFiles embed.FS

// migrationDir maps database/sql driver names to migration directories.
var migrationDir = map[string]string{
	"sqlite3":  "sqlite3",
	"mysql":    "mysql",
	"postgres": "postgres",
	"pgx":      "postgres",
}

// MigrationStatements returns the migration statements for driverName in
// the order they must be applied, with the table prefix substituted.
func MigrationStatements(driverName, tablePrefix string) ([]string, error) {
	dir, ok := migrationDir[driverName]
	if !ok {
		return nil, NewError(ErrCodeConfiguration, fmt.Sprintf("unsupported database driver %q", driverName))
	}

	root := path.Join("migrations", dir)
	entries, err := fs.ReadDir(MigrationFiles, root)
	if err != nil {
		return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to read migrations", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	statements := make([]string, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(MigrationFiles, path.Join(root, name))
		if err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to read migration "+name, err)
		}
		statements = append(statements, strings.ReplaceAll(string(data), prefixPlaceholder, tablePrefix))
	}
	return statements, nil
}

// Migrate creates the entity table and its indexes. The statements are
// idempotent, so Migrate can run on every start.
//
// Example:
//
//	db, _ := sql.Open("sqlite3", "cloudbackend.db")
//	if err := cloudbackend.Migrate(ctx, db, "sqlite3", cloudbackend.DefaultTablePrefix); err != nil {
//	    log.Fatal(err)
//	}
func Migrate(ctx context.Context, db *sql.DB, driverName, tablePrefix string) error {
	statements, err := MigrationStatements(driverName, tablePrefix)
	if err != nil {
		return err
	}

	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return NewErrorWithCause(ErrCodeTransport, fmt.Sprintf("migration %d failed", i+1), err)
		}
	}
	return nil
}
