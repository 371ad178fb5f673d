// Package relica stores cloudbackend entities in a SQL database using the
// Relica query builder.
//
// Relica (github.com/coregx/relica) is a lightweight, type-safe database query builder
// for Go with zero production dependencies.
//
// All entity kinds share one table, {prefix}cloud_entity, created by the
// migrations embedded in the cloudbackend package. Properties are stored as
// a JSON document.
//
// Example usage:
//
//	import (
//	    "database/sql"
//	    "github.com/coregx/cloudbackend"
//	    "github.com/coregx/cloudbackend/adapters/relica"
//	    _ "github.com/mattn/go-sqlite3"
//	)
//
//	db, err := sql.Open("sqlite3", "cloudbackend.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Apply migrations and create the repository
//	entities, err := relica.Open(ctx, db, "sqlite3", "")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	manager, err := cloudbackend.NewMessagingManager(
//	    cloudbackend.WithEntityService(entities),
//	    cloudbackend.WithLogger(logger),
//	)
package relica
