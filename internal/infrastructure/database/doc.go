// Package database stores the device inventory and audit trail in SQLite.
//
// This package manages:
//   - The connection, with WAL mode so readers never block the monitor
//   - Embedded schema migrations (migrations/*.sql)
//
// Database file permissions are set to 0600. Portal passwords are never
// written here; only usernames and the pinned certificate are persisted.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns are nullable or carry defaults, and
// every .up.sql has a matching .down.sql.
package database
