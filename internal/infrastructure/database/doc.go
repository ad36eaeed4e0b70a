// Package database provides SQLite connectivity for the door-lock gateway.
//
// The database backs two collaborators of the dispatch manager: the device
// directory (identity, owner, durable status mirror) and the audit log.
// Neither is ever read back to rebuild in-memory connection state.
//
// This package manages:
//   - Connection with WAL mode and a busy timeout
//   - Embedded, forward-only schema migrations
//   - Health checks at startup
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
