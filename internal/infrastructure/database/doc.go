// Package database provides SQLite persistence for the C-Bus bridge.
//
// This package manages:
//   - Opening the database with WAL mode and busy timeout pragmas
//   - Schema initialisation (state_history table)
//   - Health checks and connection lifecycle
//
// The bridge stores a single append-only table of accepted group level
// changes; pruning is driven by the state store's cleanup scheduler.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.InitSchema(ctx); err != nil {
//	    return err
//	}
package database
