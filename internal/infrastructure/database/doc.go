// Package database provides SQLite connectivity and schema migrations for
// Switchboard Core.
//
// The database holds a single table of known bridge services (whether each
// should autostart and when it last started and exited). It is not an event
// store: worker messages are relayed live and never persisted.
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
//
// Migrations live in the top-level migrations package as
// YYYYMMDD_HHMMSS_description.up.sql / .down.sql pairs, are embedded into the
// binary, and are applied in version order, each in its own transaction.
package database
