// Package database provides the SQLite settings store for Vent Logic Core.
//
// The store holds the durable hub-side state: registered units (identity
// and last known endpoint) and per-unit settings reconciled by the unit
// engine. The units themselves remain the source of truth for live values;
// this database only persists what must survive a restart.
//
// # Configuration
//
//	database:
//	  path: "./data/ventlogic.db"
//	  wal_mode: true
//	  busy_timeout: 5
//
// # Usage
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	if err := db.InitSchema(ctx); err != nil {
//	    return err
//	}
package database
