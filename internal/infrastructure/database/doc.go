// Package database provides the SQLite connection used by the bridge's
// device registry.
//
// It opens the database in WAL mode with a busy timeout and applies
// additive schema migrations loaded from an fs.FS. The migrations package
// at the repository root embeds the bridge's schema.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	all, err := migrations.All()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := db.Migrate(ctx, all); err != nil {
//	    log.Fatal(err)
//	}
//
// Migrations are additive: new columns must be nullable or have defaults,
// and each version has both an .up.sql and a .down.sql file.
package database
