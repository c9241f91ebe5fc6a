package demodb

import "embed"

// MigrationFS embeds the goose migration set into the compiled binary,
// the same way the teacher's internal/db.MigrationFS does, so a
// zerver-embedding binary never needs migration files on disk.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
