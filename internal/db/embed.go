package db

import "embed"

// EmbedMigrations holds the run-history schema migrations applied by goose.
//
//go:embed migrations/*.sql
var EmbedMigrations embed.FS
