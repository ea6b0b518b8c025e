// Package migrations embeds the schema migrations and seed data so the
// server binary can apply them without a checkout.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed *.sql
var schema embed.FS

// Schema holds the numbered migration files.
var Schema fs.FS = schema

// CTCAESeed inserts the CTCAE v5.0 categories and adverse events. It is
// safe to run more than once.
//
//go:embed seed/ctcae.sql
var CTCAESeed string
