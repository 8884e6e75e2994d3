// Package migrations embeds the SQL schema applied by platform/db.Migrate.
package migrations

import "embed"

// FS holds the numbered up and down migrations.
//
//go:embed *.sql
var FS embed.FS
