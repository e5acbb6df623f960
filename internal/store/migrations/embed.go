// Package migrations embeds the SQL schema migrations for the local
// dictionary database, applied with goose.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
