// Package migrations embeds the SQL schema migrations for messageai.db.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
