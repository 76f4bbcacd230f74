// Package migrations embeds the server's goose SQL migrations.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
