// Package migrations embeds the goose migrations applied at startup.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
