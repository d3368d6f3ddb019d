// Package migrations embeds the goose migrations that create the remote
// tables mirrored by the sync engine.
package migrations

import "embed"

// FS holds every *.sql migration in this directory.
//
//go:embed *.sql
var FS embed.FS
