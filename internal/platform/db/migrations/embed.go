package migrations

import "embed"

// FS contains the embedded postgres migrations for the distribution board.
//
//go:embed *.sql
var FS embed.FS
