package migrations

import "embed"

// Files exposes the goose SQL migrations compiled into the binary.
//
//go:embed *.sql
var Files embed.FS
