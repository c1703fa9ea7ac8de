package migrations

import "embed"

// FS holds the schema migrations, applied in filename order
//
//go:embed *.sql
var FS embed.FS
