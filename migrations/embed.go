// Package migrations embeds the SQL migration sets. The central set
// shapes the shared registry database; the tenant set is applied to
// every physical tenant database and defines the schema version a
// tenant must reach before it is marked active.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed central/*.sql
var centralFS embed.FS

//go:embed tenant/*.sql
var tenantFS embed.FS

// Central returns the registry migration set.
func Central() fs.FS {
	return mustSub(centralFS, "central")
}

// Tenant returns the per-tenant migration set.
func Tenant() fs.FS {
	return mustSub(tenantFS, "tenant")
}

func mustSub(fsys embed.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}
	return sub
}
