// Package db embeds the storefront database schema.
package db

import _ "embed"

// Schema holds the idempotent DDL for every storefront table. It is applied
// on start-up by the api server and by the seed tool.
//
//go:embed migrations/001_schema.sql
var Schema string
