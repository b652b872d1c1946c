// Package db embeds the database schema.
package db

import _ "embed"

// Schema holds the idempotent DDL for the promotion, coupon, price and
// usage tables. Applied on startup by postgres.RunMigrations.
//
//go:embed migrations/001_schema.sql
var Schema string
