//go:build !cgo_sqlite

package store

// Built by default: pure Go SQLite, no C toolchain required.
//
//	CGO_ENABLED=0 go build ./...

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the database/sql driver name.
	DriverName = "sqlite"

	// BuildMode describes the compiled-in driver.
	BuildMode = "purego"
)
