//go:build cgo_sqlite

package store

// Built with the cgo_sqlite tag: the C SQLite amalgamation via mattn/go-sqlite3.
//
//	CGO_ENABLED=1 go build -tags cgo_sqlite ./...

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the database/sql driver name.
	DriverName = "sqlite3"

	// BuildMode describes the compiled-in driver.
	BuildMode = "cgo"
)
