//go:build sqlite_cgo

package storage

// This file is compiled with the sqlite_cgo tag and links the C SQLite library.
// Bulk appends of large corpora are faster than with the pure Go driver.
//
// Build command:
//   CGO_ENABLED=1 go build -tags "sqlite_cgo" ./...
//
// Driver used: github.com/mattn/go-sqlite3

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite3"

	// BuildMode describes the current build configuration
	BuildMode = "cgo"
)
