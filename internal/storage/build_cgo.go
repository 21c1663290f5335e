//go:build sqlite_vec
// +build sqlite_vec

package storage

// Compiled with the sqlite_vec tag: records are stored through the cgo
// driver. FTS5 must be enabled in the C build as well:
//
//	CGO_ENABLED=1 go build -tags "sqlite_vec,sqlite_fts5" ./...
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
