//go:build sqlite_vec
// +build sqlite_vec

package storage

// Production build: cgo SQLite with the sqlite-vec extension loaded, so
// vector ranking runs inside the database via vec_distance_cosine.
//
//   CGO_ENABLED=1 go build -tags "sqlite_vec,fts5" ./...

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite3"

	// VectorExtensionAvailable indicates if vector extension is available
	VectorExtensionAvailable = true

	// BuildMode describes the current build configuration
	BuildMode = "cgo"
)
