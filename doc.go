// Package typemeta extracts declared type metadata from TypeScript sources and
// writes it to a compact, indexed binary container that readers can load
// without a TypeScript toolchain.
//
// # Pipeline
//
// A build runs in three phases:
//
//  1. Detect: stat every source file and compare its modification time and
//     declared hashes against the incremental cache.
//  2. Extract: parse changed files with tree-sitter on a worker pool and map
//     their declarations to type records.
//  3. Commit: register records in path order, restoring unchanged files from
//     cached bytes, then write the container and update the cache.
//
// Registration order alone decides the container layout, so rebuilding an
// unchanged tree yields a byte-identical file.
//
// # Usage
//
//	e, err := typemeta.New("types.tmeta", typemeta.WithCache(cache.NewFileBackend(".typemeta-cache.json")))
//	if err != nil { ... }
//	defer e.Close()
//
//	res, err := e.BuildDirectory(ctx, "path/to/project")
//
//	r, err := typemeta.Open("types.tmeta")
//	rec, err := r.Record("UserService")
//	deps, err := r.Dependencies("UserService")
//
// Records produced outside the front end, for example by Risor scripts, go
// through [Engine.BuildRecords].
package typemeta
