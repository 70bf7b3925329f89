// Package stores persists the measure catalog in SQLite (modernc.org/sqlite,
// no cgo). The schema is applied with golang-migrate from embedded
// migrations. The catalog keeps one row per measure file and backend, and
// an audit row for every discovery or known-class load.
package stores
