// Package sqlite contains SQLite implementations of the cotrend checkpoint
// and MAP diagnostic stores.
//
// The schema lives in internal/db/migrations. Stores take a *sql.DB opened
// through internal/db so the connection pragmas are in force.
package sqlite
