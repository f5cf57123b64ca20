// Package sqlite persists traced fans to a SQLite database.
//
// A run row holds the request that produced it; ray summaries, per-hop
// data and optional path points hang off it by run_id. The schema is
// managed by embedded golang-migrate migrations applied on Open.
package sqlite
