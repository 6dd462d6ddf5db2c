// Package storage persists monitor state between runs.
//
// Two stores live in the data directory (default ~/.local/share/web-monitor/):
// state.json holds the latest observation snapshot, so a restarted process
// does not announce a change it already reported, and history.db is a SQLite
// database with one row per poll cycle.
package storage
