package storage

// Package storage persists which notification ids the viewer has already
// seen locally, so the periodic poll only surfaces new items and markers
// survive restarts.
//
// Drivers:
//   - "file": dependency-free backend (snapshot + append-only journal)
//   - "sqlite": SQLite database file
