package storage

// Package storage persists batch history.
//
// It currently supports:
//   - Batch records appended when a batch resolves or is terminated
//   - Reading back the most recent records (newest first)
