// Package storage persists watchbot's durable state: the subject address
// book, running monitor records, notification dedup stamps and the command
// audit log.
//
// Two drivers share one Store interface: "file" (JSON snapshot plus JSONL
// journals, no dependencies) and "sqlite" (modernc.org/sqlite, WAL mode).
package storage
