package domain

import (
	"context"
	"time"
)

// JournalObject describes one archived journal file.
type JournalObject struct {
	Key      string
	Size     int64
	Events   int
	Modified time.Time
}

// ObjectStore keeps archived journal files. Get returns ErrNotFound for a
// missing key; Put replaces the object whole.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, events int) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]JournalObject, error)
}

// Archiver moves old events from the database to cold storage.
type Archiver interface {
	ArchiveEvents(ctx context.Context, before time.Time) (int64, error)
}
