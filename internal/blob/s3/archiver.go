package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/marketvault/internal/domain"
)

// EventArchiver implements domain.Archiver. Events older than the cutoff
// are appended to one JSONL object per calendar month (UTC) of their ledger
// timestamp, at archive/events/YYYY-MM.jsonl, and deleted from the event
// store only after every upload succeeded. Re-running after a partial
// failure does not duplicate lines: merges are keyed by event ID.
type EventArchiver struct {
	objects domain.ObjectStore
	events domain.EventStore
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewArchiver creates an EventArchiver. audit may be nil.
func NewArchiver(objects domain.ObjectStore, events domain.EventStore, audit domain.AuditStore, logger *slog.Logger) *EventArchiver {
	return &EventArchiver{
		objects: objects,
		events:  events,
		audit:   audit,
		logger:  logger.With(slog.String("component", "archiver")),
	}
}

// ArchivePath is the object key holding the events of month.
func ArchivePath(month time.Time) string {
	return fmt.Sprintf("archive/events/%s.jsonl", month.UTC().Format("2006-01"))
}

// ArchiveEvents moves every event older than before to the archive and
// returns how many were archived.
func (a *EventArchiver) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	evs, err := a.events.ListBefore(ctx, before, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events query: %w", err)
	}
	if len(evs) == 0 {
		return 0, nil
	}

	byMonth := make(map[string][]domain.EventRecord)
	for _, ev := range evs {
		path := ArchivePath(time.Unix(int64(ev.Timestamp), 0))
		byMonth[path] = append(byMonth[path], ev)
	}
	paths := make([]string, 0, len(byMonth))
	for p := range byMonth {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, path := range paths {
		if err := a.appendMonth(ctx, path, byMonth[path]); err != nil {
			return 0, err
		}
	}

	deleted, err := a.events.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: delete archived events: %w", err)
	}
	count := int64(len(evs))
	a.logger.InfoContext(ctx, "events archived",
		slog.Int64("count", count),
		slog.Int64("deleted", deleted),
		slog.Int("objects", len(paths)),
		slog.String("before", before.UTC().Format(time.RFC3339)),
	)
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.events", map[string]any{
			"paths":  paths,
			"count":  count,
			"before": before.UTC().Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive audit log: %w", err)
		}
	}
	return count, nil
}

func (a *EventArchiver) appendMonth(ctx context.Context, path string, evs []domain.EventRecord) error {
	existing, err := a.Load(ctx, path)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	merged := mergeByID(existing, evs)

	buf, err := marshalJSONL(merged)
	if err != nil {
		return fmt.Errorf("s3blob: archive %s marshal: %w", path, err)
	}
	if err := a.objects.Put(ctx, path, buf, len(merged)); err != nil {
		return fmt.Errorf("s3blob: archive %s upload: %w", path, err)
	}
	return nil
}

// Load reads back an archived month object.
func (a *EventArchiver) Load(ctx context.Context, path string) ([]domain.EventRecord, error) {
	body, err := a.objects.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	return unmarshalJSONL(bytes.NewReader(body))
}

func mergeByID(a, b []domain.EventRecord) []domain.EventRecord {
	seen := make(map[int64]bool, len(a)+len(b))
	out := make([]domain.EventRecord, 0, len(a)+len(b))
	for _, list := range [][]domain.EventRecord{a, b} {
		for _, ev := range list {
			if seen[ev.ID] {
				continue
			}
			seen[ev.ID] = true
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

func unmarshalJSONL(r io.Reader) ([]domain.EventRecord, error) {
	var out []domain.EventRecord
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for line := 1; sc.Scan(); line++ {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var ev domain.EventRecord
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			return nil, fmt.Errorf("s3blob: jsonl line %d: %w", line, err)
		}
		out = append(out, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("s3blob: read jsonl: %w", err)
	}
	return out, nil
}

var (
	_ domain.Archiver    = (*EventArchiver)(nil)
	_ domain.ObjectStore = (*ObjectStore)(nil)
)
