package s3blob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketvault/internal/domain"
	"github.com/alanyoungcy/marketvault/internal/store/memory"
)

type memBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
	events  map[string]int
	failPut bool
}

func newMemBlob() *memBlob {
	return &memBlob{objects: make(map[string][]byte), events: make(map[string]int)}
}

func (m *memBlob) Put(_ context.Context, key string, body []byte, events int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut {
		return errors.New("upload refused")
	}
	m.objects[key] = append([]byte(nil), body...)
	m.events[key] = events
	return nil
}

func (m *memBlob) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", key, domain.ErrNotFound)
	}
	return b, nil
}

func (m *memBlob) List(_ context.Context, prefix string) ([]domain.JournalObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.JournalObject
	for k, b := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, domain.JournalObject{Key: k, Size: int64(len(b)), Events: m.events[k]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func commitEvents(t *testing.T, store *memory.Store, slot uint64, ts time.Time, names ...string) {
	t.Helper()
	c := domain.Commit{Slot: slot, TxID: fmt.Sprintf("tx-%d", slot), Timestamp: uint64(ts.Unix())}
	for i, n := range names {
		c.Events = append(c.Events, domain.EventRecord{
			Slot:      slot,
			TxID:      c.TxID,
			Seq:       i,
			Program:   domain.ProgramRegistry,
			Name:      n,
			Market:    common.HexToAddress("0xabc"),
			Timestamp: c.Timestamp,
			Data:      json.RawMessage(`{"ok":true}`),
		})
	}
	require.NoError(t, store.Commit(context.Background(), c))
}

func TestArchiveEventsByMonth(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	blob := newMemBlob()
	arch := NewArchiver(blob, store, store.AuditLog(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	jan := time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC)
	feb := time.Date(2026, 2, 3, 8, 0, 0, 0, time.UTC)
	apr := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	commitEvents(t, store, 1, jan, domain.EventMarketCreated, domain.EventVaultInitialized)
	commitEvents(t, store, 2, feb, domain.EventMarketStateChanged)
	commitEvents(t, store, 3, apr, domain.EventPairsMinted)

	n, err := arch.ArchiveEvents(ctx, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	infos, err := blob.List(ctx, "archive/events/")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "archive/events/2026-01.jsonl", infos[0].Key)
	assert.Equal(t, 2, infos[0].Events)
	assert.Equal(t, "archive/events/2026-02.jsonl", infos[1].Key)
	assert.Equal(t, 1, infos[1].Events)

	janEvents, err := arch.Load(ctx, ArchivePath(jan))
	require.NoError(t, err)
	require.Len(t, janEvents, 2)
	assert.Equal(t, domain.EventMarketCreated, janEvents[0].Name)
	assert.JSONEq(t, `{"ok":true}`, string(janEvents[0].Data))

	left, err := store.List(ctx, domain.EventFilter{})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, domain.EventPairsMinted, left[0].Name)

	entries, err := store.AuditLog().List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "archive.events", entries[0].Event)

	n, err = arch.ArchiveEvents(ctx, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestArchiveEventsAppendsToExistingMonth(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	blob := newMemBlob()
	arch := NewArchiver(blob, store, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	day := func(d int) time.Time { return time.Date(2026, 5, d, 0, 0, 0, 0, time.UTC) }
	commitEvents(t, store, 1, day(1), domain.EventMarketCreated)
	_, err := arch.ArchiveEvents(ctx, day(2))
	require.NoError(t, err)

	commitEvents(t, store, 2, day(10), domain.EventMarketResolved)
	_, err = arch.ArchiveEvents(ctx, day(11))
	require.NoError(t, err)

	evs, err := arch.Load(ctx, ArchivePath(day(1)))
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Less(t, evs[0].ID, evs[1].ID)
	assert.Equal(t, domain.EventMarketResolved, evs[1].Name)
}

func TestArchiveEventsKeepsEventsWhenUploadFails(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	blob := newMemBlob()
	blob.failPut = true
	arch := NewArchiver(blob, store, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ts := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	commitEvents(t, store, 1, ts, domain.EventMarketCreated)
	_, err := arch.ArchiveEvents(ctx, ts.Add(time.Hour))
	require.Error(t, err)

	left, err := store.List(ctx, domain.EventFilter{})
	require.NoError(t, err)
	assert.Len(t, left, 1)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "http://r2.example", normaliseEndpoint("http://r2.example", true))
}
