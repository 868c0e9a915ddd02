package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketvault/internal/domain"
	"github.com/alanyoungcy/marketvault/internal/ledger"
)

type recordingSender struct {
	mu     sync.Mutex
	name   string
	titles []string
	bodies []string
	err    error
	sent   chan struct{}
}

func newRecordingSender(name string) *recordingSender {
	return &recordingSender{name: name, sent: make(chan struct{}, 16)}
}

func (r *recordingSender) Send(_ context.Context, title, message string) error {
	r.mu.Lock()
	r.titles = append(r.titles, title)
	r.bodies = append(r.bodies, message)
	r.mu.Unlock()
	r.sent <- struct{}{}
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func event(t *testing.T, name string, payload any) domain.EventRecord {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return domain.EventRecord{ID: 1, Slot: 9, TxID: "tx-9", Name: name, Market: common.HexToAddress("0xabc"), Data: data}
}

func TestNotifierForwardsConfiguredEvents(t *testing.T) {
	s := newRecordingSender("rec")
	n := NewNotifier([]Sender{s}, nil, 6, discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = n.Run(ctx) }()

	n.OnCommit(ctx, &ledger.Receipt{Events: []domain.EventRecord{
		event(t, domain.EventPairsMinted, domain.PairsMinted{Pairs: 1}),
		event(t, domain.EventProposalDisputed, domain.ProposalDisputed{
			Disputer:       common.HexToAddress("0xb0b"),
			CounterOutcome: domain.OutcomeNo,
			BondAmount:     1_500_000_000,
			DisputeCount:   2,
		}),
	}})

	select {
	case <-s.sent:
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	require.Len(t, s.titles, 1)
	assert.Equal(t, "Proposal disputed", s.titles[0])
	assert.Contains(t, s.bodies[0], "bond: 1500.000000")
	assert.Contains(t, s.bodies[0], "counter outcome: no")
	assert.Contains(t, s.bodies[0], "disputes: 2")
}

func TestFormat(t *testing.T) {
	title, body := Format(event(t, domain.EventOutcomeFinalized, domain.OutcomeFinalized{
		Outcome: domain.OutcomeYes,
		Winner:  common.HexToAddress("0xa11ce"),
		Bonds:   2_000_000_000,
		Reward:  100_000_000,
	}), 6)
	assert.Equal(t, "Outcome finalized: yes", title)
	assert.Contains(t, body, "reward: 100.000000")
	assert.Contains(t, body, "slot 9, tx tx-9")

	title, body = Format(event(t, domain.EventMarketCancelled, domain.MarketCancelled{PrevState: domain.MarketPaused}), 6)
	assert.Equal(t, "Market cancelled", title)
	assert.Contains(t, body, "previous state: paused")

	title, body = Format(event(t, "Custom", map[string]int{"x": 1}), 6)
	assert.Equal(t, "Custom", title)
	assert.Contains(t, body, `{"x":1}`)
}

func TestDispatchContinuesPastFailures(t *testing.T) {
	bad := newRecordingSender("bad")
	bad.err = errors.New("down")
	good := newRecordingSender("good")
	n := NewNotifier([]Sender{bad, good}, []string{"X"}, 6, discard())

	err := n.NotifyAll(context.Background(), "t", "m")
	require.ErrorContains(t, err, "bad: down")
	assert.Len(t, good.titles, 1)
}

type denyAll struct{}

func (denyAll) Allow(context.Context, string, int, time.Duration) (bool, error) { return false, nil }

func TestDispatchHonoursRateLimit(t *testing.T) {
	s := newRecordingSender("rec")
	n := NewNotifier([]Sender{s}, nil, 6, discard(), WithRateLimit(denyAll{}, 1, time.Minute))
	require.NoError(t, n.NotifyAll(context.Background(), "t", "m"))
	assert.Empty(t, s.titles)
}

func TestTelegramSender(t *testing.T) {
	var (
		mu    sync.Mutex
		forms []url.Values
		paths []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		mu.Lock()
		paths = append(paths, r.URL.Path)
		forms = append(forms, r.PostForm)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"}}}`)
	}))
	defer srv.Close()

	tg := NewTelegramSender("TOKEN", "42")
	tg.bot.SetAPIEndpoint(srv.URL + "/bot%s/%s")
	require.NoError(t, tg.Send(context.Background(), "Title", "body"))

	channel := NewTelegramSender("TOKEN", "@marketd_ops")
	channel.bot.SetAPIEndpoint(srv.URL + "/bot%s/%s")
	require.NoError(t, channel.Send(context.Background(), "Title", "body"))

	err := NewTelegramSender("TOKEN", "ops").Send(context.Background(), "Title", "body")
	require.ErrorContains(t, err, "invalid chat id")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, forms, 2)
	assert.Equal(t, "/botTOKEN/sendMessage", paths[0])
	assert.Equal(t, "42", forms[0].Get("chat_id"))
	assert.Equal(t, "*Title*\nbody", forms[0].Get("text"))
	assert.Equal(t, "Markdown", forms[0].Get("parse_mode"))
	assert.Equal(t, "@marketd_ops", forms[1].Get("chat_id"))
}

func TestDiscordSender(t *testing.T) {
	var (
		mu       sync.Mutex
		payloads []discordPayload
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body discordPayload
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		payloads = append(payloads, body)
		mu.Unlock()
		if strings.Contains(r.URL.Path, "fail") {
			http.Error(w, "nope", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	title, message := Format(event(t, domain.EventEmergencyResolution, domain.EmergencyResolution{
		Outcome:  domain.OutcomeInvalid,
		Reason:   "feed outage",
		Refunded: 2_000_000_000,
	}), 6)
	require.NoError(t, NewDiscordSender(srv.URL+"/webhook").Send(context.Background(), title, message))

	err := NewDiscordSender(srv.URL+"/fail").Send(context.Background(), "Proposal disputed", "market: 0x01")
	require.ErrorContains(t, err, "status 400")
	require.ErrorContains(t, err, "Proposal disputed")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, payloads, 2)
	require.Len(t, payloads[0].Embeds, 1)
	e := payloads[0].Embeds[0]
	assert.Equal(t, "marketd", payloads[0].Username)
	assert.Equal(t, "Emergency resolution: invalid", e.Title)
	assert.Equal(t, colorEmergency, e.Color)
	fields := map[string]string{}
	for _, f := range e.Fields {
		fields[f.Name] = f.Value
	}
	assert.Equal(t, "feed outage", fields["reason"])
	assert.Equal(t, "2000.000000", fields["bonds refunded"])
	assert.Contains(t, fields, "market")
	require.NotNil(t, e.Footer)
	assert.Equal(t, "slot 9, tx tx-9", e.Footer.Text)
	assert.Equal(t, colorDisputed, payloads[1].Embeds[0].Color)
}
