// Package notify tells operators about protocol events that need
// attention (disputes, finalizations, emergency resolutions, cancellations)
// through Telegram and Discord.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/marketvault/internal/domain"
	"github.com/alanyoungcy/marketvault/internal/ledger"
)

// DefaultEvents are forwarded when no event list is configured.
var DefaultEvents = []string{
	domain.EventProposalDisputed,
	domain.EventOutcomeFinalized,
	domain.EventEmergencyResolution,
	domain.EventMarketCancelled,
}

const queueSize = 256

// Sender delivers one notification.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier is a ledger observer. Matching events are queued on commit and
// delivered by Run, so slow senders never hold up the ledger.
type Notifier struct {
	senders  []Sender
	events   map[string]bool
	decimals uint8
	queue    chan domain.EventRecord
	limiter  domain.RateLimiter
	limit    int
	window   time.Duration
	logger   *slog.Logger
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithRateLimit caps deliveries per sender to limit per window. Messages
// over the cap are dropped.
func WithRateLimit(rl domain.RateLimiter, limit int, window time.Duration) Option {
	return func(n *Notifier) {
		n.limiter = rl
		n.limit = limit
		n.window = window
	}
}

// NewNotifier creates a Notifier. Amounts in messages are rendered with
// decimals fractional digits. An empty events list means DefaultEvents.
func NewNotifier(senders []Sender, events []string, decimals uint8, logger *slog.Logger, opts ...Option) *Notifier {
	if len(events) == 0 {
		events = DefaultEvents
	}
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	n := &Notifier{
		senders:  senders,
		events:   allowed,
		decimals: decimals,
		queue:    make(chan domain.EventRecord, queueSize),
		logger:   logger.With(slog.String("component", "notifier")),
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// OnCommit queues the receipt's matching events. A full queue drops them.
func (n *Notifier) OnCommit(ctx context.Context, r *ledger.Receipt) {
	if len(n.senders) == 0 {
		return
	}
	for _, ev := range r.Events {
		if !n.events[ev.Name] {
			continue
		}
		select {
		case n.queue <- ev:
		default:
			n.logger.WarnContext(ctx, "notification queue full, dropping event",
				slog.String("event", ev.Name),
				slog.Int64("id", ev.ID),
			)
		}
	}
}

// Run delivers queued events until ctx ends.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-n.queue:
			title, msg := Format(ev, n.decimals)
			if err := n.dispatch(ctx, title, msg); err != nil {
				n.logger.WarnContext(ctx, "notification failed",
					slog.String("event", ev.Name),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// NotifyAll sends a message to every sender regardless of the event filter.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch sends to every sender; one failure does not stop the others.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if n.limiter != nil {
			ok, err := n.limiter.Allow(ctx, "ratelimit:notify:"+s.Name(), n.limit, n.window)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: rate limit: %w", s.Name(), err))
				continue
			}
			if !ok {
				n.logger.WarnContext(ctx, "sender rate limited", slog.String("sender", s.Name()))
				continue
			}
		}
		if err := s.Send(ctx, title, message); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

var _ ledger.Observer = (*Notifier)(nil)
