// Package notify delivers operator alerts about oracle cycles to chat
// channels. Alerts are filtered by event type so operators receive only the
// ones they subscribe to.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/time/rate"
)

// Event types raised by the oracle.
const (
	EventCycleDegraded   = "cycle_degraded"
	EventOutliersDropped = "outliers_dropped"
	EventSpreadAlert     = "spread_alert"
	EventArchiveDone     = "archive_done"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, a Alert) error
	Name() string
}

// Notifier fans an alert out to every sender. Delivery is throttled so a
// flapping venue cannot flood a channel.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list allows every event.
// perMinute <= 0 disables throttling.
func NewNotifier(senders []Sender, events []string, perMinute int, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if perMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(perMinute)/60), perMinute)
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		limiter: limiter,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether event would be forwarded.
func (n *Notifier) Enabled(event string) bool {
	if n == nil || len(n.senders) == 0 {
		return false
	}
	return len(n.events) == 0 || n.events[event]
}

// Notify forwards an alert if its event type is enabled. Alerts over the
// rate limit are dropped with a warning.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Enabled(event) {
		return nil
	}
	if !n.limiter.Allow() {
		n.logger.WarnContext(ctx, "notify: alert throttled", slog.String("event", event))
		return nil
	}

	alert := Alert{Event: event, Title: title, Message: message}
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, alert); err != nil {
			n.logger.ErrorContext(ctx, "notify: sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notify: sent",
			slog.String("sender", s.Name()),
			slog.String("event", event),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
