package alerts

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/greendelivery/coldchain/pkg/types"
	"github.com/greendelivery/coldchain/processor/internal/config"
	"github.com/greendelivery/coldchain/processor/internal/metrics"
)

// Alert states.
const (
	StateFiring   = "firing"
	StateResolved = "resolved"
)

// Alert is one notification produced by the dispatcher.
type Alert struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	Channel     string    `json:"channel"`
	PackageID   string    `json:"package_id"`
	State       string    `json:"state"` // "firing" | "resolved"
	Cause       Cause     `json:"cause,omitempty"`
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	Temperature *float64  `json:"temperature_c,omitempty"`
	GForce      *float64  `json:"g_force,omitempty"`
	Threshold   float64   `json:"threshold,omitempty"`
	Consecutive int       `json:"consecutive,omitempty"`
	Latitude    *float64  `json:"latitude,omitempty"`
	Longitude   *float64  `json:"longitude,omitempty"`
	Timestamp   string    `json:"timestamp"`
	FiredAt     time.Time `json:"fired_at"`
	Delivered   bool      `json:"delivered"`
}

// Notifier delivers an alert to its destination channel.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// Outcome describes what Dispatch did with a transition.
type Outcome string

const (
	// OutcomeNone: the transition never notifies (stay, below_threshold, ...).
	OutcomeNone Outcome = "none"
	// OutcomeSkipped: a recovery with recovery notifications disabled.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeSuppressed: withheld by the cooldown window.
	OutcomeSuppressed Outcome = "suppressed"
	OutcomeSent       Outcome = "sent"
	OutcomeFailed     Outcome = "failed"
)

// Settings is the hot-reloadable part of the alert configuration.
type Settings struct {
	Thresholds
	Cooldown      time.Duration
	SendRecovery  bool
	NotifyTimeout time.Duration
}

// SettingsFrom converts the alerts config section.
func SettingsFrom(cfg config.AlertsConfig) Settings {
	return Settings{
		Thresholds: Thresholds{
			Temperature:       cfg.TempThreshold,
			GForce:            cfg.GForceThreshold,
			ConsecutiveEvents: cfg.ConsecutiveEventsThreshold,
			RecoveryDelta:     cfg.RecoveryDelta,
		},
		Cooldown:      cfg.Cooldown(),
		SendRecovery:  cfg.SendRecoveryNotifications,
		NotifyTimeout: cfg.NotifyTimeout,
	}
}

// ChannelFor maps an alert kind to its destination channel.
func ChannelFor(k Kind) string {
	if k == KindDoor {
		return config.ChannelDoor
	}
	return config.ChannelTemperature
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock overrides time.Now. Used by tests to step through cooldowns.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithMetrics sets the collectors updated by the dispatcher.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithObserver registers fn to receive every alert handed to the notifier.
// fn runs on the dispatching goroutine and must not block.
func WithObserver(fn func(Alert)) Option {
	return func(d *Dispatcher) { d.observers = append(d.observers, fn) }
}

// WithHistorySize bounds the number of alerts returned by Recent.
func WithHistorySize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.historySize = n
		}
	}
}

// Dispatcher applies transitions to package state and emits at most one
// notification per transition.
//
// Dispatcher is safe for concurrent use, but Dispatch must be called with
// exclusive access to st (see Table.Update).
type Dispatcher struct {
	notifier  Notifier
	metrics   *metrics.Metrics
	now       func() time.Time
	observers []func(Alert)

	mu       sync.RWMutex
	settings Settings

	histMu      sync.Mutex
	history     []Alert
	historySize int
}

// NewDispatcher creates a Dispatcher sending through n.
func NewDispatcher(n Notifier, s Settings, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		notifier:    n,
		now:         time.Now,
		settings:    s,
		historySize: config.DefaultAlertHistoryLength,
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = metrics.NewUnregistered()
	}
	return d
}

// Settings returns the settings currently in effect.
func (d *Dispatcher) Settings() Settings {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.settings
}

// Now returns the dispatcher's clock reading. Cooldown timestamps use it.
func (d *Dispatcher) Now() time.Time { return d.now() }

// Configure swaps in new settings. Latches and counters are kept.
func (d *Dispatcher) Configure(s Settings) {
	d.mu.Lock()
	d.settings = s
	d.mu.Unlock()
	slog.Info("alerts: settings updated",
		"temp_threshold", s.Temperature,
		"g_force_threshold", s.GForce,
		"consecutive_events_threshold", s.ConsecutiveEvents,
		"cooldown", s.Cooldown,
		"send_recovery", s.SendRecovery,
	)
}

// Dispatch applies ev to st and notifies when the transition calls for it.
//
// Latches move with the transition whether or not a notification goes out.
// The cooldown clock only advances on a successful delivery. Notifier
// errors are logged and reported as OutcomeFailed, never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, st *State, ev Evaluation, rec *types.Record) Outcome {
	apply(st, ev)
	if ev.Transition != TransitionNone {
		d.metrics.Transitions.WithLabelValues(string(ev.Kind), string(ev.Transition)).Inc()
	}
	if !ev.Transition.Notifiable() {
		return OutcomeNone
	}

	s := d.Settings()
	if ev.Transition == TransitionRecover && !s.SendRecovery {
		slog.Debug("alerts: recovery notification disabled",
			"package", rec.PackageID, "kind", ev.Kind)
		return OutcomeSkipped
	}

	now := d.now()
	if last, ok := st.LastNotified[ev.Kind]; ok && now.Sub(last) < s.Cooldown {
		d.metrics.AlertsSuppressed.WithLabelValues(string(ev.Kind)).Inc()
		slog.Info("alerts: notification suppressed by cooldown",
			"package", rec.PackageID,
			"kind", ev.Kind,
			"transition", ev.Transition,
			"remaining", s.Cooldown-now.Sub(last),
		)
		return OutcomeSuppressed
	}

	a := buildAlert(ev, rec, s.Thresholds, now)
	a.ID = uuid.NewString()

	nctx, cancel := context.WithTimeout(ctx, s.NotifyTimeout)
	err := d.notifier.Notify(nctx, a)
	cancel()

	if err != nil {
		d.metrics.NotifyFailures.WithLabelValues(string(ev.Kind)).Inc()
		slog.Error("alerts: notification failed",
			"package", rec.PackageID,
			"kind", ev.Kind,
			"state", a.State,
			"err", err,
		)
		d.record(a)
		return OutcomeFailed
	}

	a.Delivered = true
	if st.LastNotified == nil {
		st.LastNotified = make(map[Kind]time.Time, 2)
	}
	st.LastNotified[ev.Kind] = now
	d.metrics.AlertsSent.WithLabelValues(string(ev.Kind), a.State).Inc()

	if a.State == StateFiring {
		slog.Warn("alert fired", "package", rec.PackageID, "kind", ev.Kind, "cause", ev.Cause, "id", a.ID)
	} else {
		slog.Info("alert resolved", "package", rec.PackageID, "kind", ev.Kind, "id", a.ID)
	}
	d.record(a)
	return OutcomeSent
}

// Recent returns up to limit of the most recent alerts, newest first.
// limit <= 0 returns the whole history.
func (d *Dispatcher) Recent(limit int) []Alert {
	d.histMu.Lock()
	defer d.histMu.Unlock()

	n := len(d.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Alert, 0, n)
	for i := len(d.history) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, d.history[i])
	}
	return out
}

func (d *Dispatcher) record(a Alert) {
	d.histMu.Lock()
	d.history = append(d.history, a)
	if len(d.history) > d.historySize {
		d.history = d.history[len(d.history)-d.historySize:]
	}
	d.histMu.Unlock()

	for _, fn := range d.observers {
		fn(a)
	}
}

// apply moves counters and latches according to ev.
func apply(st *State, ev Evaluation) {
	switch ev.Kind {
	case KindDoor:
		switch ev.Transition {
		case TransitionEnter:
			st.DoorLatched = true
		case TransitionRecover, TransitionReset:
			st.DoorLatched = false
		}
	case KindSustained:
		if ev.Transition == TransitionNone {
			return
		}
		st.ConsecutiveBad = ev.Count
		switch ev.Transition {
		case TransitionEnter:
			st.TempLatched = true
		case TransitionRecover:
			st.TempLatched = false
		}
	}
}
