package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/greendelivery/coldchain/pkg/types"
	"github.com/greendelivery/coldchain/processor/internal/alerts"
	"github.com/greendelivery/coldchain/processor/internal/forwarder"
	"github.com/greendelivery/coldchain/processor/internal/metrics"
	"github.com/greendelivery/coldchain/processor/internal/source"
	"github.com/greendelivery/coldchain/processor/internal/store"
)

// Report summarizes what happened to one record.
type Report struct {
	PackageID string
	Door      alerts.Outcome
	Sustained alerts.Outcome
	Forward   forwarder.Result
}

// Processor owns the alert state table and drives the dispatcher and the
// forwarder for each record.
type Processor struct {
	table      *alerts.Table
	dispatcher *alerts.Dispatcher
	forwarder  *forwarder.Forwarder
	latest     *store.Latest
	metrics    *metrics.Metrics
	strict     bool
	drain      time.Duration
	now        func() time.Time
}

// Option configures a Processor.
type Option func(*Processor)

// WithLatest records every processed record in s for the API.
func WithLatest(s *store.Latest) Option {
	return func(p *Processor) { p.latest = s }
}

// WithMetrics sets the collectors updated by the processor.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// WithStrictInvariants makes a broken state invariant panic.
func WithStrictInvariants(strict bool) Option {
	return func(p *Processor) { p.strict = strict }
}

// WithDrainTimeout bounds how long the record in flight at shutdown may keep
// running once Run's context is cancelled. Zero means no bound beyond the
// downstream timeouts.
func WithDrainTimeout(d time.Duration) Option {
	return func(p *Processor) { p.drain = d }
}

// WithClock overrides time.Now for timestamp stamping.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// New creates a Processor.
func New(table *alerts.Table, d *alerts.Dispatcher, f *forwarder.Forwarder, opts ...Option) *Processor {
	p := &Processor{
		table:      table,
		dispatcher: d,
		forwarder:  f,
		now:        time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = metrics.NewUnregistered()
	}
	return p
}

// Process handles one decoded record. Door evaluation runs first, then the
// sustained evaluation, then forwarding. Forwarding happens whatever the
// alert outcome was.
func (p *Processor) Process(ctx context.Context, rec *types.Record) Report {
	rec = rec.WithTimestamp(p.now())
	p.metrics.RecordsReceived.Inc()

	th := p.dispatcher.Settings().Thresholds
	rep := Report{PackageID: rec.PackageID}

	p.table.Update(rec.PackageID, func(st *alerts.State) {
		rep.Door = p.dispatcher.Dispatch(ctx, st, alerts.EvaluateDoor(rec, *st), rec)
		rep.Sustained = p.dispatcher.Dispatch(ctx, st, alerts.EvaluateSustained(rec, *st, th), rec)
		p.checkInvariants(rec.PackageID, st)
	})
	p.metrics.Packages.Set(float64(p.table.Len()))

	if p.latest != nil {
		p.latest.Put(rec)
	}

	rep.Forward = p.forwarder.Forward(ctx, rec)
	return rep
}

// HandlePayload decodes payload and processes it. Malformed payloads are
// logged and discarded without touching any package state.
func (p *Processor) HandlePayload(ctx context.Context, payload []byte) (Report, error) {
	rec, err := types.Decode(payload)
	if err != nil {
		p.metrics.RecordsMalformed.Inc()
		return Report{}, err
	}
	return p.Process(ctx, rec), nil
}

// Run consumes in until ctx is cancelled or in is closed. Records are
// handled strictly one at a time in arrival order. The record in flight at
// shutdown keeps running for up to the drain timeout; after that its
// notifications and forward attempts are cancelled.
func (p *Processor) Run(ctx context.Context, in <-chan source.Message) error {
	slog.Info("pipeline: processor started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("pipeline: processor stopped")
			return nil
		case msg, ok := <-in:
			if !ok {
				slog.Info("pipeline: input closed, processor stopped")
				return nil
			}
			work, done := p.inflight(ctx)
			_, err := p.HandlePayload(work, msg.Payload)
			done()
			if err != nil {
				slog.Warn("pipeline: discarding malformed payload",
					"origin", msg.Origin,
					"size", len(msg.Payload),
					"err", err,
				)
			}
		}
	}
}

// inflight detaches the work context from ctx so that shutdown does not cut
// a record in half, then re-attaches a deadline of p.drain once ctx ends.
func (p *Processor) inflight(ctx context.Context) (context.Context, func()) {
	work, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if p.drain <= 0 {
		return work, cancel
	}
	stop := context.AfterFunc(ctx, func() {
		time.AfterFunc(p.drain, cancel)
	})
	return work, func() {
		stop()
		cancel()
	}
}

// Table exposes the state table for read-only views.
func (p *Processor) Table() *alerts.Table { return p.table }

func (p *Processor) checkInvariants(id string, st *alerts.State) {
	now := p.dispatcher.Now()
	err := st.Check(now)
	if err == nil {
		return
	}
	if p.strict {
		panic(fmt.Sprintf("pipeline: state invariant broken for %s: %v", id, err))
	}
	p.metrics.InvariantErrors.Inc()
	slog.Error("pipeline: state invariant broken, repairing", "package", id, "err", err)
	st.Repair(now)
}

// IsMalformed reports whether err came from an undecodable payload.
func IsMalformed(err error) bool {
	return errors.Is(err, types.ErrMalformed)
}
