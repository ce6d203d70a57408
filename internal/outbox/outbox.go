// Package outbox delivers locally committed orders to the remote back office.
// Entries are written in the same flow that persists the order and drained by
// a background worker, so checkout never waits on the network.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"dinein/backend/internal/apperror"
	"dinein/backend/internal/domain"
	"dinein/backend/internal/eventbus"
	"dinein/backend/internal/remote"
)

type Store interface {
	EnqueueOutbox(ctx context.Context, entry domain.OutboxEntry) (*domain.OutboxEntry, error)
	ListDueOutbox(ctx context.Context, now time.Time, limit int) ([]domain.OutboxEntry, error)
	UpdateOutbox(ctx context.Context, entry domain.OutboxEntry) error
	MarkOrderSynced(ctx context.Context, orderID string, at time.Time) error
}

type Caller interface {
	Call(ctx context.Context, path string, opts remote.CallOptions) (json.RawMessage, error)
}

type Outbox struct {
	store Store
	wake  chan struct{}
}

func New(st Store) *Outbox {
	return &Outbox{store: st, wake: make(chan struct{}, 1)}
}

// Enqueue persists one pending delivery and nudges a running worker.
func (o *Outbox) Enqueue(ctx context.Context, kind string, aggregateID string, payload any) (*domain.OutboxEntry, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode outbox payload: %w", err)
	}
	entry, err := o.store.EnqueueOutbox(ctx, domain.OutboxEntry{Kind: kind, AggregateID: aggregateID, Payload: raw})
	if err != nil {
		return nil, err
	}
	select {
	case o.wake <- struct{}{}:
	default:
	}
	return entry, nil
}

type WorkerConfig struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// Delivery is the sync:delivered and sync:failed payload.
type Delivery struct {
	EntryID     string `json:"entry_id"`
	Kind        string `json:"kind"`
	AggregateID string `json:"aggregate_id"`
	Attempts    int    `json:"attempts"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
}

type Worker struct {
	outbox *Outbox
	caller Caller
	cfg    WorkerConfig
	bus    *eventbus.Bus
	log    logrus.FieldLogger
	now    func() time.Time
}

func NewWorker(o *Outbox, caller Caller, cfg WorkerConfig, bus *eventbus.Bus, log logrus.FieldLogger) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 5 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Minute
	}
	return &Worker{
		outbox: o,
		caller: caller,
		cfg:    cfg,
		bus:    bus,
		log:    log.WithField("component", "outbox"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Backoff is base × 2^(attempts−1), capped at max.
func Backoff(attempts int, base time.Duration, max time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// Run drains due entries until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := w.DrainOnce(ctx); err != nil && ctx.Err() == nil {
			w.log.WithError(err).Warn("outbox drain failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-w.outbox.wake:
		}
	}
}

// DrainOnce attempts every due entry once, oldest first. A connectivity
// failure stops the pass; the rest wait for the next one. Once an entry is
// rescheduled, later entries for the same aggregate wait behind it.
func (w *Worker) DrainOnce(ctx context.Context) (int, error) {
	entries, err := w.outbox.store.ListDueOutbox(ctx, w.now(), w.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	delivered := 0
	held := make(map[string]bool)
	for _, entry := range entries {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		if held[entry.AggregateID] {
			continue
		}
		err := w.deliver(ctx, entry)
		if err == nil {
			delivered++
			w.markDone(ctx, entry)
			continue
		}
		if !w.markFailed(ctx, entry, err) {
			held[entry.AggregateID] = true
		}
		if apperror.Is(err, apperror.KindConnectivity) {
			break
		}
	}
	return delivered, nil
}

var errUnknownKind = errors.New("unknown outbox kind")

func (w *Worker) deliver(ctx context.Context, entry domain.OutboxEntry) error {
	var path string
	switch entry.Kind {
	case domain.OutboxKindOrderUpsert:
		path = "/orders"
	case domain.OutboxKindOrderRefund:
		path = "/orders/" + url.PathEscape(entry.AggregateID) + "/refunds"
	default:
		return fmt.Errorf("%w: %s", errUnknownKind, entry.Kind)
	}
	_, err := w.caller.Call(ctx, path, remote.CallOptions{Method: http.MethodPost, Body: json.RawMessage(entry.Payload)})
	return err
}

func (w *Worker) markDone(ctx context.Context, entry domain.OutboxEntry) {
	log := w.log.WithFields(logrus.Fields{"entry_id": entry.ID, "order_id": entry.AggregateID})
	entry.Attempts++
	entry.Status = domain.OutboxStatusDone
	entry.LastError = ""
	if err := w.outbox.store.UpdateOutbox(ctx, entry); err != nil {
		log.WithError(err).Warn("delivered entry not marked done")
	}

	if entry.Kind == domain.OutboxKindOrderUpsert {
		if err := w.outbox.store.MarkOrderSynced(ctx, entry.AggregateID, w.now()); err != nil {
			log.WithError(err).Warn("synced_at not stamped")
		}
	}

	log.Debug("outbox entry delivered")
	w.bus.Emit(eventbus.EventSyncDelivered, Delivery{
		EntryID: entry.ID, Kind: entry.Kind, AggregateID: entry.AggregateID,
		Attempts: entry.Attempts, Status: entry.Status,
	})
}

// markFailed reschedules entry or marks it dead and reports whether it died.
func (w *Worker) markFailed(ctx context.Context, entry domain.OutboxEntry, cause error) bool {
	entry.Attempts++
	entry.LastError = cause.Error()
	dead := remote.IsPermanent(cause) || errors.Is(cause, errUnknownKind) || entry.Attempts >= w.cfg.MaxAttempts
	if dead {
		entry.Status = domain.OutboxStatusDead
	} else {
		entry.NextAttemptAt = w.now().Add(Backoff(entry.Attempts, w.cfg.BaseBackoff, w.cfg.MaxBackoff))
	}

	log := w.log.WithFields(logrus.Fields{
		"entry_id": entry.ID,
		"order_id": entry.AggregateID,
		"attempts": entry.Attempts,
	}).WithError(cause)
	if dead {
		log.Error("outbox entry dead")
	} else {
		log.Warn("outbox delivery failed, will retry")
	}

	if err := w.outbox.store.UpdateOutbox(ctx, entry); err != nil {
		w.log.WithError(err).WithField("entry_id", entry.ID).Warn("outbox entry not rescheduled")
	}
	w.bus.Emit(eventbus.EventSyncFailed, Delivery{
		EntryID: entry.ID, Kind: entry.Kind, AggregateID: entry.AggregateID,
		Attempts: entry.Attempts, Status: entry.Status, Error: entry.LastError,
	})
	return dead
}
