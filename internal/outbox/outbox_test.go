package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dinein/backend/internal/apperror"
	"dinein/backend/internal/domain"
	"dinein/backend/internal/eventbus"
	"dinein/backend/internal/remote"
	"dinein/backend/internal/store/memory"
)

type call struct {
	path string
	body string
}

type fakeCaller struct {
	mu     sync.Mutex
	calls  []call
	errs   []error
	onCall func(path string)
}

func (f *fakeCaller) Call(_ context.Context, path string, opts remote.CallOptions) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, _ := opts.Body.(json.RawMessage)
	f.calls = append(f.calls, call{path: path, body: string(body)})
	if f.onCall != nil {
		f.onCall(path)
	}
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return json.RawMessage(`{}`), nil
}

func newWorker(t *testing.T, caller Caller) (*Worker, *Outbox, *memory.Store, *eventbus.Bus) {
	t.Helper()
	log, _ := test.NewNullLogger()
	st := memory.New()
	bus := eventbus.New(log)
	o := New(st)
	w := NewWorker(o, caller, WorkerConfig{BaseBackoff: time.Second, MaxBackoff: time.Minute, MaxAttempts: 3}, bus, log)
	return w, o, st, bus
}

func TestBackoff(t *testing.T) {
	base := 5 * time.Second
	max := time.Minute
	assert.Equal(t, 5*time.Second, Backoff(0, base, max))
	assert.Equal(t, 5*time.Second, Backoff(1, base, max))
	assert.Equal(t, 10*time.Second, Backoff(2, base, max))
	assert.Equal(t, 40*time.Second, Backoff(4, base, max))
	assert.Equal(t, time.Minute, Backoff(5, base, max))
	assert.Equal(t, time.Minute, Backoff(60, base, max))
}

func TestDrainDeliversAndStampsSyncedAt(t *testing.T) {
	caller := &fakeCaller{}
	w, o, st, bus := newWorker(t, caller)
	ctx := context.Background()

	var delivered []Delivery
	bus.AddListener(eventbus.EventSyncDelivered, func(_ string, payload any) {
		delivered = append(delivered, payload.(Delivery))
	})

	order, err := st.CreateOrder(ctx, domain.Order{ID: "ord-1", OrderStatus: domain.OrderStatusCompleted})
	require.NoError(t, err)
	_, err = o.Enqueue(ctx, domain.OutboxKindOrderUpsert, order.ID, order)
	require.NoError(t, err)
	_, err = o.Enqueue(ctx, domain.OutboxKindOrderRefund, order.ID, domain.Refund{ID: "rf-1", Amount: 5})
	require.NoError(t, err)

	n, err := w.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, caller.calls, 2)
	assert.Equal(t, "/orders", caller.calls[0].path)
	assert.Contains(t, caller.calls[0].body, `"id":"ord-1"`)
	assert.Equal(t, "/orders/ord-1/refunds", caller.calls[1].path)

	got, err := st.GetOrder(ctx, "ord-1")
	require.NoError(t, err)
	assert.NotNil(t, got.SyncedAt)

	done, err := st.ListOutbox(ctx, domain.OutboxStatusDone, 10)
	require.NoError(t, err)
	assert.Len(t, done, 2)
	assert.Len(t, delivered, 2)
}

func TestDrainRetriesWithBackoff(t *testing.T) {
	caller := &fakeCaller{errs: []error{&remote.StatusError{StatusCode: http.StatusServiceUnavailable}}}
	w, o, st, bus := newWorker(t, caller)
	ctx := context.Background()

	var failed []Delivery
	bus.AddListener(eventbus.EventSyncFailed, func(_ string, payload any) {
		failed = append(failed, payload.(Delivery))
	})

	_, err := o.Enqueue(ctx, domain.OutboxKindOrderUpsert, "ord-2", map[string]string{"id": "ord-2"})
	require.NoError(t, err)

	n, err := w.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	pending, err := st.ListOutbox(ctx, domain.OutboxStatusPending, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.True(t, pending[0].NextAttemptAt.After(time.Now()))
	assert.Contains(t, pending[0].LastError, "503")
	require.Len(t, failed, 1)

	due, err := st.ListDueOutbox(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	w.now = func() time.Time { return time.Now().UTC().Add(2 * time.Second) }
	n, err = w.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPermanentFailureGoesDead(t *testing.T) {
	caller := &fakeCaller{errs: []error{&remote.StatusError{StatusCode: http.StatusUnprocessableEntity, Body: "bad order"}}}
	w, o, st, _ := newWorker(t, caller)
	ctx := context.Background()

	_, err := o.Enqueue(ctx, domain.OutboxKindOrderUpsert, "ord-3", map[string]string{"id": "ord-3"})
	require.NoError(t, err)
	_, err = w.DrainOnce(ctx)
	require.NoError(t, err)

	dead, err := st.ListOutbox(ctx, domain.OutboxStatusDead, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Contains(t, dead[0].LastError, "bad order")
}

func TestExhaustedAttemptsGoDead(t *testing.T) {
	boom := errors.New("boom")
	caller := &fakeCaller{errs: []error{boom, boom, boom}}
	w, o, st, _ := newWorker(t, caller)
	ctx := context.Background()

	_, err := o.Enqueue(ctx, domain.OutboxKindOrderUpsert, "ord-4", map[string]string{"id": "ord-4"})
	require.NoError(t, err)

	clock := time.Now().UTC()
	for i := 0; i < 3; i++ {
		clock = clock.Add(time.Hour)
		at := clock
		w.now = func() time.Time { return at }
		_, err = w.DrainOnce(ctx)
		require.NoError(t, err)
	}

	dead, err := st.ListOutbox(ctx, domain.OutboxStatusDead, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, 3, dead[0].Attempts)
}

func TestConnectivityFailureStopsThePass(t *testing.T) {
	offline := apperror.Connectivity(errors.New("dial tcp: refused"), "POST /orders")
	caller := &fakeCaller{errs: []error{offline}}
	w, o, st, _ := newWorker(t, caller)
	ctx := context.Background()

	for _, id := range []string{"ord-5", "ord-6"} {
		_, err := o.Enqueue(ctx, domain.OutboxKindOrderUpsert, id, map[string]string{"id": id})
		require.NoError(t, err)
	}

	_, err := w.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Len(t, caller.calls, 1)

	pending, err := st.ListOutbox(ctx, domain.OutboxStatusPending, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestRunWakesOnEnqueue(t *testing.T) {
	caller := &fakeCaller{}
	log, _ := test.NewNullLogger()
	st := memory.New()
	bus := eventbus.New(log)
	o := New(st)
	w := NewWorker(o, caller, WorkerConfig{Interval: time.Hour}, bus, log)

	delivered := make(chan Delivery, 1)
	bus.AddListener(eventbus.EventSyncDelivered, func(_ string, payload any) {
		delivered <- payload.(Delivery)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	_, err := o.Enqueue(ctx, domain.OutboxKindOrderRefund, "ord-7", map[string]string{"id": "rf"})
	require.NoError(t, err)

	select {
	case d := <-delivered:
		assert.Equal(t, "ord-7", d.AggregateID)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not wake")
	}

	cancel()
	<-done
}

func TestSyncStampKeepsOrderChangesMadeDuringDelivery(t *testing.T) {
	caller := &fakeCaller{}
	w, o, st, _ := newWorker(t, caller)
	ctx := context.Background()

	draft, err := st.CreateOrder(ctx, domain.Order{ID: "ord-10", OrderStatus: domain.OrderStatusInProgress})
	require.NoError(t, err)
	_, err = o.Enqueue(ctx, domain.OutboxKindOrderUpsert, draft.ID, draft)
	require.NoError(t, err)

	// the table pays and the order completes while the draft is in flight
	caller.onCall = func(string) {
		completed := *draft
		completed.OrderStatus = domain.OrderStatusCompleted
		completed.OrderNum = "K7Q2"
		completed.Payment.Total = 23
		completed.Payment.Breakup = []domain.PaymentBreakup{{Provider: domain.ProviderCash, Total: 23}}
		_, err := st.UpdateOrder(ctx, completed)
		require.NoError(t, err)
	}

	n, err := w.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := st.GetOrder(ctx, "ord-10")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCompleted, got.OrderStatus)
	assert.Equal(t, "K7Q2", got.OrderNum)
	assert.Len(t, got.Payment.Breakup, 1)
	assert.NotNil(t, got.SyncedAt)
}

func TestFailedEntryHoldsBackLaterEntriesForSameOrder(t *testing.T) {
	caller := &fakeCaller{errs: []error{&remote.StatusError{StatusCode: http.StatusServiceUnavailable}}}
	w, o, _, _ := newWorker(t, caller)
	ctx := context.Background()

	_, err := o.Enqueue(ctx, domain.OutboxKindOrderUpsert, "ord-11", map[string]string{"id": "ord-11", "order_status": "in-progress"})
	require.NoError(t, err)
	_, err = o.Enqueue(ctx, domain.OutboxKindOrderUpsert, "ord-12", map[string]string{"id": "ord-12", "order_status": "completed"})
	require.NoError(t, err)
	_, err = o.Enqueue(ctx, domain.OutboxKindOrderUpsert, "ord-11", map[string]string{"id": "ord-11", "order_status": "completed"})
	require.NoError(t, err)

	n, err := w.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "other orders keep flowing")
	require.Len(t, caller.calls, 2)
	assert.Contains(t, caller.calls[0].body, `"in-progress"`)
	assert.Contains(t, caller.calls[1].body, `"ord-12"`)

	n, err = w.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, caller.calls, 2, "completed snapshot waits behind the rescheduled draft")

	w.now = func() time.Time { return time.Now().UTC().Add(2 * time.Second) }
	n, err = w.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var statuses []string
	for _, c := range caller.calls {
		var body map[string]string
		require.NoError(t, json.Unmarshal([]byte(c.body), &body))
		if body["id"] == "ord-11" {
			statuses = append(statuses, body["order_status"])
		}
	}
	assert.Equal(t, []string{"in-progress", "in-progress", "completed"}, statuses)
}
