package indexer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"peerescrow/core/types"
	"peerescrow/native/escrow"
)

func setupStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := Open(DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	store, err := NewStore(db, append([]Option{WithBuffer(16)}, opts...)...)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func orderEvent(eventType, seller, id, status string) *types.Event {
	return &types.Event{
		Type: eventType,
		Attributes: map[string]string{
			"orderId": id,
			"seller":  seller,
			"buyer":   "peer1buyer",
			"asset":   "native",
			"amount":  "1000000",
			"fee":     "10000",
			"status":  status,
		},
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open("mysql", "dsn"); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}

func TestRecordProjectsOrder(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	steps := []*types.Event{
		orderEvent(escrow.EventTypeEscrowCreated, "peer1seller", "order-1", "open"),
		orderEvent(escrow.EventTypeEscrowFunded, "peer1seller", "order-1", "open"),
		orderEvent(escrow.EventTypeEscrowDisputeOpened, "peer1seller", "order-1", "open"),
	}
	resolved := orderEvent(escrow.EventTypeEscrowDisputeResolved, "peer1seller", "order-1", "resolved")
	resolved.Attributes["winner"] = "peer1buyer"
	steps = append(steps, resolved)

	for _, evt := range steps {
		if err := store.Record(ctx, evt); err != nil {
			t.Fatalf("record %s: %v", evt.Type, err)
		}
	}

	history, err := store.OrderHistory(ctx, "peer1seller", "order-1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != len(steps) {
		t.Fatalf("expected %d events, got %d", len(steps), len(history))
	}
	for i, rec := range history {
		if rec.Type != steps[i].Type {
			t.Fatalf("event %d: expected %s, got %s", i, steps[i].Type, rec.Type)
		}
	}
	attrs, err := history[0].AttributeMap()
	if err != nil {
		t.Fatalf("decode attributes: %v", err)
	}
	if attrs["amount"] != "1000000" {
		t.Fatalf("unexpected amount attribute %q", attrs["amount"])
	}

	orders, err := store.OrdersByParty(ctx, "peer1buyer", 10)
	if err != nil {
		t.Fatalf("orders by party: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected one order projection, got %d", len(orders))
	}
	got := orders[0]
	if got.Status != "resolved" || !got.Disputed || got.Winner != "peer1buyer" {
		t.Fatalf("unexpected projection %+v", got)
	}
	if got.LastEvent != escrow.EventTypeEscrowDisputeResolved {
		t.Fatalf("unexpected last event %s", got.LastEvent)
	}
}

func TestListEventsFiltersAndPages(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("order-%d", i)
		if err := store.Record(ctx, orderEvent(escrow.EventTypeEscrowCreated, "peer1seller", id, "open")); err != nil {
			t.Fatalf("record: %v", err)
		}
		if err := store.Record(ctx, orderEvent(escrow.EventTypeEscrowReleased, "peer1seller", id, "released")); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	released, err := store.ListEvents(ctx, EventFilter{Type: escrow.EventTypeEscrowReleased})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(released) != 5 {
		t.Fatalf("expected 5 released events, got %d", len(released))
	}

	page, err := store.ListEvents(ctx, EventFilter{Limit: 3})
	if err != nil {
		t.Fatalf("list page: %v", err)
	}
	if len(page) != 3 {
		t.Fatalf("expected page of 3, got %d", len(page))
	}
	next, err := store.ListEvents(ctx, EventFilter{After: page[len(page)-1].Sequence, Limit: 100})
	if err != nil {
		t.Fatalf("list next: %v", err)
	}
	if len(next) != 7 {
		t.Fatalf("expected 7 remaining events, got %d", len(next))
	}
}

func TestEmitWritesInBackground(t *testing.T) {
	store := setupStore(t)
	store.Emit(escrowEvent{orderEvent(escrow.EventTypeEscrowCreated, "peer1seller", "bg", "open")})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		history, err := store.OrderHistory(ctx, "peer1seller", "bg")
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		if len(history) == 1 {
			return
		}
		select {
		case <-ctx.Done():
			t.Fatalf("event was not indexed")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestEmitAfterCloseIsIgnored(t *testing.T) {
	store := setupStore(t)
	store.Close()
	store.Emit(escrowEvent{orderEvent(escrow.EventTypeEscrowCreated, "peer1seller", "late", "open")})
	if store.Dropped() != 0 {
		t.Fatalf("closed store should not count drops")
	}
}

type escrowEvent struct{ evt *types.Event }

func (e escrowEvent) EventType() string { return e.evt.Type }

func (e escrowEvent) Event() *types.Event { return e.evt }

func TestRecordUsesStoreClock(t *testing.T) {
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store := setupStore(t, WithClock(func() time.Time { return fixed }))
	ctx := context.Background()
	if err := store.Record(ctx, orderEvent(escrow.EventTypeEscrowCreated, "peer1seller", "clocked", "open")); err != nil {
		t.Fatalf("record: %v", err)
	}
	history, err := store.OrderHistory(ctx, "peer1seller", "clocked")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || !history[0].CreatedAt.Equal(fixed) {
		t.Fatalf("expected event stamped at %s, got %+v", fixed, history)
	}
}
