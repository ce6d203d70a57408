package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"dinein/backend/internal/domain"
	"dinein/backend/internal/store"
)

var _ store.Repository = (*Store)(nil)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("DINEIN_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set DINEIN_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestAdjustStockRederivesPackCounts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	productID := fmt.Sprintf("prd-it-%d", stamp)
	base := fmt.Sprintf("IT-%d", stamp)
	box := base + "-6"

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	})

	_, err := s.SaveProduct(ctx, domain.Product{
		ID: productID, Name: "Soda IT", Category: "drinks", Active: true,
		Variants: []domain.Variant{
			{SKU: base, Kind: domain.VariantItem, Price: 2, Stock: domain.StockConfig{Tracking: true, Count: 60}},
			{SKU: box, Kind: domain.VariantBox, ParentSKU: base, NoOfUnits: 6, Price: 11, Stock: domain.StockConfig{Tracking: true, Count: 10}},
		},
	})
	if err != nil {
		t.Fatalf("save product: %v", err)
	}

	prev, next, err := s.AdjustStock(ctx, productID, base, -13)
	if err != nil {
		t.Fatalf("adjust stock: %v", err)
	}
	if prev != 60 || next != 47 {
		t.Fatalf("expected 60 -> 47, got %d -> %d", prev, next)
	}

	got, err := s.GetProductBySKU(ctx, box)
	if err != nil {
		t.Fatalf("get by sku: %v", err)
	}
	if got.Variants[1].Stock.Count != 7 {
		t.Fatalf("expected box count 7, got %d", got.Variants[1].Stock.Count)
	}

	_, err = s.SaveProduct(ctx, domain.Product{
		Name:     "Clash",
		Variants: []domain.Variant{{SKU: base, Kind: domain.VariantItem}},
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict on shared sku, got %v", err)
	}
}

func TestOrderNumberIsUnique(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	num := fmt.Sprintf("%06d", stamp%1000000)
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM orders WHERE order_num = $1`, num)
	})

	first, err := s.CreateOrder(ctx, domain.Order{OrderNum: num, TableID: "T-IT", OrderStatus: domain.OrderStatusCompleted})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if _, err := s.CreateOrder(ctx, domain.Order{OrderNum: num, TableID: "T-IT"}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	got, err := s.GetOrderByNum(ctx, num)
	if err != nil {
		t.Fatalf("get by num: %v", err)
	}
	if got.ID != first.ID {
		t.Fatalf("expected %s, got %s", first.ID, got.ID)
	}
}

func TestParallelRefundsStayWithinTotal(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	order, err := s.CreateOrder(ctx, domain.Order{TableID: "T-IT", OrderStatus: domain.OrderStatusCompleted, Payment: domain.Payment{Total: 23}})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, order.ID)
	})

	errs := make(chan error, 10)
	for i := range 10 {
		go func() {
			_, err := s.AppendRefund(ctx, order.ID, domain.Refund{ID: fmt.Sprintf("rfd-%d", i), Amount: 5, CreatedAt: time.Now().UTC()})
			errs <- err
		}()
	}
	accepted := 0
	for range 10 {
		err := <-errs
		switch {
		case err == nil:
			accepted++
		case !errors.Is(err, store.ErrConflict):
			t.Fatalf("unexpected refund error: %v", err)
		}
	}
	if accepted != 4 {
		t.Fatalf("expected 4 refunds, got %d", accepted)
	}

	at := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	if err := s.MarkOrderSynced(ctx, order.ID, at); err != nil {
		t.Fatalf("mark synced: %v", err)
	}
	got, err := s.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.SyncedAt == nil || !got.SyncedAt.Equal(at) || len(got.Refunds) != 4 {
		t.Fatalf("unexpected order after sync stamp: synced=%v refunds=%d", got.SyncedAt, len(got.Refunds))
	}
}
