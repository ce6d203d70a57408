package cache

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"dinein/backend/internal/domain"
	"dinein/backend/internal/store"
)

// CartStore persists one cart snapshot per table.
type CartStore interface {
	GetCartSnapshot(ctx context.Context, tableID string) (*domain.CartSnapshot, error)
	SaveCartSnapshot(ctx context.Context, snapshot domain.CartSnapshot) error
	DeleteCartSnapshot(ctx context.Context, tableID string) error
}

type NoopCartStore struct{}

func (NoopCartStore) GetCartSnapshot(_ context.Context, _ string) (*domain.CartSnapshot, error) {
	return nil, store.ErrNotFound
}

func (NoopCartStore) SaveCartSnapshot(_ context.Context, _ domain.CartSnapshot) error {
	return nil
}

func (NoopCartStore) DeleteCartSnapshot(_ context.Context, _ string) error {
	return nil
}

// WriteThrough reads from the cache first and keeps the durable store as the
// source of truth. Cache failures are logged and never fail the caller.
type WriteThrough struct {
	cache   CartStore
	durable CartStore
	log     logrus.FieldLogger
}

func NewWriteThrough(cache CartStore, durable CartStore, log logrus.FieldLogger) *WriteThrough {
	if cache == nil {
		cache = NoopCartStore{}
	}
	return &WriteThrough{cache: cache, durable: durable, log: log}
}

func (w *WriteThrough) GetCartSnapshot(ctx context.Context, tableID string) (*domain.CartSnapshot, error) {
	snapshot, err := w.cache.GetCartSnapshot(ctx, tableID)
	if err == nil {
		return snapshot, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		w.log.WithError(err).WithField("table_id", tableID).Warn("cart cache read failed")
	}

	snapshot, err = w.durable.GetCartSnapshot(ctx, tableID)
	if err != nil {
		return nil, err
	}
	if err := w.cache.SaveCartSnapshot(ctx, *snapshot); err != nil {
		w.log.WithError(err).WithField("table_id", tableID).Warn("cart cache fill failed")
	}
	return snapshot, nil
}

func (w *WriteThrough) SaveCartSnapshot(ctx context.Context, snapshot domain.CartSnapshot) error {
	if err := w.durable.SaveCartSnapshot(ctx, snapshot); err != nil {
		return err
	}
	if err := w.cache.SaveCartSnapshot(ctx, snapshot); err != nil {
		w.log.WithError(err).WithField("table_id", snapshot.TableID).Warn("cart cache write failed")
	}
	return nil
}

func (w *WriteThrough) DeleteCartSnapshot(ctx context.Context, tableID string) error {
	if err := w.durable.DeleteCartSnapshot(ctx, tableID); err != nil {
		return err
	}
	if err := w.cache.DeleteCartSnapshot(ctx, tableID); err != nil {
		w.log.WithError(err).WithField("table_id", tableID).Warn("cart cache delete failed")
	}
	return nil
}
