package repositoryimpl

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/opshub/bridge/internal/pushsubscription"
	"github.com/opshub/bridge/pkg/cerr"
	"github.com/opshub/bridge/pkg/storage"
)

const prefix = "push_subscriptions"

// JSONRepository keeps one JSON document per subscription under
// push_subscriptions/, keyed by subscription id.
type JSONRepository struct {
	store storage.Storage
}

func NewJSONRepository(store storage.Storage) *JSONRepository {
	return &JSONRepository{store: store}
}

func (r *JSONRepository) docPath(id string) string {
	return fmt.Sprintf("%s/%s.json", prefix, id)
}

func (r *JSONRepository) Create(ctx context.Context, sub *pushsubscription.Subscription) error {
	exists, err := r.store.Exists(ctx, r.docPath(sub.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("push_subscription", err)
	}
	if exists {
		return cerr.NewError(cerr.AlreadyExists, "push subscription already exists", nil)
	}
	data, err := json.MarshalIndent(sub, "", "  ")
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal push subscription: %w", err))
	}
	if err := r.store.Write(ctx, r.docPath(sub.ID), data); err != nil {
		return cerr.WrapStorageWriteError("push_subscription", err)
	}
	return nil
}

// List returns every stored subscription, oldest first. Documents that
// fail to read or decode are skipped.
func (r *JSONRepository) List(ctx context.Context) ([]*pushsubscription.Subscription, error) {
	paths, err := r.store.List(ctx, prefix)
	if err != nil {
		return nil, cerr.WrapStorageReadError("push_subscriptions", err)
	}
	sort.Strings(paths)

	subs := make([]*pushsubscription.Subscription, 0, len(paths))
	for _, p := range paths {
		sub, err := r.readDoc(ctx, p)
		if err != nil {
			continue
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func (r *JSONRepository) Delete(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, r.docPath(id)); err != nil {
		return cerr.WrapStorageDeleteError("push_subscription", err)
	}
	return nil
}

func (r *JSONRepository) FindByEndpoint(ctx context.Context, endpoint string) (*pushsubscription.Subscription, error) {
	subs, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, sub := range subs {
		if sub.Endpoint == endpoint {
			return sub, nil
		}
	}
	return nil, cerr.NewError(cerr.NotFound, "push subscription not found", nil)
}

func (r *JSONRepository) DeleteByEndpoint(ctx context.Context, endpoint string) error {
	sub, err := r.FindByEndpoint(ctx, endpoint)
	if err != nil {
		return err
	}
	return r.Delete(ctx, sub.ID)
}

func (r *JSONRepository) readDoc(ctx context.Context, p string) (*pushsubscription.Subscription, error) {
	data, err := r.store.Read(ctx, p)
	if err != nil {
		return nil, err
	}
	var sub pushsubscription.Subscription
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}
