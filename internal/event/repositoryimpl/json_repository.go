package repositoryimpl

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/opshub/bridge/internal/event"
	"github.com/opshub/bridge/pkg/cerr"
	"github.com/opshub/bridge/pkg/storage"
)

const eventsPrefix = "events"

// JSONRepository keeps one JSON document per event under events/, named
// by the event's ULID so filename order is emission order.
type JSONRepository struct {
	store storage.Storage
}

func NewJSONRepository(store storage.Storage) *JSONRepository {
	return &JSONRepository{store: store}
}

func (r *JSONRepository) docPath(id string) string {
	return fmt.Sprintf("%s/%s.json", eventsPrefix, id)
}

func idFromPath(p string) string {
	base := p
	if i := strings.LastIndex(p, "/"); i >= 0 {
		base = p[i+1:]
	}
	return strings.TrimSuffix(base, ".json")
}

func (r *JSONRepository) Append(ctx context.Context, ev *event.Event) error {
	exists, err := r.store.Exists(ctx, r.docPath(ev.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("event", err)
	}
	if exists {
		return cerr.NewError(cerr.AlreadyExists, "event already exists", nil)
	}
	data, err := json.MarshalIndent(ev, "", "  ")
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal event: %w", err))
	}
	if err := r.store.Write(ctx, r.docPath(ev.ID), data); err != nil {
		return cerr.WrapStorageWriteError("event", err)
	}
	return nil
}

// List returns events newest first, optionally filtered to one task. The
// returned total counts every match before paging.
func (r *JSONRepository) List(ctx context.Context, taskID string, limit, offset int) ([]*event.Event, int, error) {
	paths, err := r.store.List(ctx, eventsPrefix)
	if err != nil {
		return nil, 0, cerr.WrapStorageReadError("events", err)
	}

	// ULIDs sort chronologically, so reverse lexical order is newest first.
	sort.Sort(sort.Reverse(sort.StringSlice(paths)))

	var matched []*event.Event
	for _, p := range paths {
		ev, err := r.readDoc(ctx, p)
		if err != nil {
			continue
		}
		if taskID != "" && ev.TaskID != taskID {
			continue
		}
		matched = append(matched, ev)
	}

	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	page := matched[offset:]
	if limit > 0 && len(page) > limit {
		page = page[:limit]
	}
	return page, total, nil
}

func (r *JSONRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	paths, err := r.store.List(ctx, eventsPrefix)
	if err != nil {
		return 0, cerr.WrapStorageReadError("events", err)
	}

	purged := 0
	for _, p := range paths {
		// The filename is the ULID, which embeds the creation time.
		// No record read is needed to decide whether to purge.
		id, err := ulid.Parse(idFromPath(p))
		if err != nil {
			continue
		}
		if ulid.Time(id.Time()).After(cutoff) {
			continue
		}
		if err := r.store.Delete(ctx, p); err != nil {
			return purged, cerr.WrapStorageDeleteError("event", err)
		}
		purged++
	}
	return purged, nil
}

func (r *JSONRepository) readDoc(ctx context.Context, p string) (*event.Event, error) {
	data, err := r.store.Read(ctx, p)
	if err != nil {
		return nil, cerr.WrapStorageReadError("event", err)
	}
	var ev event.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal event: %w", err))
	}
	return &ev, nil
}
