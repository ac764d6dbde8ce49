package migration

import (
	"context"
	"errors"

	json "github.com/goccy/go-json"

	"cloutdash/internal/docstore"
	"cloutdash/internal/models"
	"cloutdash/internal/providers"
	"cloutdash/internal/shards"
)

// LocalSource is the device-local cache left by an anonymous session.
type LocalSource interface {
	Load(ctx context.Context) (*models.Snapshot, error)
	Clear(ctx context.Context) error
}

type EngineInterface interface {
	EnsureCurrentShape(ctx context.Context, userID string) (Outcome, error)
}

// Engine converts legacy shapes into shards. Converted data is always written before the
// source is deleted, so an interrupted migration leaves the source intact for a retry.
type Engine struct {
	store  docstore.Store
	local  LocalSource
	logger providers.Logger
	opts   shards.Options
}

type source struct {
	snapshot *models.Snapshot
	paths    []string
}

func NewEngine(store docstore.Store, local LocalSource, logger providers.Logger, opts shards.Options) *Engine {
	return &Engine{
		store:  store,
		local:  local,
		logger: logger,
		opts:   opts,
	}
}

// Probe inspects every storage shape for userID.
func (m *Engine) Probe(ctx context.Context, userID string) (Probe, error) {
	var p Probe

	mk, err := m.readMarker(ctx, userID)
	if err != nil {
		return p, err
	}
	p.Pending = mk

	buckets, err := m.store.List(ctx, shards.DatesPath(userID))
	if err != nil {
		return p, models.NewStorageError("list", shards.DatesPath(userID), err)
	}
	p.HasBuckets = len(buckets) > 0

	flat, err := m.store.List(ctx, shards.LegacyFlatPath(userID))
	if err != nil {
		return p, models.NewStorageError("list", shards.LegacyFlatPath(userID), err)
	}
	p.LegacyFlatDocs = len(flat)

	_, err = m.store.Get(ctx, shards.LegacyBlobPath(userID))
	switch {
	case err == nil:
		p.HasLegacyBlob = true
	case !errors.Is(err, docstore.ErrNotFound):
		return p, models.NewStorageError("get", shards.LegacyBlobPath(userID), err)
	}

	if m.local != nil {
		snap, err := m.local.Load(ctx)
		if err != nil {
			return p, models.NewStorageError("load", "local cache", err)
		}
		p.HasLocal = !snap.Empty()
	}
	return p, nil
}

func (m *Engine) EnsureCurrentShape(ctx context.Context, userID string) (Outcome, error) {
	p, err := m.Probe(ctx, userID)
	if err != nil {
		return Outcome{}, err
	}
	state := Detect(p)
	out := Outcome{From: state}

	switch state {
	case StateEmpty:
		return out, nil
	case StateCurrent:
		if p.LegacyFlatDocs > 0 || p.HasLegacyBlob {
			m.logger.Warnf(providers.TypeSync, "User %s has shards and a leftover legacy source, leaving it untouched", userID)
		}
		return out, nil
	}

	m.logger.Infof(providers.TypeSync, "Migrating user %s from %s", userID, state)
	src, err := m.readSource(ctx, userID, state)
	if err != nil {
		return out, err
	}

	sharded := shards.NewShardedStore(m.store, userID, m.opts)
	if p.Pending == nil || p.Pending.Phase == phaseConverting {
		if p.Pending != nil {
			if src.snapshot.Empty() {
				m.logger.Warnf(providers.TypeSync, "Source %s for user %s is gone, keeping existing shards", state, userID)
				return out, m.clearMarker(ctx, userID)
			}
			m.logger.Warnf(providers.TypeSync, "Resuming interrupted migration for user %s, discarding partial shards", userID)
			if err := sharded.ClearBuckets(ctx, nil); err != nil {
				return out, err
			}
		}

		if err := m.writeMarker(ctx, userID, marker{From: state, Phase: phaseConverting}); err != nil {
			return out, err
		}
		events, skipped := models.FilterTimestamped(src.snapshot.Receipts)
		out.SkippedMissingDate = skipped
		if err := sharded.PersistNew(ctx, events, nil); err != nil {
			return out, err
		}
		md, err := sharded.LoadMetadata(ctx)
		if err != nil {
			return out, err
		}
		md.Merge(src.snapshot.Metadata())
		if err := sharded.SaveMetadata(ctx, md); err != nil {
			return out, err
		}
		if err := m.writeMarker(ctx, userID, marker{From: state, Phase: phaseConverted}); err != nil {
			return out, err
		}
		out.EventCount = len(events)
		if skipped > 0 {
			m.logger.Warnf(providers.TypeSync, "Skipped %d events without timestamp while migrating user %s", skipped, userID)
		}
	}

	if err := m.deleteSource(ctx, state, src); err != nil {
		return out, err
	}
	if err := m.clearMarker(ctx, userID); err != nil {
		return out, err
	}
	out.Migrated = true
	m.logger.Infof(providers.TypeSync, "Migrated %d events for user %s from %s", out.EventCount, userID, state)
	return out, nil
}

func (m *Engine) readSource(ctx context.Context, userID string, state State) (*source, error) {
	switch state {
	case StateLegacyFlat:
		return m.readLegacyFlat(ctx, userID)
	case StateLegacyBlob:
		return m.readLegacyBlob(ctx, userID)
	case StateLocalOnly:
		if m.local == nil {
			return &source{snapshot: &models.Snapshot{}}, nil
		}
		snap, err := m.local.Load(ctx)
		if err != nil {
			return nil, models.NewStorageError("load", "local cache", err)
		}
		if snap == nil {
			snap = &models.Snapshot{}
		}
		return &source{snapshot: snap}, nil
	default:
		return &source{snapshot: &models.Snapshot{}}, nil
	}
}

func (m *Engine) readLegacyFlat(ctx context.Context, userID string) (*source, error) {
	coll := shards.LegacyFlatPath(userID)
	ids, err := m.store.List(ctx, coll)
	if err != nil {
		return nil, models.NewStorageError("list", coll, err)
	}
	src := &source{snapshot: &models.Snapshot{Receipts: make([]*models.Event, 0, len(ids))}}
	for _, id := range ids {
		path := docstore.Join(coll, id)
		data, err := m.store.Get(ctx, path)
		if errors.Is(err, docstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, models.NewStorageError("get", path, err)
		}
		var e models.Event
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, models.NewStorageError("decode", path, err)
		}
		src.snapshot.Receipts = append(src.snapshot.Receipts, &e)
		src.paths = append(src.paths, path)
	}
	return src, nil
}

func (m *Engine) readLegacyBlob(ctx context.Context, userID string) (*source, error) {
	path := shards.LegacyBlobPath(userID)
	data, err := m.store.Get(ctx, path)
	if errors.Is(err, docstore.ErrNotFound) {
		return &source{snapshot: &models.Snapshot{}}, nil
	}
	if err != nil {
		return nil, models.NewStorageError("get", path, err)
	}
	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, models.NewStorageError("decode", path, err)
	}
	return &source{snapshot: &snap, paths: []string{path}}, nil
}

func (m *Engine) deleteSource(ctx context.Context, state State, src *source) error {
	if state == StateLocalOnly {
		if m.local == nil {
			return nil
		}
		if err := m.local.Clear(ctx); err != nil {
			return models.NewStorageError("clear", "local cache", err)
		}
		return nil
	}
	return shards.DeletePaths(ctx, m.store, src.paths, m.opts)
}

func (m *Engine) readMarker(ctx context.Context, userID string) (*marker, error) {
	path := shards.MigrationMarkerPath(userID)
	data, err := m.store.Get(ctx, path)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, models.NewStorageError("get", path, err)
	}
	var mk marker
	if err := json.Unmarshal(data, &mk); err != nil {
		return nil, models.NewStorageError("decode", path, err)
	}
	return &mk, nil
}

func (m *Engine) writeMarker(ctx context.Context, userID string, mk marker) error {
	path := shards.MigrationMarkerPath(userID)
	if err := m.store.Set(ctx, path, mk, false); err != nil {
		return models.NewStorageError("set", path, err)
	}
	return nil
}

func (m *Engine) clearMarker(ctx context.Context, userID string) error {
	path := shards.MigrationMarkerPath(userID)
	b := m.store.Batch()
	b.Delete(path)
	if err := b.Commit(ctx); err != nil {
		return models.NewStorageError("delete", path, err)
	}
	return nil
}
