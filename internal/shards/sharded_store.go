// Package shards maps a user's event log onto the document store: one bucket document per
// day key holding an item count, one item document per event addressed by its position
// inside the bucket.
package shards

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"cloutdash/internal/docstore"
	"cloutdash/internal/models"
)

const (
	DefaultBatchSize    = 450
	DefaultDeleteFanOut = 10
)

// Observer receives (bucketsDeleted, totalBuckets). It is called from concurrent goroutines.
type Observer func(done, total int)

type Options struct {
	BatchSize    int
	CommitPause  time.Duration
	DeleteFanOut int
}

type ShardStoreInterface interface {
	PersistNew(ctx context.Context, newEvents, existingBeforeAdd []*models.Event) error
	LoadAll(ctx context.Context) ([]*models.Event, error)
	ClearAll(ctx context.Context, observer Observer) error
	ClearBuckets(ctx context.Context, observer Observer) error
	HasBuckets(ctx context.Context) (bool, error)
	LoadMetadata(ctx context.Context) (*models.Metadata, error)
	SaveMetadata(ctx context.Context, md *models.Metadata) error
}

type ShardedStore struct {
	store  docstore.Store
	userID string
	opts   Options
}

type bucketDoc struct {
	Date      string `json:"date"`
	ItemCount int    `json:"itemCount"`
}

func NewShardedStore(store docstore.Store, userID string, opts Options) *ShardedStore {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.DeleteFanOut <= 0 {
		opts.DeleteFanOut = DefaultDeleteFanOut
	}
	return &ShardedStore{store: store, userID: userID, opts: opts}
}

func (s *ShardedStore) writer() *batchWriter {
	return newBatchWriter(s.store, s.opts.BatchSize, s.opts.CommitPause)
}

// PersistNew appends newEvents after the events already stored in each day bucket.
// existingBeforeAdd must be the log as it was before newEvents were added to it.
// Events without a timestamp are not persisted.
func (s *ShardedStore) PersistNew(ctx context.Context, newEvents, existingBeforeAdd []*models.Event) error {
	existing := make(map[string]int)
	for _, e := range existingBeforeAdd {
		if e == nil || !e.HasTimestamp() {
			continue
		}
		existing[models.BucketOf(e)]++
	}

	order := make([]string, 0)
	groups := make(map[string][]*models.Event)
	dates := make(map[string]string)
	for _, e := range newEvents {
		if e == nil || !e.HasTimestamp() {
			continue
		}
		id := models.BucketOf(e)
		if _, ok := groups[id]; !ok {
			order = append(order, id)
			dates[id] = models.NormalizeDateKey(e.Timestamp)
		}
		groups[id] = append(groups[id], e)
	}

	w := s.writer()
	for _, id := range order {
		group := groups[id]
		stored, err := s.storedCount(ctx, id)
		if err != nil {
			return err
		}
		// A failed earlier persist leaves positions taken that memory does not know about.
		base := max(existing[id], stored)
		doc := bucketDoc{Date: dates[id], ItemCount: base + len(group)}
		if err := w.set(ctx, BucketPath(s.userID, id), doc, true); err != nil {
			return models.NewStorageError("persist", BucketPath(s.userID, id), err)
		}
		for i, e := range group {
			path := ItemPath(s.userID, id, base+i)
			if err := w.set(ctx, path, e, false); err != nil {
				return models.NewStorageError("persist", path, err)
			}
		}
	}
	if err := w.flush(ctx); err != nil {
		return models.NewStorageError("persist", DatesPath(s.userID), err)
	}
	return nil
}

// storedCount returns the itemCount of a bucket document, zero when the bucket does not exist.
func (s *ShardedStore) storedCount(ctx context.Context, shardID string) (int, error) {
	path := BucketPath(s.userID, shardID)
	data, err := s.store.Get(ctx, path)
	if errors.Is(err, docstore.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, models.NewStorageError("persist", path, err)
	}
	var doc bucketDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0, models.NewStorageError("decode", path, err)
	}
	return doc.ItemCount, nil
}

// LoadAll fetches every bucket in parallel and flattens the result. Order across buckets is
// the store's enumeration order, not ingestion order.
func (s *ShardedStore) LoadAll(ctx context.Context) ([]*models.Event, error) {
	ids, err := s.store.List(ctx, DatesPath(s.userID))
	if err != nil {
		return nil, models.NewStorageError("list", DatesPath(s.userID), err)
	}

	results := make([][]*models.Event, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		g.Go(func() error {
			events, err := s.loadBucket(gctx, id)
			if err != nil {
				return err
			}
			results[i] = events
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	all := make([]*models.Event, 0)
	for _, events := range results {
		all = append(all, events...)
	}
	return all, nil
}

func (s *ShardedStore) loadBucket(ctx context.Context, shardID string) ([]*models.Event, error) {
	itemsPath := ItemsPath(s.userID, shardID)
	ids, err := s.store.List(ctx, itemsPath)
	if err != nil {
		return nil, models.NewStorageError("list", itemsPath, err)
	}
	sortPositions(ids)

	events := make([]*models.Event, 0, len(ids))
	for _, id := range ids {
		path := docstore.Join(itemsPath, id)
		data, err := s.store.Get(ctx, path)
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
		events = append(events, &e)
	}
	return events, nil
}

// ClearAll deletes every bucket, then resets the metadata document.
func (s *ShardedStore) ClearAll(ctx context.Context, observer Observer) error {
	if err := s.ClearBuckets(ctx, observer); err != nil {
		return err
	}
	return s.SaveMetadata(ctx, models.NewMetadata())
}

// ClearBuckets deletes every bucket, DeleteFanOut buckets at a time. Items of a bucket are
// never removed after the bucket document.
func (s *ShardedStore) ClearBuckets(ctx context.Context, observer Observer) error {
	if observer == nil {
		observer = func(int, int) {}
	}
	ids, err := s.store.List(ctx, DatesPath(s.userID))
	if err != nil {
		return models.NewStorageError("list", DatesPath(s.userID), err)
	}

	total := len(ids)
	done := atomic.NewInt64(0)
	observer(0, total)

	for start := 0; start < total; start += s.opts.DeleteFanOut {
		end := min(start+s.opts.DeleteFanOut, total)
		g, gctx := errgroup.WithContext(ctx)
		for _, id := range ids[start:end] {
			g.Go(func() error {
				if err := s.deleteBucket(gctx, id); err != nil {
					return err
				}
				observer(int(done.Inc()), total)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

func (s *ShardedStore) deleteBucket(ctx context.Context, shardID string) error {
	itemsPath := ItemsPath(s.userID, shardID)
	ids, err := s.store.List(ctx, itemsPath)
	if err != nil {
		return models.NewStorageError("list", itemsPath, err)
	}

	// The bucket document shares the last commit with the tail of its items, so a bucket that
	// fits in one batch disappears atomically.
	w := s.writer()
	for _, id := range ids {
		if err := w.delete(ctx, docstore.Join(itemsPath, id)); err != nil {
			return models.NewStorageError("delete", itemsPath, err)
		}
	}

	bucket := BucketPath(s.userID, shardID)
	if err := w.delete(ctx, bucket); err != nil {
		return models.NewStorageError("delete", bucket, err)
	}
	if err := w.flush(ctx); err != nil {
		return models.NewStorageError("delete", bucket, err)
	}
	return nil
}

func (s *ShardedStore) HasBuckets(ctx context.Context) (bool, error) {
	ids, err := s.store.List(ctx, DatesPath(s.userID))
	if err != nil {
		return false, models.NewStorageError("list", DatesPath(s.userID), err)
	}
	return len(ids) > 0, nil
}

func (s *ShardedStore) LoadMetadata(ctx context.Context) (*models.Metadata, error) {
	path := MetadataPath(s.userID)
	data, err := s.store.Get(ctx, path)
	if errors.Is(err, docstore.ErrNotFound) {
		return models.NewMetadata(), nil
	}
	if err != nil {
		return nil, models.NewStorageError("get", path, err)
	}
	md := &models.Metadata{}
	if err := json.Unmarshal(data, md); err != nil {
		return nil, models.NewStorageError("decode", path, err)
	}
	return md.Normalize(), nil
}

func (s *ShardedStore) SaveMetadata(ctx context.Context, md *models.Metadata) error {
	path := MetadataPath(s.userID)
	if md == nil {
		md = models.NewMetadata()
	}
	if err := s.store.Set(ctx, path, md.Normalize(), false); err != nil {
		return models.NewStorageError("set", path, err)
	}
	return nil
}

// sortPositions orders item ids numerically; non-numeric ids sort last, lexically.
func sortPositions(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		switch {
		case errA == nil && errB == nil:
			return a < b
		case errA == nil:
			return true
		case errB == nil:
			return false
		default:
			return ids[i] < ids[j]
		}
	})
}

// DeletePaths removes documents in capped, paced batches.
func DeletePaths(ctx context.Context, store docstore.Store, paths []string, opts Options) error {
	if len(paths) == 0 {
		return nil
	}
	w := newBatchWriter(store, opts.BatchSize, opts.CommitPause)
	for _, p := range paths {
		if err := w.delete(ctx, p); err != nil {
			return models.NewStorageError("delete", p, err)
		}
	}
	if err := w.flush(ctx); err != nil {
		return models.NewStorageError("delete", docstore.Parent(paths[len(paths)-1]), err)
	}
	return nil
}
