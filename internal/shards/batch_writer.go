package shards

import (
	"context"
	"time"

	"cloutdash/internal/docstore"
)

// batchWriter accumulates writes and commits whenever the batch reaches limit, pausing
// between consecutive commits to stay under the store's mutation rate.
type batchWriter struct {
	store   docstore.Store
	limit   int
	pause   time.Duration
	batch   docstore.Batch
	commits int
}

func newBatchWriter(store docstore.Store, limit int, pause time.Duration) *batchWriter {
	if ceiling := store.MaxBatchOps(); limit <= 0 || limit > ceiling {
		limit = ceiling
	}
	return &batchWriter{
		store: store,
		limit: limit,
		pause: pause,
		batch: store.Batch(),
	}
}

func (w *batchWriter) set(ctx context.Context, path string, value interface{}, merge bool) error {
	if w.batch.Len() >= w.limit {
		if err := w.flush(ctx); err != nil {
			return err
		}
	}
	return w.batch.Set(path, value, merge)
}

func (w *batchWriter) delete(ctx context.Context, path string) error {
	if w.batch.Len() >= w.limit {
		if err := w.flush(ctx); err != nil {
			return err
		}
	}
	w.batch.Delete(path)
	return nil
}

func (w *batchWriter) flush(ctx context.Context) error {
	if w.batch.Len() == 0 {
		return nil
	}
	if w.commits > 0 && w.pause > 0 {
		if err := sleep(ctx, w.pause); err != nil {
			return err
		}
	}
	if err := w.batch.Commit(ctx); err != nil {
		return err
	}
	w.commits++
	w.batch = w.store.Batch()
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
