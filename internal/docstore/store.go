// Package docstore is the remote document store consumed by the sync core: hierarchical
// collection/document paths, get, set with optional merge, enumeration of a collection and
// batched atomic commits with a per-batch operation ceiling.
package docstore

import (
	"context"
	"errors"
	"strings"

	json "github.com/goccy/go-json"

	"cloutdash/internal/models"
)

// ErrNotFound is returned by Get when the document doesn't exist.
var ErrNotFound = models.ErrNotFound

// ErrBatchTooLarge is returned by Commit when a batch exceeds MaxBatchOps.
var ErrBatchTooLarge = errors.New("batch exceeds maximum operations per commit")

// DefaultMaxBatchOps mirrors the hard per-commit ceiling of hosted document stores.
const DefaultMaxBatchOps = 500

type Store interface {
	// Get returns the raw JSON document at path.
	Get(ctx context.Context, path string) ([]byte, error)

	// Set writes value at path; with merge, top-level fields are overlaid onto the existing document.
	Set(ctx context.Context, path string, value interface{}, merge bool) error

	// List returns the ids of documents directly inside collection, sorted.
	List(ctx context.Context, collection string) ([]string, error)

	// Batch starts a new atomic batch.
	Batch() Batch

	// MaxBatchOps is the hard ceiling of operations per commit.
	MaxBatchOps() int

	Close() error
}

type Batch interface {
	Set(path string, value interface{}, merge bool) error
	Delete(path string)
	Len() int
	Commit(ctx context.Context) error
}

// Join builds a document or collection path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// Parent returns the collection path a document lives in.
func Parent(path string) string {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return ""
	}
	return path[:i]
}

// Base returns the document id.
func Base(path string) string {
	return path[strings.LastIndex(path, "/")+1:]
}

func validPath(path string) bool {
	if path == "" || strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") {
		return false
	}
	return !strings.Contains(path, "//")
}

type operation struct {
	path   string
	data   []byte
	merge  bool
	delete bool
}

func encode(value interface{}) ([]byte, error) {
	if raw, ok := value.([]byte); ok {
		return raw, nil
	}
	return json.Marshal(value)
}

// mergeDocuments overlays the top-level fields of patch onto base.
func mergeDocuments(base, patch []byte) ([]byte, error) {
	if len(base) == 0 {
		return patch, nil
	}
	var dst map[string]json.RawMessage
	if err := json.Unmarshal(base, &dst); err != nil {
		return nil, err
	}
	var src map[string]json.RawMessage
	if err := json.Unmarshal(patch, &src); err != nil {
		return nil, err
	}
	if dst == nil {
		dst = make(map[string]json.RawMessage, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return json.Marshal(dst)
}
