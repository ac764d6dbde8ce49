package syncer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"cloutdash/internal/models"
	"cloutdash/internal/providers"
	"cloutdash/internal/structures"
)

const (
	retryInterval   = 2 * time.Second
	defaultSettle   = 500 * time.Millisecond
	processedSuffix = ".done"
	failedSuffix    = ".failed"
)

// Paster ingests a pasted document.
type Paster interface {
	Paste(ctx context.Context, text []byte) (*PasteResult, error)
}

type ImporterInterface interface {
	Init() error
	Stop()
}

// Importer watches a directory and pastes every *.json file dropped into it once no write has
// touched it for the settle period. Handled files are renamed with a .done suffix, unparseable
// ones with .failed. A file refused with ErrBusy is left in place and the inbox is rescanned
// shortly after.
type Importer struct {
	conf    *structures.ImporterConfig
	paster  Paster
	logger  providers.Logger
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	retry   bool
	pending map[string]time.Time
	stop    chan struct{}
	stopped chan struct{}
}

func NewImporter(conf *structures.Config, paster Paster, logger providers.Logger) ImporterInterface {
	if !conf.Importer.Enabled {
		return &noopImporter{}
	}
	return &Importer{
		conf:   &conf.Importer,
		paster: paster,
		logger: logger,
	}
}

func (im *Importer) Init() error {
	im.mu.Lock()
	defer im.mu.Unlock()
	if im.watcher != nil {
		return nil
	}
	if err := os.MkdirAll(im.conf.Dir, 0o755); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(im.conf.Dir); err != nil {
		_ = watcher.Close()
		return err
	}
	im.watcher = watcher
	im.stop = make(chan struct{})
	im.stopped = make(chan struct{})

	im.logger.Infof(providers.TypeApp, "Import inbox watching %s", im.conf.Dir)
	im.Scan(context.Background())
	go im.loop()
	return nil
}

func (im *Importer) settle() time.Duration {
	if im.conf.Settle > 0 {
		return im.conf.Settle
	}
	return defaultSettle
}

func (im *Importer) loop() {
	defer close(im.stopped)
	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()
	settled := time.NewTicker(max(im.settle()/2, 10*time.Millisecond))
	defer settled.Stop()
	for {
		select {
		case <-im.stop:
			return
		case <-ticker.C:
			if im.retry {
				im.retry = false
				im.Scan(context.Background())
			}
		case now := <-settled.C:
			for _, path := range im.due(now) {
				im.handle(context.Background(), path)
			}
		case ev, ok := <-im.watcher.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				im.touch(ev.Name, time.Now())
			}
		case err, ok := <-im.watcher.Errors:
			if !ok {
				return
			}
			im.logger.Errorf(providers.TypeApp, "Import inbox watcher error: %s", err)
		}
	}
}

// touch records a write to path; the file is not read until it has been quiet for the settle period.
func (im *Importer) touch(path string, at time.Time) {
	if !strings.EqualFold(filepath.Ext(path), ".json") {
		return
	}
	if im.pending == nil {
		im.pending = make(map[string]time.Time)
	}
	im.pending[path] = at
}

// due removes and returns the paths whose last write is at least the settle period old.
func (im *Importer) due(now time.Time) []string {
	paths := make([]string, 0)
	for path, last := range im.pending {
		if now.Sub(last) >= im.settle() {
			paths = append(paths, path)
			delete(im.pending, path)
		}
	}
	sort.Strings(paths)
	return paths
}

// Scan pastes every pending file already in the inbox.
func (im *Importer) Scan(ctx context.Context) {
	entries, err := os.ReadDir(im.conf.Dir)
	if err != nil {
		im.logger.Errorf(providers.TypeApp, "Unable to read import inbox %s: %s", im.conf.Dir, err)
		return
	}
	for _, entry := range entries {
		path := filepath.Join(im.conf.Dir, entry.Name())
		if _, writing := im.pending[path]; entry.IsDir() || writing {
			continue
		}
		im.handle(ctx, path)
	}
}

func (im *Importer) handle(ctx context.Context, path string) {
	if !strings.EqualFold(filepath.Ext(path), ".json") {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			im.logger.Warnf(providers.TypeApp, "Unable to read %s: %s", path, err)
		}
		return
	}
	if len(data) == 0 {
		// Writers may create the file before filling it; wait for the write event.
		return
	}

	res, err := im.paster.Paste(ctx, data)
	switch {
	case err == nil:
		im.logger.Infof(providers.TypeApp, "Imported %s: %d added, %d duplicates, %d without date",
			filepath.Base(path), res.Added, res.Duplicates, res.SkippedMissingDate)
		im.rename(path, processedSuffix)
	case errors.Is(err, models.ErrBusy):
		im.logger.Debugf(providers.TypeApp, "Import of %s postponed: %s", path, err)
		im.retry = true
	case models.IsParseError(err):
		im.logger.Warnf(providers.TypeApp, "Rejected %s: %s", path, err)
		im.rename(path, failedSuffix)
	default:
		im.logger.Errorf(providers.TypeApp, "Import of %s failed: %s", path, err)
	}
}

func (im *Importer) rename(path, suffix string) {
	if err := os.Rename(path, path+suffix); err != nil {
		im.logger.Errorf(providers.TypeApp, "Unable to rename %s: %s", path, err)
	}
}

func (im *Importer) Stop() {
	im.mu.Lock()
	defer im.mu.Unlock()
	if im.watcher == nil {
		return
	}
	close(im.stop)
	_ = im.watcher.Close()
	<-im.stopped
	im.watcher = nil
}

type noopImporter struct{}

func (n *noopImporter) Init() error { return nil }
func (n *noopImporter) Stop()       {}
