// Package syncer keeps the in-memory event log and the stores in step: it hydrates the log
// when the identity changes, persists pastes in the background and runs bulk deletes with
// progress reporting.
package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"

	"cloutdash/internal/docstore"
	"cloutdash/internal/identity"
	"cloutdash/internal/localcache"
	"cloutdash/internal/migration"
	"cloutdash/internal/models"
	"cloutdash/internal/providers"
	"cloutdash/internal/services"
	"cloutdash/internal/shards"
	"cloutdash/internal/structures"
)

const anonymousKey = "anonymous"

type PasteResult struct {
	Added              int  `json:"added"`
	Duplicates         int  `json:"duplicates"`
	SkippedMissingDate int  `json:"skippedMissingDate"`
	BountiesAdded      int  `json:"bountiesAdded"`
	Total              int  `json:"total"`
	Legacy             bool `json:"legacyShape"`
}

type Status struct {
	Authenticated bool               `json:"authenticated"`
	User          *identity.Identity `json:"user,omitempty"`
	Events        int                `json:"events"`
	Busy          bool               `json:"busy"`
	Hydrating     bool               `json:"hydrating"`
	LastError     string             `json:"lastError,omitempty"`
}

type OrchestratorInterface interface {
	Start()
	Stop()
	Paste(ctx context.Context, text []byte) (*PasteResult, error)
	ImportSnapshot(ctx context.Context, snap *models.Snapshot) (*PasteResult, error)
	Snapshot() (string, *models.Snapshot)
	Clear(ctx context.Context) error
	Refresh(ctx context.Context) error
	AssignBounty(ctx context.Context, concept string, index int) error
	Stats(filter models.FilterMode) *models.Dashboard
	Events() []*models.Event
	Metadata() *models.Metadata
	Progress() ProgressSnapshot
	SubscribeProgress(fn ProgressObserver) func()
	Status() Status
	WaitIdle()
}

type session struct {
	gen       int64
	identity  *identity.Identity
	events    []*models.Event
	metadata  *models.Metadata
	revision  int64
	hydrating bool
}

func (s *session) key() string {
	if s.identity == nil {
		return anonymousKey
	}
	return s.identity.ID
}

// Orchestrator is the single writer for the current device session.
type Orchestrator struct {
	conf     *structures.Config
	logger   providers.Logger
	metrics  providers.MetricsProviderInterface
	identity identity.Provider
	store    docstore.Store
	local    localcache.Cache
	migrator migration.EngineInterface
	dedup    models.Deduplicator
	stats    services.StatisticServiceInterface
	worker   WorkerInterface
	progress *Progress

	busy        *atomic.Bool
	gen         *atomic.Int64
	started     *atomic.Bool
	now         func() time.Time
	unsubscribe func()

	// admit orders mutating calls: a job is queued in the same order its busy check passed.
	admit sync.Mutex

	mu        sync.RWMutex
	sess      *session
	lastError string
}

func NewOrchestrator(
	conf *structures.Config,
	logger providers.Logger,
	metrics providers.MetricsProviderInterface,
	idp identity.Provider,
	store docstore.Store,
	local localcache.Cache,
	migrator migration.EngineInterface,
	stats services.StatisticServiceInterface,
	worker WorkerInterface,
) *Orchestrator {
	return &Orchestrator{
		conf:     conf,
		logger:   logger,
		metrics:  metrics,
		identity: idp,
		store:    store,
		local:    local,
		migrator: migrator,
		dedup:    models.NewPositionalDeduplicator(),
		stats:    stats,
		worker:   worker,
		progress: NewProgress(conf.Sync.ProgressInterval),
		busy:     atomic.NewBool(false),
		gen:      atomic.NewInt64(0),
		started:  atomic.NewBool(false),
		now:      time.Now,
		sess:     &session{metadata: models.NewMetadata()},
	}
}

func (o *Orchestrator) shardOptions() shards.Options {
	return shards.Options{
		BatchSize:    o.conf.Store.BatchSize,
		CommitPause:  o.conf.Store.CommitPause,
		DeleteFanOut: o.conf.Sync.DeleteFanOut,
	}
}

func (o *Orchestrator) sharded(userID string) shards.ShardStoreInterface {
	return shards.NewShardedStore(o.store, userID, o.shardOptions())
}

// Start runs the worker and subscribes to identity changes.
func (o *Orchestrator) Start() {
	o.worker.Init()
	o.unsubscribe = o.identity.Subscribe(o.onIdentity)
}

func (o *Orchestrator) Stop() {
	if o.unsubscribe != nil {
		o.unsubscribe()
	}
	o.worker.Stop()
}

func (o *Orchestrator) WaitIdle() {
	o.worker.Wait()
}

func (o *Orchestrator) onIdentity(id *identity.Identity) {
	firstCall := o.started.CompareAndSwap(false, true)

	o.mu.Lock()
	if !firstCall && sameIdentity(o.sess.identity, id) {
		o.mu.Unlock()
		return
	}
	sess := &session{
		gen:       o.gen.Inc(),
		identity:  id,
		events:    make([]*models.Event, 0),
		metadata:  models.NewMetadata(),
		hydrating: true,
	}
	o.sess = sess
	o.lastError = ""
	o.mu.Unlock()
	o.metrics.SetEventsTotal(0)

	if id == nil {
		o.logger.Infof(providers.TypeSync, "Anonymous session started")
		o.enqueue("load-local", func(ctx context.Context) error {
			return o.loadLocal(ctx, sess, firstCall && o.conf.LocalCache.ClearOnAnonymousStart)
		})
		return
	}

	o.logger.Infof(providers.TypeSync, "Session started for user %s", id.ID)
	o.busy.Store(true)
	o.enqueue("hydrate", func(ctx context.Context) error {
		defer o.busy.Store(false)
		return o.hydrate(ctx, sess)
	})
}

func sameIdentity(a, b *identity.Identity) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ID == b.ID
}

func (o *Orchestrator) enqueue(name string, run func(ctx context.Context) error) {
	if err := o.worker.Enqueue(Job{Name: name, Run: run}); err != nil {
		o.logger.Errorf(providers.TypeSync, "Unable to schedule %s: %s", name, err)
	}
}

func (o *Orchestrator) loadLocal(ctx context.Context, sess *session, clear bool) error {
	defer o.finishHydration(sess)
	if o.local == nil {
		return nil
	}
	if clear {
		o.logger.Infof(providers.TypeSync, "Clearing local cache for a fresh anonymous session")
		if err := o.local.Clear(ctx); err != nil {
			o.recordError(err)
			return err
		}
		return nil
	}
	snap, err := o.local.Load(ctx)
	if err != nil {
		o.recordError(err)
		return err
	}
	events, _ := models.FilterTimestamped(snap.Receipts)
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sess != sess {
		return nil
	}
	sess.events = events
	sess.metadata = snap.Metadata()
	sess.revision++
	o.metrics.SetEventsTotal(len(events))
	return nil
}

// hydrate migrates legacy shapes for the user and loads the log and metadata from shards.
func (o *Orchestrator) hydrate(ctx context.Context, sess *session) error {
	defer o.finishHydration(sess)
	userID := sess.identity.ID
	start := time.Now()

	outcome, err := o.migrator.EnsureCurrentShape(ctx, userID)
	if err != nil {
		o.metrics.IncStorageErrors("migrate")
		o.recordError(err)
		return err
	}
	if outcome.Migrated {
		o.metrics.IncMigrations(string(outcome.From))
	}

	sharded := o.sharded(userID)
	events, err := sharded.LoadAll(ctx)
	if err != nil {
		o.metrics.IncStorageErrors("load")
		o.recordError(err)
		return err
	}
	md, err := sharded.LoadMetadata(ctx)
	if err != nil {
		o.metrics.IncStorageErrors("load")
		o.recordError(err)
		return err
	}
	o.metrics.ObservePersistenceDuration("hydrate", time.Since(start))

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sess != sess {
		return nil
	}
	sess.events = events
	sess.metadata = md
	sess.revision++
	o.metrics.SetEventsTotal(len(events))
	o.logger.Infof(providers.TypeSync, "Hydrated %d events for user %s", len(events), userID)
	return nil
}

func (o *Orchestrator) finishHydration(sess *session) {
	o.mu.Lock()
	defer o.mu.Unlock()
	sess.hydrating = false
}

func (o *Orchestrator) recordError(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastError = err.Error()
}

// Paste ingests pasted JSON. The in-memory log is updated before anything is written;
// a failed background write is logged and never rolled back.
func (o *Orchestrator) Paste(_ context.Context, text []byte) (*PasteResult, error) {
	if o.busy.Load() {
		return nil, models.ErrBusy
	}
	payload, err := models.ParsePaste(text)
	if err != nil {
		return nil, err
	}
	o.admit.Lock()
	defer o.admit.Unlock()
	return o.ingest(payload.Receipts, payload.Bounties, nil, payload.Legacy)
}

// ImportSnapshot merges a whole snapshot, such as a backup, into the session log.
func (o *Orchestrator) ImportSnapshot(_ context.Context, snap *models.Snapshot) (*PasteResult, error) {
	if o.busy.Load() {
		return nil, models.ErrBusy
	}
	if snap == nil {
		snap = &models.Snapshot{}
	}
	o.admit.Lock()
	defer o.admit.Unlock()
	return o.ingest(snap.Receipts, nil, snap.Metadata(), false)
}

// Snapshot returns a copy of the session log and metadata, and the session owner key.
func (o *Orchestrator) Snapshot() (string, *models.Snapshot) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	md := o.sess.metadata.Clone()
	return o.sess.key(), &models.Snapshot{
		Receipts:         append([]*models.Event(nil), o.sess.events...),
		Bounties:         md.Bounties,
		UntaggedBounties: md.UntaggedBounties,
	}
}

func (o *Orchestrator) ingest(receipts []*models.Event, bounties []models.Bounty, tagged *models.Metadata, legacy bool) (*PasteResult, error) {
	o.mu.Lock()
	sess := o.sess
	if sess.hydrating || o.busy.Load() {
		o.mu.Unlock()
		return nil, models.ErrBusy
	}
	before := sess.events
	rec := o.dedup.Reconcile(before, receipts)

	updated := make([]*models.Event, 0, len(before)+len(rec.ToAdd))
	updated = append(updated, before...)
	updated = append(updated, rec.ToAdd...)
	sess.events = updated

	known := countBounties(sess.metadata)
	sess.metadata.Merge(tagged)
	sess.metadata.AddUntagged(bounties)
	sess.metadata.AddUntagged(models.BountiesFromEvents(rec.ToAdd))
	bountiesAdded := countBounties(sess.metadata) - known
	if len(rec.ToAdd) > 0 || bountiesAdded > 0 {
		sess.revision++
	}
	md := sess.metadata.Clone()
	total := len(updated)
	o.mu.Unlock()

	o.metrics.AddEventsIngested(len(rec.ToAdd))
	o.metrics.SetEventsTotal(total)
	if rec.SkippedMissingDate > 0 {
		o.logger.Warnf(providers.TypePost, "Paste skipped %d events without timestamp", rec.SkippedMissingDate)
	}

	res := &PasteResult{
		Added:              len(rec.ToAdd),
		Duplicates:         rec.Duplicates,
		SkippedMissingDate: rec.SkippedMissingDate,
		BountiesAdded:      bountiesAdded,
		Total:              total,
		Legacy:             legacy,
	}
	if res.Added == 0 && bountiesAdded == 0 {
		return res, nil
	}

	if sess.identity == nil {
		o.saveLocal(sess)
		return res, nil
	}

	userID := sess.identity.ID
	toAdd := rec.ToAdd
	o.enqueue("persist", func(ctx context.Context) error {
		start := time.Now()
		sharded := o.sharded(userID)
		if len(toAdd) > 0 {
			if err := sharded.PersistNew(ctx, toAdd, before); err != nil {
				o.metrics.IncStorageErrors("persist")
				o.recordError(err)
				return err
			}
		}
		if bountiesAdded > 0 {
			if err := sharded.SaveMetadata(ctx, md); err != nil {
				o.metrics.IncStorageErrors("metadata")
				o.recordError(err)
				return err
			}
		}
		o.metrics.ObservePersistenceDuration("persist", time.Since(start))
		o.logger.Infof(providers.TypeSync, "Persisted %d new events for user %s", len(toAdd), userID)
		return nil
	})
	return res, nil
}

func countBounties(md *models.Metadata) int {
	n := len(md.UntaggedBounties)
	for _, list := range md.Bounties {
		n += len(list)
	}
	return n
}

func (o *Orchestrator) saveLocal(sess *session) {
	if o.local == nil {
		return
	}
	o.mu.RLock()
	snap := &models.Snapshot{
		Receipts:         append([]*models.Event(nil), sess.events...),
		Bounties:         sess.metadata.Clone().Bounties,
		UntaggedBounties: append([]models.Bounty(nil), sess.metadata.UntaggedBounties...),
	}
	o.mu.RUnlock()

	o.enqueue("save-local", func(ctx context.Context) error {
		if err := o.local.Save(ctx, snap); err != nil {
			o.recordError(err)
			return err
		}
		return nil
	})
}

// Clear starts a background bulk delete of the session's data. Progress is observable through
// Progress and SubscribeProgress; mutating operations fail with ErrBusy until it finishes.
func (o *Orchestrator) Clear(_ context.Context) error {
	o.admit.Lock()
	defer o.admit.Unlock()
	if !o.busy.CompareAndSwap(false, true) {
		return models.ErrBusy
	}

	o.mu.RLock()
	sess := o.sess
	o.mu.RUnlock()

	o.progress.Start("clear")
	o.enqueue("clear", func(ctx context.Context) error {
		defer o.busy.Store(false)
		start := time.Now()

		var err error
		if sess.identity == nil {
			if o.local != nil {
				err = o.local.Clear(ctx)
			}
		} else {
			err = o.sharded(sess.identity.ID).ClearAll(ctx, func(done, total int) {
				o.progress.Update(done, total)
				o.metrics.SetClearProgress(done, total)
			})
		}
		if err != nil {
			err = models.NewStorageError("clear", sess.key(), err)
			o.metrics.IncStorageErrors("clear")
			o.recordError(err)
			o.progress.Finish(err)
			return err
		}

		o.mu.Lock()
		if o.sess == sess {
			sess.events = make([]*models.Event, 0)
			sess.metadata = models.NewMetadata()
			sess.revision++
		}
		o.mu.Unlock()
		o.metrics.SetEventsTotal(0)
		o.metrics.ObservePersistenceDuration("clear", time.Since(start))
		o.progress.Finish(nil)
		o.logger.Infof(providers.TypeSync, "Cleared all data for %s", sess.key())
		return nil
	})
	return nil
}

// Refresh reloads the log from the store.
func (o *Orchestrator) Refresh(_ context.Context) error {
	o.mu.Lock()
	sess := o.sess
	if sess.identity == nil {
		o.mu.Unlock()
		return models.ErrUnauthenticated
	}
	o.mu.Unlock()

	o.admit.Lock()
	defer o.admit.Unlock()
	if !o.busy.CompareAndSwap(false, true) {
		return models.ErrBusy
	}
	o.mu.Lock()
	sess.hydrating = true
	o.mu.Unlock()

	o.enqueue("refresh", func(ctx context.Context) error {
		defer o.busy.Store(false)
		return o.hydrate(ctx, sess)
	})
	return nil
}

// AssignBounty tags the untagged bounty at index with concept.
func (o *Orchestrator) AssignBounty(_ context.Context, concept string, index int) error {
	o.admit.Lock()
	defer o.admit.Unlock()
	if o.busy.Load() {
		return models.ErrBusy
	}
	o.mu.Lock()
	sess := o.sess
	if err := sess.metadata.Assign(concept, index); err != nil {
		o.mu.Unlock()
		return err
	}
	sess.revision++
	md := sess.metadata.Clone()
	o.mu.Unlock()

	if sess.identity == nil {
		o.saveLocal(sess)
		return nil
	}
	userID := sess.identity.ID
	o.enqueue("assign-bounty", func(ctx context.Context) error {
		if err := o.sharded(userID).SaveMetadata(ctx, md); err != nil {
			o.metrics.IncStorageErrors("metadata")
			o.recordError(err)
			return err
		}
		return nil
	})
	return nil
}

func (o *Orchestrator) Stats(filter models.FilterMode) *models.Dashboard {
	o.mu.RLock()
	sess := o.sess
	in := services.Input{
		Events:           sess.events,
		Bounties:         sess.metadata.Clone().Bounties,
		UntaggedBounties: append([]models.Bounty(nil), sess.metadata.UntaggedBounties...),
		Filter:           filter,
		Now:              o.now(),
	}
	key := fmt.Sprintf("dash:%d:%s:%d:%d:%s:%s", sess.gen, sess.key(), len(sess.events), sess.revision, filter,
		in.Now.Format(time.DateOnly))
	o.mu.RUnlock()

	// events age out of the 24h window between mutations, so that view is never cached
	if filter == models.FilterLast24h {
		key = ""
	}

	return o.stats.Dashboard(key, in)
}

func (o *Orchestrator) Events() []*models.Event {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*models.Event, len(o.sess.events))
	copy(out, o.sess.events)
	return out
}

func (o *Orchestrator) Metadata() *models.Metadata {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.sess.metadata.Clone()
}

func (o *Orchestrator) Progress() ProgressSnapshot {
	return o.progress.Snapshot()
}

func (o *Orchestrator) SubscribeProgress(fn ProgressObserver) func() {
	return o.progress.Subscribe(fn)
}

func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return Status{
		Authenticated: o.sess.identity != nil,
		User:          o.sess.identity,
		Events:        len(o.sess.events),
		Busy:          o.busy.Load(),
		Hydrating:     o.sess.hydrating,
		LastError:     o.lastError,
	}
}
