package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloutdash/internal/docstore"
	"cloutdash/internal/identity"
	"cloutdash/internal/migration"
	"cloutdash/internal/models"
	"cloutdash/internal/services"
	"cloutdash/internal/shards"
	"cloutdash/internal/structures"
	"cloutdash/internal/testutil"
)

type fakeIdentity struct {
	mu        sync.Mutex
	current   *identity.Identity
	listeners []identity.Listener
}

func (f *fakeIdentity) SignUp(_ context.Context, email, _, username string) (*identity.Identity, error) {
	id := &identity.Identity{ID: "uid-" + username, Email: email, Username: username}
	f.set(id)
	return id, nil
}

func (f *fakeIdentity) LogIn(_ context.Context, email, _ string) (*identity.Identity, error) {
	id := &identity.Identity{ID: "uid-" + email, Email: email}
	f.set(id)
	return id, nil
}

func (f *fakeIdentity) LogOut(_ context.Context) error {
	f.set(nil)
	return nil
}

func (f *fakeIdentity) Current() *identity.Identity {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeIdentity) Subscribe(fn identity.Listener) func() {
	f.mu.Lock()
	f.listeners = append(f.listeners, fn)
	current := f.current
	f.mu.Unlock()
	fn(current)
	return func() {}
}

func (f *fakeIdentity) set(id *identity.Identity) {
	f.mu.Lock()
	f.current = id
	listeners := append([]identity.Listener(nil), f.listeners...)
	f.mu.Unlock()
	for _, l := range listeners {
		l(id)
	}
}

type harness struct {
	o       *Orchestrator
	idp     *fakeIdentity
	store   *docstore.MemoryStore
	local   *testutil.MockLocalCache
	metrics *testutil.MockMetrics
	logger  *testutil.MockLogger
}

func newHarness(t *testing.T, configure ...func(*structures.Config)) *harness {
	t.Helper()
	conf := &structures.Config{
		Store: structures.StoreConfig{BatchSize: 450},
		Sync:  structures.SyncConfig{DeleteFanOut: 2, QueueSize: 16},
	}
	for _, c := range configure {
		c(conf)
	}
	h := &harness{
		idp:     &fakeIdentity{},
		store:   docstore.NewMemoryStore(),
		local:   &testutil.MockLocalCache{},
		metrics: testutil.NewMockMetrics(),
		logger:  &testutil.MockLogger{},
	}
	opts := shards.Options{BatchSize: conf.Store.BatchSize, DeleteFanOut: conf.Sync.DeleteFanOut}
	engine := migration.NewEngine(h.store, h.local, h.logger, opts)
	stats := services.NewStatisticService(testutil.NewMockCache(), h.logger)
	h.o = NewOrchestrator(conf, h.logger, h.metrics, h.idp, h.store, h.local, engine, stats, NewWorker(h.logger, conf.Sync.QueueSize))
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	h.o.Start()
	t.Cleanup(h.o.Stop)
	h.o.WaitIdle()
}

func (h *harness) signIn(t *testing.T, name string) {
	t.Helper()
	_, err := h.idp.SignUp(context.Background(), name+"@example.com", "secret", name)
	require.NoError(t, err)
	h.o.WaitIdle()
}

func receiptsJSON(events ...string) []byte {
	return []byte("[" + strings.Join(events, ",") + "]")
}

func receipt(user, action string, amount int, ts string) string {
	return fmt.Sprintf(`{"user":%q,"action":%q,"concept":"Cats","amount":%d,"timestamp":%q}`, user, action, amount, ts)
}

func TestOrchestrator_AnonymousPasteSavesLocally(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	res, err := h.o.Paste(context.Background(), receiptsJSON(
		receipt("bob", "like", 1, "Mar 10 1:15 PM"),
		receipt("amy", "tip", 5, "Mar 10 1:20 PM"),
	))
	require.NoError(t, err)
	h.o.WaitIdle()

	assert.Equal(t, 2, res.Added)
	assert.True(t, res.Legacy)
	assert.False(t, h.o.Status().Authenticated)
	require.NotNil(t, h.local.Stored())
	assert.Len(t, h.local.Stored().Receipts, 2)
	assert.Equal(t, 0, h.store.Len())
}

func TestOrchestrator_AnonymousStartLoadsLocalCache(t *testing.T) {
	h := newHarness(t)
	h.local.Snap = &models.Snapshot{Receipts: []*models.Event{
		{User: "bob", Action: models.ActionLike, Amount: 1, Timestamp: "Mar 10 1:15 PM"},
		{User: "bob", Action: models.ActionLike, Amount: 1},
	}}
	h.start(t)

	assert.Len(t, h.o.Events(), 1)
	assert.False(t, h.o.Status().Hydrating)
}

func TestOrchestrator_ClearOnAnonymousStart(t *testing.T) {
	h := newHarness(t, func(c *structures.Config) { c.LocalCache.ClearOnAnonymousStart = true })
	h.local.Snap = &models.Snapshot{Receipts: []*models.Event{
		{User: "bob", Action: models.ActionLike, Amount: 1, Timestamp: "Mar 10 1:15 PM"},
	}}
	h.start(t)

	assert.Empty(t, h.o.Events())
	assert.Nil(t, h.local.Stored())
	assert.Equal(t, 1, h.local.Clears)
}

func TestOrchestrator_SignInMigratesLocalData(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	_, err := h.o.Paste(context.Background(), receiptsJSON(receipt("bob", "like", 1, "Mar 10 1:15 PM")))
	require.NoError(t, err)
	h.o.WaitIdle()

	h.signIn(t, "alice")

	status := h.o.Status()
	assert.True(t, status.Authenticated)
	assert.False(t, status.Busy)
	assert.Equal(t, 1, status.Events)
	assert.Equal(t, 1, h.metrics.Snapshot().Migrations[string(migration.StateLocalOnly)])
	assert.Nil(t, h.local.Stored())
	assert.NotEmpty(t, h.store.Paths(shards.DatesPath("uid-alice")))
}

func TestOrchestrator_PastePersistsToShards(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.signIn(t, "alice")

	paste := receiptsJSON(
		receipt("bob", "like", 1, "Mar 10 1:15 PM"),
		receipt("bob", "like", 1, "Mar 10 1:15 PM"),
		receipt("amy", "tip", 5, "Mar 11 9:00 AM"),
		`{"user":"zed","action":"like","amount":1}`,
	)
	res, err := h.o.Paste(context.Background(), paste)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Added)
	assert.Equal(t, 1, res.SkippedMissingDate)
	h.o.WaitIdle()

	events, err := shards.NewShardedStore(h.store, "uid-alice", shards.Options{BatchSize: 450}).LoadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, events, 3)

	again, err := h.o.Paste(context.Background(), paste)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Added)
	assert.Equal(t, 3, again.Duplicates)
	assert.Equal(t, 3, again.Total)
}

func TestOrchestrator_PasteBountiesPersistMetadata(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.signIn(t, "alice")

	res, err := h.o.Paste(context.Background(), []byte(`{"receipts":[],"bounties":[{"amount":-40,"timestamp":"Mar 10 9:00 AM"}]}`))
	require.NoError(t, err)
	assert.Equal(t, 1, res.BountiesAdded)
	h.o.WaitIdle()

	require.NoError(t, h.o.AssignBounty(context.Background(), "Cats", 0))
	h.o.WaitIdle()

	md, err := shards.NewShardedStore(h.store, "uid-alice", shards.Options{BatchSize: 450}).LoadMetadata(context.Background())
	require.NoError(t, err)
	assert.Empty(t, md.UntaggedBounties)
	require.Len(t, md.Bounties["Cats"], 1)
	assert.Equal(t, int64(40), md.Bounties["Cats"][0].Amount)

	var verr *models.ValidationError
	assert.ErrorAs(t, h.o.AssignBounty(context.Background(), "Cats", 0), &verr)
}

func TestOrchestrator_PasteRejectsMalformedInput(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	_, err := h.o.Paste(context.Background(), []byte(`{"receipts":`))
	assert.True(t, models.IsParseError(err))
	assert.Empty(t, h.o.Events())
}

func TestOrchestrator_MutationsRejectedWhileBusy(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.signIn(t, "alice")

	h.o.busy.Store(true)
	defer h.o.busy.Store(false)

	_, err := h.o.Paste(context.Background(), receiptsJSON(receipt("bob", "like", 1, "Mar 10 1:15 PM")))
	assert.ErrorIs(t, err, models.ErrBusy)
	assert.ErrorIs(t, h.o.Clear(context.Background()), models.ErrBusy)
	assert.ErrorIs(t, h.o.Refresh(context.Background()), models.ErrBusy)
	assert.ErrorIs(t, h.o.AssignBounty(context.Background(), "Cats", 0), models.ErrBusy)
}

func TestOrchestrator_ClearReportsProgress(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.signIn(t, "alice")

	var lines []string
	for day := 1; day <= 5; day++ {
		lines = append(lines, receipt("bob", "like", 1, fmt.Sprintf("Mar %d 1:15 PM", day)))
	}
	_, err := h.o.Paste(context.Background(), receiptsJSON(lines...))
	require.NoError(t, err)
	h.o.WaitIdle()

	rec := &recorder{}
	unsubscribe := h.o.SubscribeProgress(rec.observe)
	defer unsubscribe()

	require.NoError(t, h.o.Clear(context.Background()))
	h.o.WaitIdle()

	final := h.o.Progress()
	assert.False(t, final.Running)
	assert.Equal(t, 5, final.Done)
	assert.Equal(t, 5, final.Total)
	assert.Empty(t, final.Error)
	assert.Empty(t, h.o.Events())
	assert.Empty(t, h.store.Paths(shards.DatesPath("uid-alice")))
	assert.False(t, h.o.Status().Busy)

	snaps := rec.all()
	assert.False(t, snaps[len(snaps)-1].Running)
	assert.Equal(t, 5, h.metrics.Snapshot().ClearTotal)
}

func TestOrchestrator_ClearFailureKeepsMemory(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.signIn(t, "alice")

	_, err := h.o.Paste(context.Background(), receiptsJSON(receipt("bob", "like", 1, "Mar 10 1:15 PM")))
	require.NoError(t, err)
	h.o.WaitIdle()

	h.store.SetFault(func(op, _ string) error {
		if op == docstore.OpDelete {
			return errors.New("quota exceeded")
		}
		return nil
	})
	require.NoError(t, h.o.Clear(context.Background()))
	h.o.WaitIdle()

	progress := h.o.Progress()
	assert.False(t, progress.Running)
	assert.Contains(t, progress.Error, "quota exceeded")
	assert.Len(t, h.o.Events(), 1)
	assert.False(t, h.o.Status().Busy)
	assert.NotEmpty(t, h.o.Status().LastError)
	assert.Equal(t, 1, h.metrics.Snapshot().StorageErrors["clear"])
}

func TestOrchestrator_FailedPersistKeepsOptimisticState(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.signIn(t, "alice")

	h.store.SetFault(func(op, _ string) error {
		if op == docstore.OpSet {
			return errors.New("unavailable")
		}
		return nil
	})
	res, err := h.o.Paste(context.Background(), receiptsJSON(receipt("bob", "like", 1, "Mar 10 1:15 PM")))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Added)
	h.o.WaitIdle()

	assert.Len(t, h.o.Events(), 1)
	assert.NotEmpty(t, h.o.Status().LastError)
	assert.Equal(t, 1, h.metrics.Snapshot().StorageErrors["persist"])
}

func TestOrchestrator_IdentitySwitchIsolatesSessions(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.signIn(t, "alice")

	_, err := h.o.Paste(context.Background(), receiptsJSON(receipt("bob", "like", 1, "Mar 10 1:15 PM")))
	require.NoError(t, err)
	h.o.WaitIdle()

	h.signIn(t, "carol")
	assert.Empty(t, h.o.Events())
	assert.Equal(t, "uid-carol", h.o.Status().User.ID)

	h.signIn(t, "alice")
	assert.Len(t, h.o.Events(), 1)
}

func TestOrchestrator_RefreshRequiresIdentity(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	assert.ErrorIs(t, h.o.Refresh(context.Background()), models.ErrUnauthenticated)

	h.signIn(t, "alice")
	require.NoError(t, shards.NewShardedStore(h.store, "uid-alice", shards.Options{BatchSize: 450}).PersistNew(
		context.Background(),
		[]*models.Event{{User: "bob", Action: models.ActionLike, Amount: 1, Timestamp: "Mar 10 1:15 PM"}},
		nil,
	))
	require.NoError(t, h.o.Refresh(context.Background()))
	h.o.WaitIdle()

	assert.Len(t, h.o.Events(), 1)
}

func TestOrchestrator_StatsFollowTheLog(t *testing.T) {
	h := newHarness(t)
	h.o.now = func() time.Time { return time.Date(2025, time.March, 10, 18, 0, 0, 0, time.Local) }
	h.start(t)

	assert.Equal(t, 0, h.o.Stats(models.FilterAll).EventCount)

	_, err := h.o.Paste(context.Background(), receiptsJSON(
		receipt("bob", "like", 1, "Mar 10 1:15 PM"),
		receipt("amy", "tip", 5, "Mar 1 1:20 PM"),
	))
	require.NoError(t, err)

	assert.Equal(t, 2, h.o.Stats(models.FilterAll).EventCount)
	assert.Equal(t, 1, h.o.Stats(models.FilterLast24h).EventCount)
}

func TestOrchestrator_SnapshotRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.signIn(t, "alice")

	_, err := h.o.Paste(context.Background(), receiptsJSON(receipt("bob", "like", 1, "Mar 10 1:15 PM")))
	require.NoError(t, err)
	h.o.WaitIdle()

	owner, snap := h.o.Snapshot()
	assert.Equal(t, "uid-alice", owner)

	h.signIn(t, "carol")
	res, err := h.o.ImportSnapshot(context.Background(), snap)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Added)
	h.o.WaitIdle()

	events, err := shards.NewShardedStore(h.store, "uid-carol", shards.Options{BatchSize: 450}).LoadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestOrchestrator_Last24hViewTracksTheClock(t *testing.T) {
	h := newHarness(t)
	now := time.Date(2025, time.March, 10, 18, 0, 0, 0, time.Local)
	var clock sync.Mutex
	h.o.now = func() time.Time {
		clock.Lock()
		defer clock.Unlock()
		return now
	}
	h.start(t)

	_, err := h.o.Paste(context.Background(), receiptsJSON(receipt("bob", "like", 1, "Mar 10 1:15 PM")))
	require.NoError(t, err)
	assert.Equal(t, 1, h.o.Stats(models.FilterLast24h).EventCount)

	clock.Lock()
	now = now.Add(20 * time.Hour)
	clock.Unlock()

	// no mutation in between, the event just aged out
	assert.Equal(t, 0, h.o.Stats(models.FilterLast24h).EventCount)
	assert.Equal(t, 1, h.o.Stats(models.FilterAll).EventCount)
}

func TestOrchestrator_IngestRefusedOnceBusy(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.signIn(t, "alice")

	// a clear admitted after the paste passed its own busy check
	h.o.busy.Store(true)
	events := []*models.Event{{User: "bob", Action: models.ActionLike, Amount: 1, Timestamp: "Mar 10 1:15 PM"}}
	_, err := h.o.ingest(events, nil, nil, false)
	h.o.busy.Store(false)

	assert.ErrorIs(t, err, models.ErrBusy)
	h.o.WaitIdle()
	assert.Empty(t, h.o.Events())
	assert.Empty(t, h.store.Paths(shards.DatesPath("uid-alice")))
}

func TestOrchestrator_PasteAndClearStayConsistent(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.signIn(t, "alice")

	for i := 0; i < 20; i++ {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = h.o.Paste(context.Background(), receiptsJSON(receipt("bob", "like", i+1, fmt.Sprintf("Mar %d 1:15 PM", i%28+1))))
		}()
		go func() {
			defer wg.Done()
			_ = h.o.Clear(context.Background())
		}()
		wg.Wait()
		h.o.WaitIdle()
	}

	inMemory := len(h.o.Events())
	require.NoError(t, h.o.Refresh(context.Background()))
	h.o.WaitIdle()
	assert.Len(t, h.o.Events(), inMemory)
}
