package internal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"cloutdash/internal/controllers"
	"cloutdash/internal/identity"
	"cloutdash/internal/providers"
	"cloutdash/internal/structures"
	"cloutdash/internal/syncer"
	"cloutdash/internal/testutil"
)

// --- minimal mocks for routes test ---

type routeTestIdentity struct{}

func (m *routeTestIdentity) SignUp(_ context.Context, _, _, _ string) (*identity.Identity, error) {
	return nil, nil
}
func (m *routeTestIdentity) LogIn(_ context.Context, _, _ string) (*identity.Identity, error) {
	return nil, nil
}
func (m *routeTestIdentity) LogOut(_ context.Context) error        { return nil }
func (m *routeTestIdentity) Current() *identity.Identity           { return nil }
func (m *routeTestIdentity) Subscribe(fn identity.Listener) func() { fn(nil); return func() {} }

type routeTestScheduler struct{}

func (m *routeTestScheduler) Init() {}
func (m *routeTestScheduler) Stop() {}
func (m *routeTestScheduler) Restore(_ context.Context) (*syncer.PasteResult, error) {
	return &syncer.PasteResult{}, nil
}
func (m *routeTestScheduler) Persist() error { return nil }

// routeTestOrchestrator only serves progress; any other call panics on the nil interface.
type routeTestOrchestrator struct {
	syncer.OrchestratorInterface
	snapshots []syncer.ProgressSnapshot
}

func (m *routeTestOrchestrator) SubscribeProgress(fn syncer.ProgressObserver) func() {
	go func() {
		for _, snap := range m.snapshots {
			fn(snap)
			time.Sleep(10 * time.Millisecond)
		}
	}()
	return func() {}
}

func buildRoutes(conf *structures.Config) []structures.Route {
	return buildRoutesWith(conf, nil)
}

func buildRoutesWith(conf *structures.Config, orchestrator syncer.OrchestratorInterface) []structures.Route {
	logger := &testutil.MockLogger{}
	ac := controllers.NewApiController(logger, orchestrator)
	auth := controllers.NewAuthController(logger, &routeTestIdentity{})
	bc := controllers.NewBackupController(&routeTestScheduler{})
	return InitRoutes(ac, auth, bc, conf).GetRoutes()
}

func urlsOf(routes []structures.Route) []string {
	urls := make([]string, len(routes))
	for i, r := range routes {
		urls[i] = r.Url
	}
	return urls
}

func TestInitRoutes_RegistersDashboardRoutes(t *testing.T) {
	urls := urlsOf(buildRoutes(&structures.Config{}))

	require.Len(t, urls, 12)
	for _, u := range []string{
		"/auth/signup", "/auth/login", "/auth/logout", "/auth/me",
		"/paste", "/events", "/stats", "/bounties/assign",
		"/refresh", "/clear", "/clear/progress", "/clear/ws",
	} {
		assert.Contains(t, urls, u)
	}
	assert.NotContains(t, urls, "/backup")
}

func TestInitRoutes_BackupRoutesWhenEnabled(t *testing.T) {
	conf := &structures.Config{Backup: structures.BackupConfig{Enabled: true}}
	urls := urlsOf(buildRoutes(conf))

	assert.Contains(t, urls, "/backup")
	assert.Contains(t, urls, "/backup/restore")
}

func TestInitRoutes_MethodEnforcement(t *testing.T) {
	mux := http.NewServeMux()
	for _, r := range buildRoutes(&structures.Config{}) {
		mux.Handle(r.Url, r.Handler)
	}

	// GET /stats with POST should fail
	req := httptest.NewRequest(http.MethodPost, "/stats", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	// POST /paste with GET should fail
	req = httptest.NewRequest(http.MethodGet, "/paste", nil)
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	// GET /auth/me reaches the controller
	req = httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestInitRoutes_ProgressStreamThroughMetricsMiddleware(t *testing.T) {
	orchestrator := &routeTestOrchestrator{snapshots: []syncer.ProgressSnapshot{
		{Op: "clear", Done: 1, Total: 2, Running: true},
		{Op: "clear", Done: 2, Total: 2, Running: false},
	}}
	mux := http.NewServeMux()
	for _, r := range buildRoutesWith(&structures.Config{}, orchestrator) {
		mux.Handle(r.Url, r.Handler)
	}
	metrics := testutil.NewMockMetrics()
	srv := httptest.NewServer(providers.MetricsMiddleware(metrics, mux))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/clear/ws", nil)
	require.NoError(t, err)
	defer conn.CloseNow()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	var last syncer.ProgressSnapshot
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
			break
		}
		require.NoError(t, json.Unmarshal(data, &last))
	}
	assert.Equal(t, 2, last.Done)
	assert.False(t, last.Running)
	assert.Eventually(t, func() bool { return metrics.Snapshot().Requests == 1 }, time.Second, 10*time.Millisecond)
}
