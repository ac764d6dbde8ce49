package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"cloutdash/internal/models"
	"cloutdash/internal/providers"
	"cloutdash/internal/syncer"
)

// --- local mocks (scoped to controller tests) ---

type mockLogger struct{}

func (m *mockLogger) Errorf(_ providers.TypeEnum, _ string, _ ...interface{}) {}
func (m *mockLogger) Warnf(_ providers.TypeEnum, _ string, _ ...interface{})  {}
func (m *mockLogger) Debugf(_ providers.TypeEnum, _ string, _ ...interface{}) {}
func (m *mockLogger) Infof(_ providers.TypeEnum, _ string, _ ...interface{})  {}
func (m *mockLogger) Fatalf(_ providers.TypeEnum, _ string, _ ...interface{}) {}
func (m *mockLogger) Close()                                                  {}

type mockOrchestrator struct {
	pasted     []string
	pasteRes   *syncer.PasteResult
	pasteErr   error
	clearErr   error
	refreshErr error
	assignErr  error
	assigned   []string
	filters    []models.FilterMode
	events     []*models.Event
	progress   []syncer.ProgressSnapshot
	status     syncer.Status
}

func (m *mockOrchestrator) Start()    {}
func (m *mockOrchestrator) Stop()     {}
func (m *mockOrchestrator) WaitIdle() {}

func (m *mockOrchestrator) Paste(_ context.Context, text []byte) (*syncer.PasteResult, error) {
	m.pasted = append(m.pasted, string(text))
	if m.pasteErr != nil {
		return nil, m.pasteErr
	}
	return m.pasteRes, nil
}

func (m *mockOrchestrator) ImportSnapshot(_ context.Context, _ *models.Snapshot) (*syncer.PasteResult, error) {
	return &syncer.PasteResult{}, nil
}

func (m *mockOrchestrator) Snapshot() (string, *models.Snapshot) {
	return "anonymous", &models.Snapshot{}
}
func (m *mockOrchestrator) Clear(_ context.Context) error   { return m.clearErr }
func (m *mockOrchestrator) Refresh(_ context.Context) error { return m.refreshErr }

func (m *mockOrchestrator) AssignBounty(_ context.Context, concept string, _ int) error {
	if m.assignErr != nil {
		return m.assignErr
	}
	m.assigned = append(m.assigned, concept)
	return nil
}

func (m *mockOrchestrator) Stats(filter models.FilterMode) *models.Dashboard {
	m.filters = append(m.filters, filter)
	return &models.Dashboard{Filter: filter, EventCount: len(m.events)}
}

func (m *mockOrchestrator) Events() []*models.Event    { return m.events }
func (m *mockOrchestrator) Metadata() *models.Metadata { return models.NewMetadata() }
func (m *mockOrchestrator) Status() syncer.Status      { return m.status }
func (m *mockOrchestrator) Progress() syncer.ProgressSnapshot {
	if len(m.progress) == 0 {
		return syncer.ProgressSnapshot{}
	}
	return m.progress[len(m.progress)-1]
}

// SubscribeProgress replays the configured snapshots, the first synchronously.
func (m *mockOrchestrator) SubscribeProgress(fn syncer.ProgressObserver) func() {
	if len(m.progress) == 0 {
		return func() {}
	}
	fn(m.progress[0])
	rest := m.progress[1:]
	go func() {
		for _, snap := range rest {
			time.Sleep(10 * time.Millisecond)
			fn(snap)
		}
	}()
	return func() {}
}

// --- helpers ---

func newTestController(o *mockOrchestrator) *ApiController {
	return NewApiController(&mockLogger{}, o)
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

// --- Paste tests ---

func TestPaste_Created(t *testing.T) {
	o := &mockOrchestrator{pasteRes: &syncer.PasteResult{Added: 2, Total: 2}}
	ac := newTestController(o)

	body := `[{"user":"bob","action":"like","amount":1,"timestamp":"Mar 10 1:15 PM"}]`
	req := httptest.NewRequest(http.MethodPost, "/paste", strings.NewReader(body))
	rr := httptest.NewRecorder()
	ac.Paste(rr, req)

	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	require.Len(t, o.pasted, 1)
	assert.Equal(t, body, o.pasted[0])

	var res syncer.PasteResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.Equal(t, 2, res.Added)
}

func TestPaste_NothingNewIsOK(t *testing.T) {
	o := &mockOrchestrator{pasteRes: &syncer.PasteResult{Duplicates: 3, Total: 3}}
	ac := newTestController(o)

	req := httptest.NewRequest(http.MethodPost, "/paste", strings.NewReader(`[]`))
	rr := httptest.NewRecorder()
	ac.Paste(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestPaste_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"parse", &models.ParseError{Reason: "malformed JSON"}, http.StatusBadRequest},
		{"busy", models.ErrBusy, http.StatusConflict},
		{"storage", models.NewStorageError("set", "users/u", errors.New("down")), http.StatusBadGateway},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ac := newTestController(&mockOrchestrator{pasteErr: tt.err})
			rr := httptest.NewRecorder()
			ac.Paste(rr, httptest.NewRequest(http.MethodPost, "/paste", strings.NewReader(`{}`)))

			assert.Equal(t, tt.code, rr.Code)
			assert.NotEmpty(t, decodeError(t, rr).Error)
		})
	}
}

func TestPaste_InternalErrorIsNotLeaked(t *testing.T) {
	ac := newTestController(&mockOrchestrator{pasteErr: errors.New("secret detail")})
	rr := httptest.NewRecorder()
	ac.Paste(rr, httptest.NewRequest(http.MethodPost, "/paste", strings.NewReader(`[]`)))

	assert.Equal(t, "Internal Server Error", decodeError(t, rr).Error)
}

func TestPaste_OversizedBody(t *testing.T) {
	o := &mockOrchestrator{pasteRes: &syncer.PasteResult{}}
	ac := newTestController(o)

	big := strings.Repeat("a", maxRequestBodySize+1)
	rr := httptest.NewRecorder()
	ac.Paste(rr, httptest.NewRequest(http.MethodPost, "/paste", strings.NewReader(big)))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Empty(t, o.pasted)
}

// --- read endpoints ---

func TestGetEvents(t *testing.T) {
	o := &mockOrchestrator{events: []*models.Event{{User: "bob", Action: models.ActionLike, Amount: 1}}}
	ac := newTestController(o)

	rr := httptest.NewRecorder()
	ac.GetEvents(rr, httptest.NewRequest(http.MethodGet, "/events", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	var events []map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, "bob", events[0]["user"])
}

func TestGetStats_Filter(t *testing.T) {
	o := &mockOrchestrator{}
	ac := newTestController(o)

	rr := httptest.NewRecorder()
	ac.GetStats(rr, httptest.NewRequest(http.MethodGet, "/stats?filter=24h", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	ac.GetStats(rr, httptest.NewRequest(http.MethodGet, "/stats", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	assert.Equal(t, []models.FilterMode{models.FilterLast24h, models.FilterAll}, o.filters)
}

func TestGetStats_UnknownFilter(t *testing.T) {
	o := &mockOrchestrator{}
	ac := newTestController(o)

	rr := httptest.NewRecorder()
	ac.GetStats(rr, httptest.NewRequest(http.MethodGet, "/stats?filter=week", nil))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "filter", decodeError(t, rr).Field)
	assert.Empty(t, o.filters)
}

// --- AssignBounty ---

func TestAssignBounty(t *testing.T) {
	o := &mockOrchestrator{}
	ac := newTestController(o)

	rr := httptest.NewRecorder()
	ac.AssignBounty(rr, httptest.NewRequest(http.MethodPost, "/bounties/assign", strings.NewReader(`{"concept":"Cats","index":0}`)))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"Cats"}, o.assigned)
}

func TestAssignBounty_MissingIndex(t *testing.T) {
	o := &mockOrchestrator{}
	ac := newTestController(o)

	rr := httptest.NewRecorder()
	ac.AssignBounty(rr, httptest.NewRequest(http.MethodPost, "/bounties/assign", strings.NewReader(`{"concept":"Cats"}`)))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "index", decodeError(t, rr).Field)
	assert.Empty(t, o.assigned)
}

func TestAssignBounty_InvalidJSON(t *testing.T) {
	ac := newTestController(&mockOrchestrator{})

	rr := httptest.NewRecorder()
	ac.AssignBounty(rr, httptest.NewRequest(http.MethodPost, "/bounties/assign", strings.NewReader(`{`)))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAssignBounty_OutOfRange(t *testing.T) {
	o := &mockOrchestrator{assignErr: &models.ValidationError{Field: "index", Reason: "out of range"}}
	ac := newTestController(o)

	rr := httptest.NewRecorder()
	ac.AssignBounty(rr, httptest.NewRequest(http.MethodPost, "/bounties/assign", strings.NewReader(`{"concept":"Cats","index":7}`)))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

// --- Clear / Refresh ---

func TestClear_Accepted(t *testing.T) {
	ac := newTestController(&mockOrchestrator{})
	rr := httptest.NewRecorder()
	ac.Clear(rr, httptest.NewRequest(http.MethodPost, "/clear", nil))

	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Contains(t, rr.Body.String(), "clearing")
}

func TestClear_Busy(t *testing.T) {
	ac := newTestController(&mockOrchestrator{clearErr: models.ErrBusy})
	rr := httptest.NewRecorder()
	ac.Clear(rr, httptest.NewRequest(http.MethodPost, "/clear", nil))

	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestRefresh(t *testing.T) {
	ac := newTestController(&mockOrchestrator{})
	rr := httptest.NewRecorder()
	ac.Refresh(rr, httptest.NewRequest(http.MethodPost, "/refresh", nil))
	assert.Equal(t, http.StatusAccepted, rr.Code)

	ac = newTestController(&mockOrchestrator{refreshErr: models.ErrUnauthenticated})
	rr = httptest.NewRecorder()
	ac.Refresh(rr, httptest.NewRequest(http.MethodPost, "/refresh", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestGetClearProgress(t *testing.T) {
	o := &mockOrchestrator{progress: []syncer.ProgressSnapshot{{Op: "clear", Done: 3, Total: 8, Running: true}}}
	ac := newTestController(o)

	rr := httptest.NewRecorder()
	ac.GetClearProgress(rr, httptest.NewRequest(http.MethodGet, "/clear/progress", nil))

	var snap syncer.ProgressSnapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	assert.Equal(t, 3, snap.Done)
	assert.Equal(t, 8, snap.Total)
	assert.True(t, snap.Running)
}

func TestStreamClearProgress_ClosesWhenDone(t *testing.T) {
	o := &mockOrchestrator{progress: []syncer.ProgressSnapshot{
		{Op: "clear", Done: 1, Total: 4, Running: true},
		{Op: "clear", Done: 4, Total: 4, Running: false},
	}}
	srv := httptest.NewServer(http.HandlerFunc(newTestController(o).StreamClearProgress))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	var last syncer.ProgressSnapshot
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
			break
		}
		require.NoError(t, json.Unmarshal(data, &last))
	}
	assert.False(t, last.Running)
	assert.Equal(t, 4, last.Done)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{&models.ValidationError{Field: "email"}, http.StatusBadRequest},
		{models.ErrAccountExists, http.StatusConflict},
		{models.ErrInvalidCredentials, http.StatusUnauthorized},
		{models.ErrNotFound, http.StatusNotFound},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, statusFor(tt.err), tt.err.Error())
	}
}
