package testutil

import (
	"cloutdash/internal/models"
	"cloutdash/internal/providers"
	"context"
	"fmt"
	"sync"
	"time"
)

// MockLogger implements providers.Logger and records calls.
type MockLogger struct {
	mu   sync.Mutex
	Logs []LogEntry
}

type LogEntry struct {
	Level  string
	Type   providers.TypeEnum
	Format string
	Args   []interface{}
}

func (e LogEntry) Message() string {
	return fmt.Sprintf(e.Format, e.Args...)
}

func (m *MockLogger) record(level string, t providers.TypeEnum, format string, args ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Logs = append(m.Logs, LogEntry{Level: level, Type: t, Format: format, Args: args})
}

func (m *MockLogger) Errorf(t providers.TypeEnum, format string, args ...interface{}) {
	m.record("error", t, format, args...)
}
func (m *MockLogger) Warnf(t providers.TypeEnum, format string, args ...interface{}) {
	m.record("warn", t, format, args...)
}
func (m *MockLogger) Debugf(t providers.TypeEnum, format string, args ...interface{}) {
	m.record("debug", t, format, args...)
}
func (m *MockLogger) Infof(t providers.TypeEnum, format string, args ...interface{}) {
	m.record("info", t, format, args...)
}
func (m *MockLogger) Fatalf(t providers.TypeEnum, format string, args ...interface{}) {
	m.record("fatal", t, format, args...)
}
func (m *MockLogger) Close() {}

// Entries returns a copy of the recorded entries at level.
func (m *MockLogger) Entries(level string) []LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []LogEntry
	for _, e := range m.Logs {
		if e.Level == level {
			out = append(out, e)
		}
	}
	return out
}

// MockMetrics implements providers.MetricsProviderInterface and counts calls.
type MockMetrics struct {
	mu             sync.Mutex
	Requests       int
	CacheHits      int
	CacheMisses    int
	StorageErrors  map[string]int
	Migrations     map[string]int
	EventsIngested int
	EventsTotal    int
	ClearDone      int
	ClearTotal     int
	Persistence    map[string]int
}

func NewMockMetrics() *MockMetrics {
	return &MockMetrics{
		StorageErrors: make(map[string]int),
		Migrations:    make(map[string]int),
		Persistence:   make(map[string]int),
	}
}

func (m *MockMetrics) IncRequestsTotal(_ string, _ int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests++
}
func (m *MockMetrics) ObserveRequestDuration(_ string, _ time.Duration) {}
func (m *MockMetrics) IncCacheHits() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CacheHits++
}
func (m *MockMetrics) IncCacheMisses() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CacheMisses++
}
func (m *MockMetrics) ObservePersistenceDuration(op string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Persistence[op]++
}
func (m *MockMetrics) IncStorageErrors(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StorageErrors[op]++
}
func (m *MockMetrics) IncMigrations(from string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Migrations[from]++
}
func (m *MockMetrics) AddEventsIngested(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EventsIngested += count
}
func (m *MockMetrics) SetEventsTotal(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EventsTotal = count
}
func (m *MockMetrics) SetClearProgress(done, total int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ClearDone, m.ClearTotal = done, total
}

// Snapshot returns a copy safe to assert on while the code under test keeps running.
func (m *MockMetrics) Snapshot() MockMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := MockMetrics{
		Requests:       m.Requests,
		CacheHits:      m.CacheHits,
		CacheMisses:    m.CacheMisses,
		EventsIngested: m.EventsIngested,
		EventsTotal:    m.EventsTotal,
		ClearDone:      m.ClearDone,
		ClearTotal:     m.ClearTotal,
		StorageErrors:  make(map[string]int),
		Migrations:     make(map[string]int),
		Persistence:    make(map[string]int),
	}
	for k, v := range m.StorageErrors {
		cp.StorageErrors[k] = v
	}
	for k, v := range m.Migrations {
		cp.Migrations[k] = v
	}
	for k, v := range m.Persistence {
		cp.Persistence[k] = v
	}
	return cp
}

// MockCache implements providers.CacheProviderInterface.
type MockCache struct {
	mu   sync.Mutex
	Data map[string][]byte
}

func NewMockCache() *MockCache {
	return &MockCache{Data: make(map[string][]byte)}
}

func (m *MockCache) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.Data[key]
	return val, ok
}

func (m *MockCache) Set(key string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Data[key] = value
}

// MockCompressor implements localcache.CompressorInterface with injectable behavior.
type MockCompressor struct {
	CompressFn   func([]byte) ([]byte, error)
	DecompressFn func([]byte) ([]byte, error)
	Closed       bool
}

func (m *MockCompressor) Compress(val []byte) ([]byte, error) {
	if m.CompressFn != nil {
		return m.CompressFn(val)
	}
	// Default: return as-is (identity)
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

func (m *MockCompressor) Decompress(val []byte) ([]byte, error) {
	if m.DecompressFn != nil {
		return m.DecompressFn(val)
	}
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

func (m *MockCompressor) Close() { m.Closed = true }

// MockLocalCache implements localcache.Cache in memory with injectable errors.
type MockLocalCache struct {
	mu         sync.Mutex
	Snap       *models.Snapshot
	LoadErr    error
	SaveErr    error
	ClearErr   error
	Saves      int
	Clears     int
	CloseCalls int
}

func (m *MockLocalCache) Load(_ context.Context) (*models.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	if m.Snap == nil {
		return &models.Snapshot{}, nil
	}
	return &models.Snapshot{
		Receipts:         append([]*models.Event(nil), m.Snap.Receipts...),
		Bounties:         m.Snap.Metadata().Bounties,
		UntaggedBounties: append([]models.Bounty(nil), m.Snap.UntaggedBounties...),
	}, nil
}

func (m *MockLocalCache) Save(_ context.Context, snap *models.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.Saves++
	m.Snap = snap
	return nil
}

func (m *MockLocalCache) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ClearErr != nil {
		return m.ClearErr
	}
	m.Clears++
	m.Snap = nil
	return nil
}

func (m *MockLocalCache) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCalls++
	return nil
}

// Stored returns the last saved snapshot, nil when cleared.
func (m *MockLocalCache) Stored() *models.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Snap
}
