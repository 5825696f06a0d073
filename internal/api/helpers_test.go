package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/phrazzld/coldstore/internal/domain"
	"github.com/phrazzld/coldstore/internal/platform/logger"
	"github.com/stretchr/testify/require"
)

type fakeTasks struct {
	mu        sync.Mutex
	added     []domain.Task
	addErr    error
	found     []domain.QueuedTask
	findErr   error
	lastFind  domain.TaskFilter
	deleted   []string
	cancelled []string
	groups    []string
	groupSize int
	inFlight  int
	ready     int
	events    chan domain.OutputEvent
}

func newFakeTasks() *fakeTasks {
	return &fakeTasks{events: make(chan domain.OutputEvent, 16)}
}

func (f *fakeTasks) Add(ctx context.Context, tasks ...domain.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	f.added = append(f.added, tasks...)
	return nil
}

func (f *fakeTasks) Find(ctx context.Context, filter domain.TaskFilter) ([]domain.QueuedTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastFind = filter
	return f.found, f.findErr
}

func (f *fakeTasks) Delete(ctx context.Context, ids []string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ids...)
	return int64(len(ids)), nil
}

func (f *fakeTasks) Cancel(ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, ids...)
}

func (f *fakeTasks) CancelGroup(ctx context.Context, groupID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups = append(f.groups, groupID)
	return f.groupSize, nil
}

func (f *fakeTasks) Subscribe(buffer int) (<-chan domain.OutputEvent, func()) {
	return f.events, func() {}
}

func (f *fakeTasks) InFlight() int { return f.inFlight }

func (f *fakeTasks) Ready(ctx context.Context) (int, error) { return f.ready, nil }

func (f *fakeTasks) addedTasks() []domain.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Task(nil), f.added...)
}

type fakeVaults struct {
	vaults []domain.VaultInfo
	err    error
}

func (f *fakeVaults) ListVaults(ctx context.Context) ([]domain.VaultInfo, error) {
	return f.vaults, f.err
}

type fakeInventory struct {
	info     domain.VaultInfo
	infoErr  error
	records  []domain.ArchiveRecord
	lastCall string
	lastArg  string
}

func (f *fakeInventory) List(ctx context.Context, vaultARN, parent string) ([]domain.ArchiveRecord, error) {
	f.lastCall, f.lastArg = "list", parent
	return f.records, nil
}

func (f *fakeInventory) Search(ctx context.Context, vaultARN, pattern string) ([]domain.ArchiveRecord, error) {
	f.lastCall, f.lastArg = "search", pattern
	return f.records, nil
}

func (f *fakeInventory) Vault(ctx context.Context, vaultARN string) (domain.VaultInfo, error) {
	return f.info, f.infoErr
}

func (f *fakeInventory) FindByPathPrefix(ctx context.Context, vaultARN, prefix string) ([]domain.ArchiveRecord, error) {
	f.lastCall, f.lastArg = "prefix", prefix
	return f.records, nil
}

type testServer struct {
	tasks     *fakeTasks
	vaults    *fakeVaults
	inventory *fakeInventory
	handler   http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	log, _ := logger.GetTestLogger(t)
	ts := &testServer{
		tasks:     newFakeTasks(),
		vaults:    &fakeVaults{},
		inventory: &fakeInventory{},
	}
	ts.handler = NewRouter(RouterDeps{
		Tasks:     ts.tasks,
		Vaults:    ts.vaults,
		Inventory: ts.inventory,
		Logger:    log,
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}

	req := httptest.NewRequest(method, target, &buf)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}
