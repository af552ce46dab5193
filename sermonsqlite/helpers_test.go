package sermonsqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/Arwen-Digital/SermonSpark-sub000/sermonsync"
)

const testUserID = "pastor-1"

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// one connection keeps a single in-memory database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// testRetry keeps retry loops short in tests
func testRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BackoffMin: time.Millisecond, BackoffMax: 5 * time.Millisecond}
}

type syncFixture struct {
	server    *httptest.Server
	service   *sermonsync.Service
	repo      *sermonsync.MemoryRepository
	transport *switchTransport
	client    *Client
}

func newSyncFixture(t *testing.T, opts ...func(*Config)) *syncFixture {
	t.Helper()
	jwtAuth := sermonsync.NewJWTAuth("engine-secret")
	repo := sermonsync.NewMemoryRepository()
	svc := sermonsync.NewService(repo, &sermonsync.ServiceConfig{AppName: "engine-test"}, nil)
	handlers := sermonsync.NewHTTPHandlers(svc, jwtAuth, nil)

	mux := http.NewServeMux()
	handlers.Register(mux, jwtAuth.Middleware)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	token, err := jwtAuth.GenerateToken(testUserID, "device-1", time.Hour)
	require.NoError(t, err)
	httpTransport := NewHTTPTransport(server.URL, func(context.Context) (string, error) { return token, nil })
	transport := &switchTransport{Transport: httpTransport}

	config := DefaultConfig(testUserID)
	config.Retry = testRetry()
	for _, opt := range opts {
		opt(config)
	}
	client, err := NewClient(newTestDB(t), transport, config)
	require.NoError(t, err)

	return &syncFixture{server: server, service: svc, repo: repo, transport: transport, client: client}
}

// remoteSeries creates a series directly on the server
func (f *syncFixture) remoteSeries(t *testing.T, id, title string) *sermonsync.SeriesPayload {
	t.Helper()
	e, err := f.service.Create(context.Background(), testUserID, &sermonsync.SeriesPayload{ID: id, Title: title})
	require.NoError(t, err)
	return e.(*sermonsync.SeriesPayload)
}

// remoteSermon creates a sermon directly on the server
func (f *syncFixture) remoteSermon(t *testing.T, id, title string, seriesID *string) *sermonsync.SermonPayload {
	t.Helper()
	e, err := f.service.Create(context.Background(), testUserID,
		&sermonsync.SermonPayload{ID: id, Title: title, SeriesID: seriesID})
	require.NoError(t, err)
	return e.(*sermonsync.SermonPayload)
}

func (f *syncFixture) remoteGet(t *testing.T, kind Kind, id string) sermonsync.Entity {
	t.Helper()
	e, err := f.service.Get(context.Background(), testUserID, kind, id)
	require.NoError(t, err)
	return e
}

// switchTransport wraps a Transport and can simulate an unreachable remote or
// hold List and Update calls until released
type switchTransport struct {
	Transport
	offline    atomic.Bool
	listGate   callGate
	updateGate callGate
	lists      atomic.Int32
	updates    atomic.Int32
	failUpdate atomic.Pointer[TransportError] // returned by Update while set
}

func (s *switchTransport) unreachable(op string) error {
	return &TransportError{Class: ClassNetwork, Op: op, Message: "simulated outage"}
}

// callGate holds calls while closed
type callGate struct {
	ch      atomic.Pointer[chan struct{}]
	entered chan struct{}
}

// hold makes calls wait until the returned function is called. entered receives
// once per held call.
func (g *callGate) hold() (entered <-chan struct{}, release func()) {
	ch := make(chan struct{})
	g.entered = make(chan struct{}, 16)
	g.ch.Store(&ch)
	var done atomic.Bool
	return g.entered, func() {
		if done.CompareAndSwap(false, true) {
			g.ch.Store(nil)
			close(ch)
		}
	}
}

func (g *callGate) wait(ctx context.Context, op string) error {
	ch := g.ch.Load()
	if ch == nil {
		return nil
	}
	select {
	case g.entered <- struct{}{}:
	default:
	}
	select {
	case <-*ch:
		return nil
	case <-ctx.Done():
		return &TransportError{Class: ClassCanceled, Op: op, Err: ctx.Err()}
	}
}

// blockLists makes List wait until the returned function is called
func (s *switchTransport) blockLists() (entered <-chan struct{}, release func()) {
	return s.listGate.hold()
}

// blockUpdates makes Update wait until the returned function is called
func (s *switchTransport) blockUpdates() (entered <-chan struct{}, release func()) {
	return s.updateGate.hold()
}

func (s *switchTransport) List(ctx context.Context, kind Kind, params ListParams) (*sermonsync.ListResponse, error) {
	s.lists.Add(1)
	if s.offline.Load() {
		return nil, s.unreachable("list")
	}
	if err := s.listGate.wait(ctx, "list"); err != nil {
		return nil, err
	}
	return s.Transport.List(ctx, kind, params)
}

func (s *switchTransport) Get(ctx context.Context, kind Kind, id string) (json.RawMessage, error) {
	if s.offline.Load() {
		return nil, s.unreachable("get")
	}
	return s.Transport.Get(ctx, kind, id)
}

func (s *switchTransport) Create(ctx context.Context, kind Kind, body json.RawMessage) (json.RawMessage, error) {
	if s.offline.Load() {
		return nil, s.unreachable("create")
	}
	return s.Transport.Create(ctx, kind, body)
}

func (s *switchTransport) Update(ctx context.Context, kind Kind, id string, body json.RawMessage) (json.RawMessage, error) {
	if s.offline.Load() {
		return nil, s.unreachable("update")
	}
	if err := s.updateGate.wait(ctx, "update"); err != nil {
		return nil, err
	}
	if te := s.failUpdate.Load(); te != nil {
		return nil, te
	}
	s.updates.Add(1)
	return s.Transport.Update(ctx, kind, id, body)
}

func (s *switchTransport) Delete(ctx context.Context, kind Kind, id string) error {
	if s.offline.Load() {
		return s.unreachable("delete")
	}
	return s.Transport.Delete(ctx, kind, id)
}

func (s *switchTransport) Ping(ctx context.Context) error {
	if s.offline.Load() {
		return s.unreachable("ping")
	}
	return s.Transport.Ping(ctx)
}

func strPtr(s string) *string { return &s }
