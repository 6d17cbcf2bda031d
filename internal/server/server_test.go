package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"neuron/internal/config"
	"neuron/internal/db"
	"neuron/internal/domain"
	"neuron/internal/engine"
	"neuron/internal/engine/auth"
	"neuron/internal/metrics"
	"neuron/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL     string
	client  *http.Client
	conn    *sql.DB
	engine  engine.Engine
	apiKey  string
	user    domain.User
	metrics *metrics.Metrics
}

func (s *testServer) key() map[string]string {
	return map[string]string{"X-Api-Key": s.apiKey}
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := db.Config{Workspace: t.TempDir()}
	require.NoError(t, migrate.Migrate(cfg))
	conn, err := db.Open(cfg)
	require.NoError(t, err)

	now := time.Date(2026, 2, 17, 9, 0, 0, 0, time.UTC)
	e := engine.New(conn, cfg.Dialect(), nil).WithClock(func() time.Time { return now })
	svc := auth.New(e.Repo)
	svc.Cost = bcrypt.MinCost
	ctx := context.Background()
	user, err := svc.Register(ctx, "ada@example.com", "Ada", "correct horse")
	require.NoError(t, err)
	_, plain, err := svc.CreateAPIKey(ctx, user.ID, "tests")
	require.NoError(t, err)

	m := metrics.New()
	handler, err := New(Config{Engine: e, Auth: svc, BasePath: "/v1", JWTSecret: testSecret, Metrics: m})
	require.NoError(t, err)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		ln.Close()
		conn.Close()
	})
	return &testServer{
		URL:     "http://" + ln.Addr().String(),
		client:  &http.Client{},
		conn:    conn,
		engine:  e,
		apiKey:  plain,
		user:    user,
		metrics: m,
	}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(data, &out), string(data))
	return out
}

type errorEnvelope struct {
	Error apiErrorBody `json:"error"`
}

// seedTree creates program p1 > ws1 > i1 with sub-tasks of 3 points at 50%
// and 5 points at 0%.
func seedTree(t *testing.T, srv *testServer) {
	t.Helper()
	steps := []struct {
		path string
		body map[string]any
	}{
		{"/v1/programs", map[string]any{"id": "p1", "name": "Apollo"}},
		{"/v1/programs/p1/workstreams", map[string]any{"id": "ws1", "name": "Platform"}},
		{"/v1/workstreams/ws1/initiatives", map[string]any{"id": "i1", "name": "Login"}},
		{"/v1/initiatives/i1/subtasks", map[string]any{"id": "s1", "name": "Form", "points": 3, "completion_percent": 50}},
		{"/v1/initiatives/i1/subtasks", map[string]any{"id": "s2", "name": "SSO", "points": 5}},
	}
	for _, step := range steps {
		res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+step.path, step.body, srv.key())
		require.Equal(t, http.StatusOK, res.StatusCode, "%s: %s", step.path, data)
	}
}

func TestHealthIsPublic(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(data))
}

func TestRequestsWithoutCredentialsAreRejected(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/programs", nil, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "unauthorized", decode[errorEnvelope](t, data).Error.Code)

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/programs", nil, map[string]string{"X-Api-Key": "nk_wrong"})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "invalid_credentials", decode[errorEnvelope](t, data).Error.Code)

	res, _ = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/programs", nil, map[string]string{"Authorization": "Bearer not-a-jwt"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestTokenExchange(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/auth/token", map[string]any{
		"email": "ada@example.com", "password": "correct horse",
	}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	tok := decode[TokenResponse](t, data)
	require.NotEmpty(t, tok.Token)
	assert.Equal(t, "2026-02-17T21:00:00Z", tok.ExpiresAt)

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"Authorization": "Bearer " + tok.Token})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, srv.user.ID, decode[domain.User](t, data).ID)

	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/auth/token", map[string]any{
		"email": "ada@example.com", "password": "wrong password",
	}, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "invalid_credentials", decode[errorEnvelope](t, data).Error.Code)
}

func TestCreateAPIKeyForCaller(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/me/api-keys", map[string]any{"name": "ci"}, srv.key())
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	created := decode[APIKeyResponse](t, data)
	require.True(t, strings.HasPrefix(created.Key, "nk_"))
	assert.Equal(t, srv.user.ID, created.APIKey.UserID)

	res, _ = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/programs", nil, map[string]string{"X-Api-Key": created.Key})
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestErrorEnvelope(t *testing.T) {
	srv := newTestServer(t)

	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/programs/missing", nil, srv.key())
	require.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "not_found", decode[errorEnvelope](t, data).Error.Code)

	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/programs", map[string]any{"name": "   "}, srv.key())
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	body := decode[errorEnvelope](t, data).Error
	assert.Equal(t, "bad_request", body.Code)
	assert.Equal(t, "name", body.Details["field"])

	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/programs/missing/workstreams", map[string]any{"name": "Orphan"}, srv.key())
	require.Equal(t, http.StatusNotFound, res.StatusCode, string(data))
}

func TestStorageFailureIs503(t *testing.T) {
	srv := newTestServer(t)
	token, _, err := SignToken(testSecret, srv.user.ID, time.Hour, time.Now())
	require.NoError(t, err)
	require.NoError(t, srv.conn.Close())

	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/programs", nil, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusServiceUnavailable, res.StatusCode, string(data))
	assert.Equal(t, "storage_unavailable", decode[errorEnvelope](t, data).Error.Code)
}

func TestTakeCurrentSnapshot(t *testing.T) {
	srv := newTestServer(t)
	seedTree(t, srv)

	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/programs/p1/snapshots/current", nil, srv.key())
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	snap := decode[domain.Snapshot](t, data)
	assert.Equal(t, "2026-02-09", snap.DateKey)
	assert.Equal(t, 8, snap.TotalPoints)
	assert.Equal(t, 2, snap.CompletedPoints)
	assert.Equal(t, 25.0, snap.PercentComplete)
	require.Contains(t, snap.WorkstreamData, "ws1")

	// Same period again replaces rather than appends.
	res, _ = doJSON(t, srv.client, http.MethodPatch, srv.URL+"/v1/subtasks/s2/progress", map[string]any{"completion_percent": 100}, srv.key())
	require.Equal(t, http.StatusOK, res.StatusCode)
	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/programs/p1/snapshots/current", nil, srv.key())
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, 7, decode[domain.Snapshot](t, data).CompletedPoints)

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/programs/p1/snapshots", nil, srv.key())
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Len(t, decode[ItemList[domain.Snapshot]](t, data).Items, 1)

	res, _ = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/programs/missing/snapshots/current", nil, srv.key())
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestUpsertSnapshotAndAnalytics(t *testing.T) {
	srv := newTestServer(t)
	seedTree(t, srv)

	history := []struct {
		key              string
		total, completed int
	}{
		{"2026-01-12", 100, 10},
		{"2026-01-26", 100, 40},
		{"2026-02-09", 120, 60},
	}
	for _, h := range history {
		res, data := doJSON(t, srv.client, http.MethodPut, srv.URL+"/v1/programs/p1/snapshots/"+h.key,
			map[string]any{"total_points": h.total, "completed_points": h.completed}, srv.key())
		require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	}

	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/programs/p1/burndown", nil, srv.key())
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	bd := decode[BurndownResponse](t, data)
	require.Len(t, bd.Points, 3)
	assert.Equal(t, 90, bd.Points[0].Remaining)
	assert.Equal(t, "P2 2026: Jan 12 - Jan 25", bd.Points[0].Label)
	assert.Equal(t, []string{"2026-02-09"}, bd.ScopeChanges)

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/programs/p1/scope-changes?from=2026-01-20", nil, srv.key())
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	sc := decode[ScopeChangesResponse](t, data)
	assert.Equal(t, []string{"2026-02-09"}, sc.DateKeys)
	require.Len(t, sc.Changes, 1)
	assert.Equal(t, 20, sc.Changes[0].Delta())

	res, _ = doJSON(t, srv.client, http.MethodPut, srv.URL+"/v1/programs/p1/snapshots/2026-13-01",
		map[string]any{"total_points": 1, "completed_points": 0}, srv.key())
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, _ = doJSON(t, srv.client, http.MethodPut, srv.URL+"/v1/programs/p1/snapshots/2026-02-23",
		map[string]any{"total_points": -5, "completed_points": 0}, srv.key())
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, _ = doJSON(t, srv.client, http.MethodPut, srv.URL+"/v1/programs/missing/snapshots/2026-02-23",
		map[string]any{"total_points": 5, "completed_points": 1}, srv.key())
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestPatchInitiative(t *testing.T) {
	srv := newTestServer(t)
	seedTree(t, srv)

	res, data := doJSON(t, srv.client, http.MethodPatch, srv.URL+"/v1/initiatives/i1",
		map[string]any{"status": "active", "target_date": "2026-06-30"}, srv.key())
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	in := decode[domain.Initiative](t, data)
	assert.Equal(t, "active", in.Status)
	require.NotNil(t, in.TargetDate)
	assert.Equal(t, "2026-06-30", *in.TargetDate)

	res, _ = doJSON(t, srv.client, http.MethodPatch, srv.URL+"/v1/initiatives/i1", map[string]any{"status": "paused"}, srv.key())
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, _ = doJSON(t, srv.client, http.MethodPatch, srv.URL+"/v1/initiatives/i1", map[string]any{}, srv.key())
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, data = doJSON(t, srv.client, http.MethodPatch, srv.URL+"/v1/initiatives/i1", map[string]any{"archived": true}, srv.key())
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/workstreams/ws1/initiatives", nil, srv.key())
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Empty(t, decode[ItemList[domain.Initiative]](t, data).Items)
}

func TestRecords(t *testing.T) {
	srv := newTestServer(t)
	seedTree(t, srv)

	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/programs/p1/costs",
		map[string]any{"description": "Licenses", "amount_cents": 125050, "incurred_on": "2026-01-10", "workstream_id": "ws1"}, srv.key())
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	cost := decode[domain.CostEntry](t, data)

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/programs/p1/costs", nil, srv.key())
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, int64(125050), decode[CostList](t, data).TotalCents)

	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/programs/p1/documents",
		map[string]any{"title": "Charter", "body_html": `<p>Scope</p><script>alert(1)</script>`}, srv.key())
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	doc := decode[domain.Document](t, data)
	assert.Equal(t, "<p>Scope</p>", doc.BodyHTML)

	res, _ = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/programs/p1/issues", map[string]any{"title": "Vendor delay", "severity": "high"}, srv.key())
	require.Equal(t, http.StatusOK, res.StatusCode)
	res, _ = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/initiatives/i1/milestones", map[string]any{"name": "Beta", "due_date": "2026-03-01"}, srv.key())
	require.Equal(t, http.StatusOK, res.StatusCode)

	res, _ = doJSON(t, srv.client, http.MethodDelete, srv.URL+"/v1/costs/"+cost.ID, nil, srv.key())
	require.Equal(t, http.StatusNoContent, res.StatusCode)
	res, _ = doJSON(t, srv.client, http.MethodDelete, srv.URL+"/v1/costs/"+cost.ID, nil, srv.key())
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	res, _ = doJSON(t, srv.client, http.MethodDelete, srv.URL+"/v1/documents/"+doc.ID, nil, srv.key())
	assert.Equal(t, http.StatusNoContent, res.StatusCode)

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/programs/p1/events?type=record.created", nil, srv.key())
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Len(t, decode[ItemList[domain.Event]](t, data).Items, 3)
}

func TestPeriods(t *testing.T) {
	srv := newTestServer(t)

	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/periods/current", nil, srv.key())
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, "2026-02-09", decode[map[string]any](t, data)["date_key"])

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/periods/2027-01-03", nil, srv.key())
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	p := decode[map[string]any](t, data)
	assert.Equal(t, float64(2026), p["iso_year"])
	assert.Equal(t, float64(27), p["period_number"])

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/periods?from=2026-01-01&to=2026-02-17", nil, srv.key())
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Len(t, decode[ItemList[map[string]any]](t, data).Items, 4)

	res, _ = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/periods/yesterday", nil, srv.key())
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/periods?from=0001-01-01&to=9999-12-31", nil, srv.key())
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Contains(t, string(data), "more than 260 periods")
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/metrics", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), "neuron_http_request_duration_seconds")
}

func TestOpenAPIDocument(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	doc := decode[map[string]any](t, data)
	paths, ok := doc["paths"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, paths, "/v1/programs/{program_id}/burndown")
	health := paths["/v1/health"].(map[string]any)["get"].(map[string]any)
	assert.Empty(t, health["security"])
}

type stubEvents struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *stubEvents) EventsAfter(_ context.Context, afterID int64, limit int) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for _, e := range s.events {
		if e.ID > afterID && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *stubEvents) LatestEventID(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return 0, nil
	}
	return s.events[len(s.events)-1].ID, nil
}

func (s *stubEvents) add(e domain.Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func TestWebhookDispatch(t *testing.T) {
	var (
		mu       sync.Mutex
		received []*http.Request
		bodies   []webhookEvent
		fail     = true
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			fail = false
			http.Error(w, "try later", http.StatusBadGateway)
			return
		}
		var evt webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&evt)
		received = append(received, r)
		bodies = append(bodies, evt)
	}))
	defer hook.Close()

	src := &stubEvents{}
	src.add(domain.Event{ID: 1, Type: "program.created", ProgramID: "p1"})
	d := newWebhookDispatcher(src, []config.WebhookConfig{
		{URL: hook.URL, Events: []string{"snapshot.taken"}, Secret: "s3cret"},
	}, nil)
	ctx := context.Background()

	// The cursor starts after existing history.
	d.dispatchAll(ctx)
	src.add(domain.Event{ID: 2, Type: "subtask.progress", ProgramID: "p1"})
	src.add(domain.Event{ID: 3, Type: "snapshot.taken", ProgramID: "p1", Payload: `{"date_key":"2026-02-09"}`})

	d.dispatchAll(ctx) // first delivery fails and is retried
	d.dispatchAll(ctx)
	d.dispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 1)
	assert.Equal(t, int64(3), bodies[0].ID)
	assert.JSONEq(t, `{"date_key":"2026-02-09"}`, string(bodies[0].Payload))
	assert.Equal(t, "snapshot.taken", received[0].Header.Get("X-Neuron-Event"))
	assert.Equal(t, "3", received[0].Header.Get("X-Neuron-Delivery"))
	assert.Equal(t, "p1", received[0].Header.Get("X-Neuron-Program"))
	assert.Equal(t, "s3cret", received[0].Header.Get("X-Neuron-Secret"))
}

func TestStartWebhooksStopsWithContext(t *testing.T) {
	srv := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := StartWebhooks(ctx, srv.engine, []config.WebhookConfig{{URL: "http://127.0.0.1:1/hook"}}, nil)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not stop")
	}

	closed := StartWebhooks(context.Background(), srv.engine, nil, nil)
	_, open := <-closed
	assert.False(t, open)
}
