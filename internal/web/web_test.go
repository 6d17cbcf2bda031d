package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"neuron/internal/autosave"
	"neuron/internal/db"
	"neuron/internal/engine"
	"neuron/internal/engine/auth"
	"neuron/internal/migrate"
)

var tokenPattern = regexp.MustCompile(`name="gorilla.csrf.Token" value="([^"]+)"`)

type testSite struct {
	URL    string
	client *http.Client
	engine engine.Engine
}

func newTestSite(t *testing.T) *testSite {
	t.Helper()
	cfg := db.Config{Workspace: t.TempDir()}
	require.NoError(t, migrate.Migrate(cfg))
	conn, err := db.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	now := time.Date(2026, 2, 17, 9, 0, 0, 0, time.UTC)
	e := engine.New(conn, cfg.Dialect(), nil).WithClock(func() time.Time { return now })
	svc := auth.New(e.Repo)
	svc.Cost = bcrypt.MinCost
	ctx := context.Background()
	_, err = svc.Register(ctx, "ada@example.com", "Ada", "correct horse")
	require.NoError(t, err)
	seed(t, e)

	handler, err := New(Config{Engine: e, Auth: svc, SessionKey: "session", CSRFKey: "csrf"})
	require.NoError(t, err)
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &testSite{URL: ts.URL, client: client, engine: e}
}

func seed(t *testing.T, e engine.Engine) {
	t.Helper()
	ctx := context.Background()
	_, err := e.CreateProgram(ctx, engine.ProgramCreateOptions{ID: "p1", Name: "Apollo"})
	require.NoError(t, err)
	_, err = e.CreateWorkstream(ctx, engine.WorkstreamCreateOptions{ID: "ws1", ProgramID: "p1", Name: "Platform"})
	require.NoError(t, err)
	_, err = e.CreateInitiative(ctx, engine.InitiativeCreateOptions{ID: "i1", WorkstreamID: "ws1", Name: "Login"})
	require.NoError(t, err)
	_, err = e.CreateSubTask(ctx, engine.SubTaskCreateOptions{ID: "s1", InitiativeID: "i1", Name: "Form", Points: 3, CompletionPercent: 50})
	require.NoError(t, err)
	_, err = e.CreateSubTask(ctx, engine.SubTaskCreateOptions{ID: "s2", InitiativeID: "i1", Name: "SSO", Points: 5})
	require.NoError(t, err)
	_, err = e.CreateCostEntry(ctx, engine.CostEntryCreateOptions{ID: "c1", ProgramID: "p1", WorkstreamID: "ws1", Description: "Licences", AmountCents: 123456, IncurredOn: "2026-02-10"})
	require.NoError(t, err)
	_, err = e.SaveDocument(ctx, engine.DocumentSaveOptions{ID: "d1", ProgramID: "p1", Title: "Charter", Body: `<p>Scope</p><script>alert(1)</script>`})
	require.NoError(t, err)
}

func (s *testSite) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	res, err := s.client.Get(s.URL + path)
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, string(body)
}

func (s *testSite) post(t *testing.T, path string, form url.Values) (*http.Response, string) {
	t.Helper()
	res, err := s.client.PostForm(s.URL+path, form)
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, string(body)
}

// token fetches a page and extracts its CSRF form token.
func (s *testSite) token(t *testing.T, path string) string {
	t.Helper()
	res, body := s.get(t, path)
	require.Equal(t, http.StatusOK, res.StatusCode, body)
	m := tokenPattern.FindStringSubmatch(body)
	require.Len(t, m, 2, "no csrf token on %s", path)
	return m[1]
}

func (s *testSite) login(t *testing.T) {
	t.Helper()
	res, body := s.post(t, "/login", url.Values{
		"gorilla.csrf.Token": {s.token(t, "/login")},
		"email":              {"ada@example.com"},
		"password":           {"correct horse"},
	})
	require.Equal(t, http.StatusSeeOther, res.StatusCode, body)
	require.Equal(t, "/", res.Header.Get("Location"))
}

func TestPagesRequireLogin(t *testing.T) {
	site := newTestSite(t)
	for _, path := range []string{"/", "/programs/p1", "/autosave"} {
		res, _ := site.get(t, path)
		assert.Equal(t, http.StatusSeeOther, res.StatusCode, path)
		assert.Equal(t, "/login", res.Header.Get("Location"), path)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	site := newTestSite(t)
	res, body := site.post(t, "/login", url.Values{
		"gorilla.csrf.Token": {site.token(t, "/login")},
		"email":              {"ada@example.com"},
		"password":           {"wrong"},
	})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Contains(t, body, "Email or password is incorrect.")
	assert.Contains(t, body, `value="ada@example.com"`)
}

func TestPostWithoutCSRFTokenIsForbidden(t *testing.T) {
	site := newTestSite(t)
	site.get(t, "/login")
	res, _ := site.post(t, "/login", url.Values{
		"email":    {"ada@example.com"},
		"password": {"correct horse"},
	})
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
}

func TestProgramPages(t *testing.T) {
	site := newTestSite(t)
	site.login(t)

	res, body := site.get(t, "/")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, body, `href="/programs/p1"`)
	assert.Contains(t, body, "P4 2026: Feb 9 - Feb 22")

	res, body = site.get(t, "/programs/p1")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, body, "Platform")
	assert.Contains(t, body, `data-initiative="i1"`)
	assert.Contains(t, body, "1,234.56")
	assert.Contains(t, body, "No snapshots yet.")

	res, _ = site.get(t, "/programs/missing")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestTakeSnapshotAndExport(t *testing.T) {
	site := newTestSite(t)
	site.login(t)

	res, body := site.post(t, "/programs/p1/snapshot", url.Values{"gorilla.csrf.Token": {site.token(t, "/programs/p1")}})
	require.Equal(t, http.StatusSeeOther, res.StatusCode, body)
	assert.Equal(t, "/programs/p1", res.Header.Get("Location"))

	snaps, err := site.engine.Snapshots.List(context.Background(), "p1", "", "")
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "2026-02-09", snaps[0].DateKey)
	assert.Equal(t, 8, snaps[0].TotalPoints)

	res, body = site.get(t, "/programs/p1/export.csv")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, res.Header.Get("Content-Disposition"), "p1-snapshots.csv")
	assert.Contains(t, body, "date_key,period,total_points")
	assert.Contains(t, body, "2026-02-09,P4 2026: Feb 9 - Feb 22,8,2,6,25.00,")

	res, body = site.get(t, "/programs/p1/costs.csv")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, body, "Licences,Platform")

	res, body = site.get(t, "/programs/p1/export.parquet")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.True(t, strings.HasPrefix(body, "PAR1"))

	res, body = site.get(t, "/programs/p1/burndown")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, body, "echarts")
}

func TestDocumentPage(t *testing.T) {
	site := newTestSite(t)
	site.login(t)

	res, body := site.get(t, "/programs/p1/docs/d1")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, body, "<p>Scope</p>")
	assert.NotContains(t, body, "alert(1)")

	_, err := site.engine.CreateProgram(context.Background(), engine.ProgramCreateOptions{ID: "p2", Name: "Gemini"})
	require.NoError(t, err)
	res, _ = site.get(t, "/programs/p2/docs/d1")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestAutosaveField(t *testing.T) {
	site := newTestSite(t)
	site.login(t)
	token := site.token(t, "/programs/p1")

	res, body := site.post(t, "/initiatives/i1/field", url.Values{
		"gorilla.csrf.Token": {token},
		"field":              {"status"},
		"value":              {"blocked"},
	})
	require.Equal(t, http.StatusOK, res.StatusCode, body)
	var saved autosaveResponse
	require.NoError(t, json.Unmarshal([]byte(body), &saved))
	assert.Equal(t, autosave.Saved, saved.Autosave.State)
	assert.Equal(t, "status", saved.Autosave.Field)

	in, err := site.engine.Repo.GetInitiative(context.Background(), "i1")
	require.NoError(t, err)
	assert.Equal(t, "blocked", in.Status)

	res, body = site.post(t, "/initiatives/i1/field", url.Values{
		"gorilla.csrf.Token": {token},
		"field":              {"status"},
		"value":              {"paused"},
	})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	var failed autosaveResponse
	require.NoError(t, json.Unmarshal([]byte(body), &failed))
	assert.Equal(t, autosave.Error, failed.Autosave.State)
	assert.NotEmpty(t, failed.Error)

	res, body = site.get(t, "/autosave")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var status autosaveResponse
	require.NoError(t, json.Unmarshal([]byte(body), &status))
	assert.Equal(t, autosave.Error, status.Autosave.State)

	res, body = site.post(t, "/initiatives/missing/field", url.Values{
		"gorilla.csrf.Token": {token},
		"field":              {"name"},
		"value":              {"Renamed"},
	})
	assert.Equal(t, http.StatusNotFound, res.StatusCode, body)
}

func TestLogoutClearsSession(t *testing.T) {
	site := newTestSite(t)
	site.login(t)
	res, _ := site.post(t, "/logout", url.Values{"gorilla.csrf.Token": {site.token(t, "/")}})
	require.Equal(t, http.StatusSeeOther, res.StatusCode)

	res, _ = site.get(t, "/")
	assert.Equal(t, http.StatusSeeOther, res.StatusCode)
	assert.Equal(t, "/login", res.Header.Get("Location"))
}
