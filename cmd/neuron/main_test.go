package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neuron/internal/app"
	"neuron/internal/burndown"
	"neuron/internal/config"
)

func TestBuildHandlerRoutesAPIAndPages(t *testing.T) {
	cfg := config.Default()
	cfg.Server.JWTSecret = "secret"
	a, err := app.Open(context.Background(), cfg, t.TempDir(), nil)
	require.NoError(t, err)
	defer a.Close()

	handler, err := buildHandler(a)
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	defer srv.Close()
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}

	cases := []struct {
		path   string
		status int
	}{
		{"/v1/health", http.StatusOK},
		{"/v1/programs", http.StatusUnauthorized},
		{"/v1/openapi.json", http.StatusOK},
		{"/metrics", http.StatusOK},
		{"/docs", http.StatusOK},
		{"/login", http.StatusOK},
		{"/", http.StatusSeeOther},
		{"/programs/p1", http.StatusSeeOther},
	}
	for _, tc := range cases {
		res, err := client.Get(srv.URL + tc.path)
		require.NoError(t, err, tc.path)
		res.Body.Close()
		assert.Equal(t, tc.status, res.StatusCode, tc.path)
	}
}

func TestRenderBurndownMarksScopeChanges(t *testing.T) {
	color.NoColor = true
	points := []burndown.Point{
		{DateKey: "2026-01-12", Label: "P2 2026: Jan 12 - Jan 25", Total: 100, Remaining: 80},
		{DateKey: "2026-01-26", Label: "P3 2026: Jan 26 - Feb 8", Total: 120, Remaining: 90},
		{DateKey: "2026-02-09", Label: "P4 2026: Feb 9 - Feb 22", Total: 110, Remaining: 60},
	}
	changes := []burndown.ScopeChange{
		{DateKey: "2026-01-26", From: 100, To: 120},
		{DateKey: "2026-02-09", From: 120, To: 110},
	}
	var buf bytes.Buffer
	renderBurndown(&buf, points, changes)
	out := buf.String()
	assert.Contains(t, out, "P3 2026: Jan 26 - Feb 8")
	assert.Contains(t, out, "+20")
	assert.Contains(t, out, "-10")
}
