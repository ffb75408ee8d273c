package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/meikuraledutech/blockflow"
	"github.com/meikuraledutech/blockflow/blocks"
	"github.com/meikuraledutech/blockflow/lease"
	"github.com/meikuraledutech/blockflow/persist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ persist.Sink       = (*ContentClient)(nil)
	_ blocks.ScheduleAPI = (*ScheduleClient)(nil)
	_ lease.SessionAPI   = (*SessionClient)(nil)
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func newServer(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", WithTimeout(5*time.Second))
}

func TestContentClientSaveContent(t *testing.T) {
	var got string
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /nodes/{id}/content", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got = r.PathValue("id") + " " + string(body)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("PUT /nodes/missing/content", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "node not found"})
	})
	c := NewContentClient(newServer(t, mux))

	require.NoError(t, c.SaveContent(context.Background(), "n1", json.RawMessage(`{"text":"hi"}`)))
	assert.Equal(t, `n1 {"text":"hi"}`, got)

	err := c.SaveContent(context.Background(), "missing", json.RawMessage(`{}`))
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Equal(t, "node not found", se.Message)
	assert.Contains(t, err.Error(), "status 404: node not found")
}

func TestScheduleClient(t *testing.T) {
	next := time.Date(2026, 1, 1, 0, 5, 0, 0, time.UTC)
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /dashboards/{dash}/schedules/{item}", func(w http.ResponseWriter, r *http.Request) {
		var sc blockflow.Schedule
		require.NoError(t, json.NewDecoder(r.Body).Decode(&sc))
		sc.NextRunAt = &next
		writeJSON(w, http.StatusOK, sc)
	})
	mux.HandleFunc("GET /dashboards/{dash}/schedules/{item}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("item") == "missing" {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "schedule not found"})
			return
		}
		writeJSON(w, http.StatusOK, blockflow.Schedule{DashboardID: r.PathValue("dash"), ItemID: r.PathValue("item"), Cron: "@hourly"})
	})
	mux.HandleFunc("POST /dashboards/{dash}/schedules/{item}/trigger", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusAccepted, blockflow.Execution{ID: "x1", Status: blockflow.StatusQueued, TriggeredBy: blockflow.TriggeredByManual})
	})
	mux.HandleFunc("GET /dashboards/{dash}/schedules/{item}/executions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		writeJSON(w, http.StatusOK, []blockflow.Execution{{ID: "x2", Status: blockflow.StatusCompleted}, {ID: "x1", Status: blockflow.StatusFailed}})
	})
	c := NewScheduleClient(newServer(t, mux))
	ctx := context.Background()

	saved, err := c.UpsertSchedule(ctx, &blockflow.Schedule{DashboardID: "d", ItemID: "i", Cron: "*/5 * * * *", Enabled: true})
	require.NoError(t, err)
	assert.Equal(t, "*/5 * * * *", saved.Cron)
	require.NotNil(t, saved.NextRunAt)
	assert.True(t, next.Equal(*saved.NextRunAt))

	got, err := c.GetSchedule(ctx, "d", "i")
	require.NoError(t, err)
	assert.Equal(t, "@hourly", got.Cron)

	got, err = c.GetSchedule(ctx, "d", "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	exec, err := c.TriggerSchedule(ctx, "d", "i")
	require.NoError(t, err)
	assert.Equal(t, "x1", exec.ID)

	execs, err := c.ListExecutions(ctx, "d", "i", 5)
	require.NoError(t, err)
	require.Len(t, execs, 2)
	assert.Equal(t, blockflow.StatusCompleted, execs[0].Status)
}

func TestSessionClient(t *testing.T) {
	running := false
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions/{dash}", func(w http.ResponseWriter, r *http.Request) {
		running = true
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("DELETE /sessions/{dash}", func(w http.ResponseWriter, r *http.Request) {
		running = false
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /sessions/{dash}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, lease.Status{Running: running, Ready: running})
	})
	c := NewSessionClient(newServer(t, mux))
	ctx := context.Background()

	require.NoError(t, c.Start(ctx, "dash"))
	st, err := c.Status(ctx, "dash")
	require.NoError(t, err)
	assert.Equal(t, lease.Status{Running: true, Ready: true}, st)

	require.NoError(t, c.Stop(ctx, "dash"))
	st, err = c.Status(ctx, "dash")
	require.NoError(t, err)
	assert.False(t, st.Running)
}

func TestSessionClientDrivesLeaseManager(t *testing.T) {
	starts := 0
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions/{dash}", func(w http.ResponseWriter, r *http.Request) {
		starts++
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no capacity"})
	})
	sessions := NewSessionClient(newServer(t, mux))
	m := lease.NewManager(sessions, nil, nil)

	err := m.Acquire(context.Background(), "dash")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "no capacity", se.Message)
	assert.Equal(t, 1, starts)
}
