package cmd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orgsignal/taskrouter/pkg/escalation"
	"github.com/orgsignal/taskrouter/pkg/ingest"
	"github.com/orgsignal/taskrouter/pkg/task"
)

func newTestClient(srv *httptest.Server) *client {
	return &client{server: srv.URL, httpClient: srv.Client()}
}

func TestClientSendSignal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/signals/", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var sig ingest.Signal
		require.NoError(t, json.NewDecoder(r.Body).Decode(&sig))
		assert.Equal(t, "org-1", sig.OrganizationID)

		_ = json.NewEncoder(w).Encode(ingest.Result{TaskIDs: []string{"t-1"}})
	}))
	defer srv.Close()

	res, err := newTestClient(srv).SendSignal(context.Background(), ingest.Signal{
		OrganizationID: "org-1",
		Type:           "incident",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"t-1"}, res.TaskIDs)
}

func TestClientListTasksPassesOrganization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tasks/", r.URL.Path)
		assert.Equal(t, "org-1", r.URL.Query().Get("organizationId"))
		_ = json.NewEncoder(w).Encode([]*task.Task{{ID: "t-1", OrganizationID: "org-1"}})
	}))
	defer srv.Close()

	tasks, err := newTestClient(srv).ListTasks(context.Background(), "org-1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "t-1", tasks[0].ID)
}

func TestClientSurfacesAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"invalid task transition IN_PROGRESS -> PENDING"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).UpdateStatus(context.Background(), "org-1", "t-1", "PENDING")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server returned 409")
	assert.Contains(t, err.Error(), "invalid task transition")
}

func TestClientSurfacesNonJSONErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream unavailable"))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Sweep(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server returned 502")
}

func TestClientSweep(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/scheduler/sweep", r.URL.Path)
		_ = json.NewEncoder(w).Encode(escalation.Stats{TasksEscalated: 2})
	}))
	defer srv.Close()

	stats, err := newTestClient(srv).Sweep(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TasksEscalated)
}
