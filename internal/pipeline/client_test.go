package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reqhub/jobwatch/internal/transport"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(Config{
		Transport:    transport.New(srv.URL, 5*time.Second, nil),
		PollInterval: 10 * time.Millisecond,
	})
	t.Cleanup(c.Close)

	return c
}

func TestStart_SendsActionAndParams(t *testing.T) {
	var body map[string]any
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/ai", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(StartResult{RunID: "r1", State: StateRunning, Message: "started"})
	})
	c := newTestClient(t, handler)

	res, err := c.Start(context.Background(), StartParams{
		PipelineID:     "p1",
		Files:          []string{"f1", "f2"},
		OrganizationID: "o1",
		Metadata:       map[string]any{"source": "cli"},
	})
	require.NoError(t, err)

	assert.Equal(t, "r1", res.RunID)
	assert.Equal(t, StateRunning, res.RunState())

	assert.Equal(t, "startPipeline", body["action"])
	assert.Equal(t, "p1", body["pipelineId"])
	assert.Equal(t, "o1", body["organizationId"])
	assert.Equal(t, []any{"f1", "f2"}, body["files"])
}

func TestStart_NotFoundMessage(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "Pipeline not found"})
	})
	c := newTestClient(t, handler)

	_, err := c.Start(context.Background(), StartParams{
		PipelineID:     "p1",
		Files:          []string{},
		OrganizationID: "o1",
	})
	require.Error(t, err)

	assert.Equal(t, "Pipeline start failed: Pipeline not found", err.Error())
	assert.Equal(t, err, c.Err())
}

func TestStart_UnparseableErrorBody(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("<html>gateway exploded</html>"))
	})
	c := newTestClient(t, handler)

	_, err := c.Start(context.Background(), StartParams{PipelineID: "p1"})
	require.Error(t, err)
	assert.Equal(t, "Pipeline start failed: Service Unavailable", err.Error())
}

func TestStartResult_RunStateFoldsStatusField(t *testing.T) {
	var res StartResult
	require.NoError(t, json.Unmarshal([]byte(`{"runId":"r1","status":"RUNNING"}`), &res))
	assert.Equal(t, StateRunning, res.RunState())
}

func TestNextPoll_RunningIsTheOnlyContinuation(t *testing.T) {
	c := NewClient(Config{PollInterval: 2 * time.Second})
	defer c.Close()

	tests := []struct {
		state State
		want  time.Duration
	}{
		{StateRunning, 2 * time.Second},
		{StateDone, 0},
		{StateFailed, 0},
		// STARTING and PENDING are not terminal, yet they still halt
		// automatic polling; re-triggering is the caller's job.
		{StateStarting, 0},
		{StatePending, 0},
		{StateUnknown, 0},
		{State(""), 0},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			assert.Equal(t, tt.want, c.nextPoll(RunStatus{State: tt.state}))
		})
	}
}

func TestWatch_StopsAfterDone(t *testing.T) {
	var fetches atomic.Int64
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "r1", r.URL.Query().Get("runId"))
		require.Equal(t, "o1", r.URL.Query().Get("organizationId"))

		st := StateRunning
		if fetches.Add(1) >= 3 {
			st = StateDone
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(RunStatus{
			State:  st,
			Output: map[string]any{"requirements": []any{"REQ-1"}},
		})
	})
	c := newTestClient(t, handler)

	h := c.Watch("r1", "o1")
	defer h.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if snap := h.Snapshot(); snap.Data != nil && snap.Data.Terminal() {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	snap := h.Snapshot()
	require.NotNil(t, snap.Data)
	assert.Equal(t, StateDone, snap.Data.State)

	// Fetch count stabilizes within one extra polling interval of the
	// terminal tick.
	settled := fetches.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, fetches.Load())
}

func TestWatch_EmptyRunIDIdle(t *testing.T) {
	var fetches atomic.Int64
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
	})
	c := newTestClient(t, handler)

	h := c.Watch("", "o1")
	defer h.Close()

	assert.False(t, h.Enabled())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(0), fetches.Load())
}

func TestSubscriptionKey_Roundtrip(t *testing.T) {
	key := SubscriptionKey("r1", "o1")
	runID, orgID := splitKey(key)
	assert.Equal(t, "r1", runID)
	assert.Equal(t, "o1", orgID)

	assert.Equal(t, "", SubscriptionKey("", "o1"), "missing run id disables the subscription")
}

func TestClearCache_NeverPanics(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(RunStatus{State: StateDone})
	})
	c := newTestClient(t, handler)

	assert.NotPanics(t, func() {
		c.ClearCache(SubscriptionKey("r1", "o1"))
		c.ClearCache()
	})
}
