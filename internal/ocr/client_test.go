package ocr

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
	"github.com/reqhub/jobwatch/internal/watch"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(Config{
		Transport:    transport.New(srv.URL, 5*time.Second, nil),
		PollInterval: 10 * time.Millisecond,
	})
	t.Cleanup(c.Close)

	return c, srv
}

func TestStartTask_MultipartSubmission(t *testing.T) {
	var gotFiles []string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/ocr", r.URL.Path)

		require.NoError(t, r.ParseMultipartForm(1<<20))
		for _, fh := range r.MultipartForm.File["files"] {
			gotFiles = append(gotFiles, fh.Filename)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"taskIds": []string{"t1", "t2"}})
	})
	c, _ := newTestClient(t, handler)

	ids, err := c.StartTask(context.Background(), []transport.File{
		{Name: "spec.pdf", Content: []byte("%PDF-1")},
		{Name: "annex.pdf", Content: []byte("%PDF-2")},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"t1", "t2"}, ids)
	assert.Equal(t, []string{"spec.pdf", "annex.pdf"}, gotFiles, "exactly one multipart entry per file under key 'files'")
	assert.NoError(t, c.Err())
	assert.False(t, c.Loading())
}

func TestStartTask_ErrorBodyMessage(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]string{"error": "OCR backend unavailable"})
	})
	c, _ := newTestClient(t, handler)

	_, err := c.StartTask(context.Background(), []transport.File{{Name: "a.pdf"}})
	require.Error(t, err)

	assert.Equal(t, "OCR pipeline initiation failed: OCR backend unavailable", err.Error())
	assert.Equal(t, err, c.Err(), "submission error mirrors into the shared slot")
}

func TestStartTask_NoDeduplication(t *testing.T) {
	var calls atomic.Int64
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"taskIds": []string{"t" + string(rune('0'+n))}})
	})
	c, _ := newTestClient(t, handler)

	files := []transport.File{{Name: "same.pdf", Content: []byte("x")}}
	first, err := c.StartTask(context.Background(), files)
	require.NoError(t, err)
	second, err := c.StartTask(context.Background(), files)
	require.NoError(t, err)

	assert.Equal(t, int64(2), calls.Load())
	assert.NotEqual(t, first, second)
}

func TestNextPoll_Policy(t *testing.T) {
	c := NewClient(Config{PollInterval: 2 * time.Second})
	defer c.Close()

	tests := []struct {
		status Status
		want   time.Duration
	}{
		{StatusStarting, 2 * time.Second},
		{StatusProcessing, 2 * time.Second},
		{StatusSucceeded, 0},
		{StatusCompleted, 0},
		{StatusFailed, 0},
		{Status("SOMETHING_NEW"), 0},
		{Status(""), 0},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, c.nextPoll(TaskStatus{Status: tt.status}))
		})
	}
}

func TestWatch_StopsAfterTerminal(t *testing.T) {
	var fetches atomic.Int64
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "t1", r.URL.Query().Get("taskId"))

		status := StatusProcessing
		if fetches.Add(1) >= 3 {
			status = StatusSucceeded
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(TaskStatus{
			Status: status,
			Result: map[string]any{"pages": float64(4)},
		})
	})
	c, _ := newTestClient(t, handler)

	h := c.Watch("t1")
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
	assert.Equal(t, StatusSucceeded, snap.Data.Status)
	assert.Equal(t, map[string]any{"pages": float64(4)}, snap.Data.Result)

	settled := fetches.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, fetches.Load(), "no polls after a terminal status")
}

func TestWatch_EmptyIDIdle(t *testing.T) {
	var fetches atomic.Int64
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
	})
	c, _ := newTestClient(t, handler)

	h := c.Watch("")
	defer h.Close()

	assert.Equal(t, watch.StatusIdle, h.Snapshot().FetchStatus)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(0), fetches.Load())
}

func TestWatchAll_PreservesOrder(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(TaskStatus{Status: StatusSucceeded})
	})
	c, _ := newTestClient(t, handler)

	handles := c.WatchAll([]string{"t1", "t2", "t3"})
	require.Len(t, handles, 3)
	for i, want := range []string{"t1", "t2", "t3"} {
		assert.Equal(t, want, handles[i].ID())
	}
	for _, h := range handles {
		h.Close()
	}

	assert.Empty(t, c.WatchAll(nil))
}

func TestClearCache_NeverPanics(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(TaskStatus{Status: StatusSucceeded})
	})
	c, _ := newTestClient(t, handler)

	assert.NotPanics(t, func() {
		c.ClearCache("t1")
		c.ClearCache()
	})
}
