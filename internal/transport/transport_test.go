package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return New(srv.URL, 5*time.Second, nil)
}

func TestGetJSON_QueryAndDecode(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "t1", r.URL.Query().Get("taskId"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "PROCESSING"})
	})

	var out struct {
		Status string `json:"status"`
	}
	err := c.GetJSON(context.Background(), "/api/ocr", url.Values{"taskId": {"t1"}}, &out)
	require.NoError(t, err)
	assert.Equal(t, "PROCESSING", out.Status)
}

func TestDo_ErrorBodyParsed(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "task not found"})
	})

	err := c.GetJSON(context.Background(), "/api/ocr", nil, nil)
	require.Error(t, err)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	assert.Equal(t, "task not found", se.Message)
}

func TestDo_ErrorBodyFallbacks(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "non-json body", body: "<html>boom</html>", want: "Bad Gateway"},
		{name: "empty body", body: "", want: "Bad Gateway"},
		{name: "json without error field", body: `{"detail":"x"}`, want: "Bad Gateway"},
		{name: "json with empty error", body: `{"error":""}`, want: "Bad Gateway"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
				w.Write([]byte(tt.body))
			})

			err := c.GetJSON(context.Background(), "/x", nil, nil)
			var se *StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.want, se.Message)
		})
	}
}

func TestDo_TransportErrorPassesThrough(t *testing.T) {
	// point at a closed server so the dial fails
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()
	c := New(srv.URL, time.Second, nil)

	err := c.GetJSON(context.Background(), "/x", nil, nil)
	require.Error(t, err)

	var se *StatusError
	assert.False(t, errors.As(err, &se), "a transport failure must not look like an HTTP status error")
}

func TestWrapSubmit(t *testing.T) {
	statusErr := &StatusError{StatusCode: 404, Message: "Pipeline not found"}
	wrapped := WrapSubmit("Pipeline start failed", statusErr)
	assert.Equal(t, "Pipeline start failed: Pipeline not found", wrapped.Error())
	assert.ErrorIs(t, wrapped, statusErr)

	plain := errors.New("dial tcp: connection refused")
	assert.Equal(t, plain, WrapSubmit("Pipeline start failed", plain), "transport errors keep their original message")
}

func TestPostJSON_EncodesBody(t *testing.T) {
	var got map[string]any
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("{}"))
	})

	err := c.PostJSON(context.Background(), "/api/ai", map[string]string{"action": "startPipeline"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "startPipeline", got["action"])
}
