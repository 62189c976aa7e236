package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSegments(t *testing.T, n int) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, n)
	for i := range paths {
		paths[i] = filepath.Join(dir, fmt.Sprintf("seg_%05d.wav", i))
		require.NoError(t, os.WriteFile(paths[i], []byte(fmt.Sprintf("audio-%d", i)), 0o600))
	}
	return paths
}

func newTestClient(t *testing.T, endpoint string, retries int) *Client {
	t.Helper()
	client, err := NewClient(Config{
		Endpoint:    endpoint,
		APIKey:      "test-key",
		Model:       "whisper-test",
		Language:    "no",
		Timeout:     5 * time.Second,
		MaxRetries:  retries,
		BackoffBase: time.Millisecond,
	})
	require.NoError(t, err)
	return client
}

func TestTranscribePreservesSegmentOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		assert.Equal(t, "whisper-test", r.FormValue("model"))
		assert.Equal(t, "no", r.FormValue("language"))

		index, _ := strconv.Atoi(r.FormValue("segment_index"))
		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()
		assert.Equal(t, fmt.Sprintf("seg_%05d.wav", index), header.Filename)

		json.NewEncoder(w).Encode(map[string]string{"text": fmt.Sprintf("  text %d  ", index)})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 0)
	texts, err := client.Transcribe(context.Background(), writeSegments(t, 3))
	require.NoError(t, err)
	require.Equal(t, []string{"text 0", "text 1", "text 2"}, texts)

	stats := client.GetStats()
	require.Equal(t, uint64(3), stats.TotalRequests)
	require.Equal(t, uint64(3), stats.SuccessRequests)
	require.Equal(t, float64(100), stats.SuccessRate)
}

func TestTranscribeRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "model warming up", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"text": "ok"})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 3)
	texts, err := client.Transcribe(context.Background(), writeSegments(t, 1))
	require.NoError(t, err)
	require.Equal(t, []string{"ok"}, texts)
	require.Equal(t, int32(3), calls.Load())
	require.Equal(t, uint64(2), client.GetStats().TotalRetries)
}

func TestTranscribeDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad audio", http.StatusBadRequest)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 3)
	_, err := client.Transcribe(context.Background(), writeSegments(t, 2))
	require.Error(t, err)
	require.Contains(t, err.Error(), "segment 0")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	require.Equal(t, int32(1), calls.Load())
	require.Equal(t, uint64(1), client.GetStats().FailedRequests)
}

func TestTranscribeNoSegments(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:1", 0)
	_, err := client.Transcribe(context.Background(), nil)
	require.ErrorIs(t, err, ErrNoSegments)
}

func TestTranscribeMissingSegmentFile(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:1", 0)
	_, err := client.Transcribe(context.Background(), []string{filepath.Join(t.TempDir(), "gone.wav")})
	require.Error(t, err)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestReleaseCallsEndpoint(t *testing.T) {
	var released atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/release", r.URL.Path)
		released.Store(true)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client, err := NewClient(Config{Endpoint: server.URL + "/transcribe", ReleaseEndpoint: server.URL + "/release"})
	require.NoError(t, err)
	require.NoError(t, client.Release(context.Background()))
	require.True(t, released.Load())
}

func TestReleaseWithoutEndpointIsNoop(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:1", 0)
	require.NoError(t, client.Release(context.Background()))
}

func TestNewClientRequiresEndpoint(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
}

func TestAPIErrorRetryable(t *testing.T) {
	require.True(t, (&APIError{StatusCode: 500}).Retryable())
	require.True(t, (&APIError{StatusCode: 429}).Retryable())
	require.False(t, (&APIError{StatusCode: 404}).Retryable())
}

func TestStubRecognizer(t *testing.T) {
	texts, err := StubRecognizer{}.Transcribe(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Equal(t, []string{StubText + " 1", StubText + " 2"}, texts)

	_, err = StubRecognizer{}.Transcribe(context.Background(), nil)
	require.ErrorIs(t, err, ErrNoSegments)
}
