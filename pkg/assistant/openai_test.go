package assistant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	method string
	path   string
	query  map[string]string
	body   map[string]any
}

func newTestBackend(t *testing.T, mux *http.ServeMux) *OpenAIBackend {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return NewOpenAIBackend(OpenAIConfig{
		APIKey:  "sk-test",
		BaseURL: srv.URL + "/v1/",
	})
}

func record(t *testing.T, r *http.Request) recordedRequest {
	t.Helper()
	rec := recordedRequest{method: r.Method, path: r.URL.Path, query: map[string]string{}}
	for k := range r.URL.Query() {
		rec.query[k] = r.URL.Query().Get(k)
	}
	if r.Body != nil && r.ContentLength != 0 {
		_ = json.NewDecoder(r.Body).Decode(&rec.body)
	}
	return rec
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestOpenAIBackendThreads(t *testing.T) {
	t.Run("should create a thread", func(t *testing.T) {
		var got recordedRequest
		mux := http.NewServeMux()
		mux.HandleFunc("POST /v1/threads", func(w http.ResponseWriter, r *http.Request) {
			got = record(t, r)
			assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
			writeJSON(w, 200, `{"id":"thread_new1","object":"thread","created_at":1}`)
		})

		thread, err := newTestBackend(t, mux).CreateThread(context.Background())

		require.NoError(t, err)
		assert.Equal(t, "thread_new1", thread.ID)
		assert.Equal(t, http.MethodPost, got.method)
	})

	t.Run("should get a thread", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("GET /v1/threads/{id}", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, 200, `{"id":"`+r.PathValue("id")+`","object":"thread","created_at":1}`)
		})

		thread, err := newTestBackend(t, mux).GetThread(context.Background(), "thread_abc")

		require.NoError(t, err)
		assert.Equal(t, "thread_abc", thread.ID)
	})

	t.Run("should surface API errors without retrying", func(t *testing.T) {
		var calls atomic.Int32
		mux := http.NewServeMux()
		mux.HandleFunc("GET /v1/threads/{id}", func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			writeJSON(w, 500, `{"error":{"message":"boom","type":"server_error"}}`)
		})

		_, err := newTestBackend(t, mux).GetThread(context.Background(), "thread_abc")

		require.Error(t, err)
		assert.Equal(t, 500, StatusCode(err))
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestOpenAIBackendMessages(t *testing.T) {
	t.Run("should append a user message", func(t *testing.T) {
		var got recordedRequest
		mux := http.NewServeMux()
		mux.HandleFunc("POST /v1/threads/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
			got = record(t, r)
			writeJSON(w, 200, `{"id":"msg_1","object":"thread.message","role":"user","thread_id":"thread_abc","content":[]}`)
		})

		err := newTestBackend(t, mux).AppendUserMessage(context.Background(), "thread_abc", "What grade fits a pressure vessel?")

		require.NoError(t, err)
		assert.Equal(t, "/v1/threads/thread_abc/messages", got.path)
		assert.Equal(t, "user", got.body["role"])
		assert.Equal(t, "What grade fits a pressure vessel?", got.body["content"])
	})

	t.Run("should list newest messages for a run", func(t *testing.T) {
		var got recordedRequest
		mux := http.NewServeMux()
		mux.HandleFunc("GET /v1/threads/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
			got = record(t, r)
			writeJSON(w, 200, `{
				"object": "list",
				"data": [
					{"id":"msg_2","object":"thread.message","role":"assistant","run_id":"run_1","thread_id":"thread_abc",
					 "content":[{"type":"image_file","image_file":{"file_id":"f"}},{"type":"text","text":{"value":"SA-516 Grade 70","annotations":[]}}]},
					{"id":"msg_1","object":"thread.message","role":"user","thread_id":"thread_abc",
					 "content":[{"type":"text","text":{"value":"question","annotations":[]}}]}
				],
				"first_id":"msg_2","last_id":"msg_1","has_more":false
			}`)
		})

		msgs, err := newTestBackend(t, mux).ListRecentMessages(context.Background(), "thread_abc", "run_1", 10)

		require.NoError(t, err)
		assert.Equal(t, "desc", got.query["order"])
		assert.Equal(t, "run_1", got.query["run_id"])
		assert.Equal(t, "10", got.query["limit"])
		require.Len(t, msgs, 2)
		assert.Equal(t, "assistant", msgs[0].Role)
		assert.Equal(t, "run_1", msgs[0].RunID)
		require.Len(t, msgs[0].Blocks, 2)
		text, ok := msgs[0].FirstText()
		assert.True(t, ok)
		assert.Equal(t, "SA-516 Grade 70", text)
	})
}

func TestOpenAIBackendRuns(t *testing.T) {
	t.Run("should start a run with instructions", func(t *testing.T) {
		var got recordedRequest
		mux := http.NewServeMux()
		mux.HandleFunc("POST /v1/threads/{id}/runs", func(w http.ResponseWriter, r *http.Request) {
			got = record(t, r)
			writeJSON(w, 200, `{"id":"run_1","object":"thread.run","thread_id":"thread_abc","status":"queued"}`)
		})

		run, err := newTestBackend(t, mux).StartRun(context.Background(), "thread_abc", RunRequest{
			AssistantID:  "asst_joe",
			Instructions: "You are Joe.",
		})

		require.NoError(t, err)
		assert.Equal(t, "asst_joe", got.body["assistant_id"])
		assert.Equal(t, "You are Joe.", got.body["instructions"])
		assert.NotContains(t, got.body, "model")
		assert.Equal(t, "run_1", run.ID)
		assert.Equal(t, "thread_abc", run.ThreadID)
		assert.Equal(t, RunQueued, run.Status)
		assert.Nil(t, run.LastError)
	})

	t.Run("should omit instructions in managed mode", func(t *testing.T) {
		var got recordedRequest
		mux := http.NewServeMux()
		mux.HandleFunc("POST /v1/threads/{id}/runs", func(w http.ResponseWriter, r *http.Request) {
			got = record(t, r)
			writeJSON(w, 200, `{"id":"run_1","object":"thread.run","thread_id":"thread_abc","status":"queued"}`)
		})

		_, err := newTestBackend(t, mux).StartRun(context.Background(), "thread_abc", RunRequest{
			AssistantID: "asst_joe",
			Model:       "gpt-4o",
		})

		require.NoError(t, err)
		assert.NotContains(t, got.body, "instructions")
		assert.Equal(t, "gpt-4o", got.body["model"])
	})

	t.Run("should get a failed run with its error", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("GET /v1/threads/{id}/runs/{run}", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, 200, `{"id":"`+r.PathValue("run")+`","object":"thread.run","thread_id":"thread_abc","status":"failed",
				"last_error":{"code":"rate_limit_exceeded","message":"slow down"}}`)
		})

		run, err := newTestBackend(t, mux).GetRun(context.Background(), "thread_abc", "run_9")

		require.NoError(t, err)
		assert.Equal(t, RunFailed, run.Status)
		require.NotNil(t, run.LastError)
		assert.Equal(t, "rate_limit_exceeded", run.LastError.Code)
		assert.Equal(t, "slow down", run.LastError.Message)
	})

	t.Run("should cancel a run", func(t *testing.T) {
		var got recordedRequest
		mux := http.NewServeMux()
		mux.HandleFunc("POST /v1/threads/{id}/runs/{run}/cancel", func(w http.ResponseWriter, r *http.Request) {
			got = record(t, r)
			writeJSON(w, 200, `{"id":"run_1","object":"thread.run","thread_id":"thread_abc","status":"cancelling"}`)
		})

		run, err := newTestBackend(t, mux).CancelRun(context.Background(), "thread_abc", "run_1")

		require.NoError(t, err)
		assert.Equal(t, "/v1/threads/thread_abc/runs/run_1/cancel", got.path)
		assert.Equal(t, RunCancelling, run.Status)
	})
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, 0, StatusCode(nil))
	assert.Equal(t, 0, StatusCode(context.Canceled))
}
