package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/joe/pkg/assistant"
	"github.com/harun/joe/pkg/conversation"
	"github.com/harun/joe/pkg/responder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialWS(t *testing.T, srv *Server, header http.Header) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads frames until match returns true
func readUntil(t *testing.T, conn *websocket.Conn, match func(serverFrame) bool) []serverFrame {
	t.Helper()
	var frames []serverFrame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var f serverFrame
		require.NoError(t, conn.ReadJSON(&f))
		frames = append(frames, f)
		if match(f) {
			return frames
		}
	}
}

func isAssistantMessage(f serverFrame) bool {
	return f.Type == "message" && f.Message != nil && f.Message.Role == conversation.RoleAssistant
}

func TestWebSocketChat(t *testing.T) {
	t.Run("should stream the transcript of a submission", func(t *testing.T) {
		gen := replyWith("SA-516 Grade 70.", "thread_abc")
		conn := dialWS(t, newTestServer(t, Options{}, gen), nil)

		initial := readUntil(t, conn, func(f serverFrame) bool { return f.Type == "state" })
		require.NotNil(t, initial[0].Busy)
		assert.False(t, *initial[0].Busy)

		require.NoError(t, conn.WriteJSON(clientFrame{Type: "submit", Text: "What grade is suitable for a pressure vessel?"}))

		frames := readUntil(t, conn, isAssistantMessage)
		var roles []conversation.Role
		for _, f := range frames {
			if f.Type == "message" {
				roles = append(roles, f.Message.Role)
			}
		}
		assert.Equal(t, []conversation.Role{conversation.RoleUser, conversation.RoleAssistant}, roles)
		assert.Equal(t, "SA-516 Grade 70.", frames[len(frames)-1].Message.Content)

		final := readUntil(t, conn, func(f serverFrame) bool { return f.Type == "state" && f.Busy != nil && !*f.Busy })
		assert.Equal(t, "thread_abc", final[len(final)-1].SessionID)
	})

	t.Run("should render failures as messages and notifications", func(t *testing.T) {
		conn := dialWS(t, newTestServer(t, Options{}, failWith(responder.KindRunStatusError)), nil)

		require.NoError(t, conn.WriteJSON(clientFrame{Type: "submit", Text: "q"}))

		frames := readUntil(t, conn, func(f serverFrame) bool { return f.Type == "notification" })
		last := frames[len(frames)-1]
		assert.Equal(t, "Chat Error", last.Notification.Title)

		var errMsg string
		for _, f := range frames {
			if isAssistantMessage(f) {
				errMsg = f.Message.Content
			}
		}
		assert.Equal(t, "Chat Error: "+responder.KindRunStatusError.Summary(), errMsg)
	})

	t.Run("should cancel the in-flight generation on stop", func(t *testing.T) {
		started := make(chan struct{})
		gen := &fakeGenerator{fn: func(ctx context.Context, _ []conversation.Message, h assistant.Handle) (responder.Result, error) {
			close(started)
			<-ctx.Done()
			return responder.Result{}, &responder.Error{Kind: responder.KindCancelled, Op: "poll run", Err: ctx.Err()}
		}}
		conn := dialWS(t, newTestServer(t, Options{}, gen), nil)

		require.NoError(t, conn.WriteJSON(clientFrame{Type: "submit", Text: "q"}))
		select {
		case <-started:
		case <-time.After(5 * time.Second):
			t.Fatal("generation did not start")
		}
		require.NoError(t, conn.WriteJSON(clientFrame{Type: "stop"}))

		frames := readUntil(t, conn, func(f serverFrame) bool { return f.Type == "notification" })
		assert.Equal(t, "The request was stopped.", frames[len(frames)-1].Notification.Description)
	})

	t.Run("should notify on blank input", func(t *testing.T) {
		conn := dialWS(t, newTestServer(t, Options{}, replyWith("x", "thread_abc")), nil)

		require.NoError(t, conn.WriteJSON(clientFrame{Type: "submit", Text: "   "}))

		frames := readUntil(t, conn, func(f serverFrame) bool { return f.Type == "notification" })
		assert.Equal(t, "Not sent", frames[len(frames)-1].Notification.Title)
	})

	t.Run("should require login when gated", func(t *testing.T) {
		ts := httptest.NewServer(newTestServer(t, gatedOptions(), replyWith("x", "thread_abc")).Handler())
		defer ts.Close()

		_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("should accept a logged in connection", func(t *testing.T) {
		srv := newTestServer(t, gatedOptions(), replyWith("x", "thread_abc"))
		cookie := sessionCookie(t, login(t, srv.Handler(), testPassword))

		header := http.Header{}
		header.Add("Cookie", cookie.String())
		conn := dialWS(t, srv, header)

		readUntil(t, conn, func(f serverFrame) bool { return f.Type == "state" })
	})
}

func TestServerStartStop(t *testing.T) {
	srv := newTestServer(t, Options{Addr: "127.0.0.1:0"}, replyWith("x", "thread_abc"))
	require.NoError(t, srv.Start())
	assert.NotEqual(t, "127.0.0.1:0", srv.Addr())

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, srv.Stop(ctx))
	assert.True(t, srv.shuttingDown())
}
