package flux

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helpers
// ============================================================================

type bodyLog struct {
	mu     sync.Mutex
	bodies map[string]map[string]string
}

func (b *bodyLog) get(path string) map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bodies[path]
}

// newTestServer routes each path to a canned handler and records request bodies.
func newTestServer(t *testing.T, routes map[string]http.HandlerFunc) (*Client, *bodyLog) {
	t.Helper()
	bodies := &bodyLog{bodies: make(map[string]map[string]string)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		bodies.mu.Lock()
		bodies.bodies[r.URL.Path] = body
		bodies.mu.Unlock()
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return NewClient("tok", WithBaseURL(srv.URL+"/")), bodies
}

func writeJSON(status int, v any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
}

// ============================================================================
// Friends API
// ============================================================================

func TestClientFriends(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		c, bodies := newTestServer(t, map[string]http.HandlerFunc{
			pathFriendList: writeJSON(200, map[string]any{
				"success": true,
				"friends": []map[string]string{{"identity": "u1", "displayName": "Bob", "loginId": "bob1"}},
			}),
		})
		friends, err := c.Friends(context.Background(), "me")
		require.NoError(t, err)
		assert.Equal(t, []FriendEntry{{Identity: "u1", DisplayName: "Bob", LoginID: "bob1"}}, friends)
		assert.Equal(t, "me", bodies.get(pathFriendList)["identity"])
	})

	t.Run("missing success flag", func(t *testing.T) {
		c, _ := newTestServer(t, map[string]http.HandlerFunc{
			pathFriendList: writeJSON(200, map[string]any{"friends": []any{}}),
		})
		_, err := c.Friends(context.Background(), "me")
		assert.ErrorIs(t, err, ErrUnsuccessful)
	})

	t.Run("http error", func(t *testing.T) {
		c, _ := newTestServer(t, map[string]http.HandlerFunc{
			pathFriendList: writeJSON(500, map[string]any{"message": "db down"}),
		})
		_, err := c.Friends(context.Background(), "me")
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, 500, apiErr.Status)
		assert.Equal(t, "db down", apiErr.Message)
	})
}

func TestClientPendingRequests(t *testing.T) {
	c, _ := newTestServer(t, map[string]http.HandlerFunc{
		pathPendingRequests: writeJSON(200, map[string]any{
			"success": true,
			"pendingRequests": []map[string]string{
				{"senderIdentity": "u3", "displayName": "Cat", "loginId": "cat3"},
			},
		}),
	})
	reqs, err := c.PendingRequests(context.Background(), "me")
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, "u3", reqs[0].SenderIdentity)
}

func TestClientSearch(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		c, bodies := newTestServer(t, map[string]http.HandlerFunc{
			pathSearch: writeJSON(200, map[string]any{
				"success": true,
				"user":    map[string]string{"identity": "u5", "displayName": "Eve", "loginId": "eve5"},
			}),
		})
		user, err := c.Search(context.Background(), "u5")
		require.NoError(t, err)
		assert.Equal(t, "Eve", user.DisplayName)
		assert.Equal(t, "u5", bodies.get(pathSearch)["query"])
	})

	t.Run("404 is not found", func(t *testing.T) {
		c, _ := newTestServer(t, map[string]http.HandlerFunc{
			pathSearch: writeJSON(404, map[string]any{"message": "User not found"}),
		})
		_, err := c.Search(context.Background(), "nobody")
		assert.True(t, IsNotFound(err))
	})

	t.Run("null user is not found", func(t *testing.T) {
		c, _ := newTestServer(t, map[string]http.HandlerFunc{
			pathSearch: writeJSON(200, map[string]any{"success": true, "user": nil}),
		})
		_, err := c.Search(context.Background(), "nobody")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestClientSendRequest(t *testing.T) {
	t.Run("bare message", func(t *testing.T) {
		c, bodies := newTestServer(t, map[string]http.HandlerFunc{
			pathSendRequest: writeJSON(200, map[string]any{"message": "Friend request sent"}),
		})
		msg, err := c.SendRequest(context.Background(), "me", "u5")
		require.NoError(t, err)
		assert.Equal(t, "Friend request sent", msg)
		assert.Equal(t, map[string]string{"senderIdentity": "me", "targetIdentity": "u5"}, bodies.get(pathSendRequest))
	})

	t.Run("explicit failure", func(t *testing.T) {
		c, _ := newTestServer(t, map[string]http.HandlerFunc{
			pathSendRequest: writeJSON(200, map[string]any{"success": false, "message": "already sent"}),
		})
		_, err := c.SendRequest(context.Background(), "me", "u5")
		assert.ErrorIs(t, err, ErrUnsuccessful)
	})
}

func TestClientAccept(t *testing.T) {
	c, bodies := newTestServer(t, map[string]http.HandlerFunc{
		pathAccept: writeJSON(200, map[string]any{"success": true, "message": "ok"}),
	})
	require.NoError(t, c.Accept(context.Background(), "me", "u3"))
	assert.Equal(t, map[string]string{"acceptorIdentity": "me", "senderIdentity": "u3"}, bodies.get(pathAccept))
}

// ============================================================================
// Auth API
// ============================================================================

func TestClientAuth(t *testing.T) {
	c, bodies := newTestServer(t, map[string]http.HandlerFunc{
		pathRegister: writeJSON(201, map[string]any{"identity": "u9", "message": "created"}),
		pathLogin:    writeJSON(200, map[string]any{"token": "jwt", "identity": "u9"}),
	})
	ctx := context.Background()

	_, err := c.Register(ctx, &RegisterOptions{LoginID: "zed"})
	require.Error(t, err)

	reg, err := c.Register(ctx, &RegisterOptions{LoginID: "zed", Password: "pw", DisplayName: "Zed"})
	require.NoError(t, err)
	assert.Equal(t, "u9", reg.Identity)
	assert.Equal(t, "Zed", bodies.get(pathRegister)["displayName"])

	login, err := c.Login(ctx, "zed", "pw")
	require.NoError(t, err)
	assert.Equal(t, "jwt", login.Token)
	assert.Equal(t, "u9", login.Identity)
}

func TestClientURLs(t *testing.T) {
	c := NewClient("", WithBaseURL("https://chat.example.com/"))
	assert.Equal(t, "https://chat.example.com", c.BaseURL())
	assert.Equal(t, "wss://chat.example.com/ws", c.SocketURL())

	c = NewClient("")
	assert.Equal(t, "ws://localhost:5000/ws", c.SocketURL())
}

func TestClientSendsBearerToken(t *testing.T) {
	var (
		mu   sync.Mutex
		auth string
	)
	lastAuth := func() string {
		mu.Lock()
		defer mu.Unlock()
		return auth
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		auth = r.Header.Get("Authorization")
		mu.Unlock()
		writeJSON(200, map[string]any{"success": true, "friends": []any{}})(w, r)
	}))
	defer srv.Close()

	c := NewClient("", WithBaseURL(srv.URL))
	_, err := c.Friends(context.Background(), "me")
	require.NoError(t, err)
	assert.Empty(t, lastAuth())

	c.SetToken("abc")
	_, err = c.Friends(context.Background(), "me")
	require.NoError(t, err)
	assert.Equal(t, "Bearer abc", lastAuth())
}
