package main

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"

	flux "github.com/flux-chat/flux/sdk/golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAPI struct{}

func (stubAPI) PendingRequests(context.Context, string) ([]flux.PendingRequest, error) {
	return []flux.PendingRequest{{SenderIdentity: "u3", DisplayName: "Cat"}}, nil
}

func (stubAPI) Friends(context.Context, string) ([]flux.FriendEntry, error) {
	return []flux.FriendEntry{{Identity: "u1", DisplayName: "Bob", LoginID: "bob1"}}, nil
}

func (stubAPI) Search(_ context.Context, q string) (*flux.UserSummary, error) {
	if q != "u5" {
		return nil, flux.ErrNotFound
	}
	return &flux.UserSummary{Identity: "u5", DisplayName: "Eve", LoginID: "eve5"}, nil
}

func (stubAPI) SendRequest(context.Context, string, string) (string, error) {
	return "Friend request sent", nil
}

func (stubAPI) Accept(context.Context, string, string) error { return nil }

type stubChannel struct {
	mu       sync.Mutex
	handlers map[string][]flux.EventHandler
	sent     int
}

func (c *stubChannel) Send(context.Context, string, any) error {
	c.mu.Lock()
	c.sent++
	c.mu.Unlock()
	return nil
}

func (c *stubChannel) Subscribe(event string, h flux.EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handlers == nil {
		c.handlers = make(map[string][]flux.EventHandler)
	}
	c.handlers[event] = append(c.handlers[event], h)
}

func (c *stubChannel) UnsubscribeAll() {
	c.mu.Lock()
	c.handlers = nil
	c.mu.Unlock()
}

func (c *stubChannel) emit(event string, payload any) {
	data, _ := json.Marshal(payload)
	c.mu.Lock()
	hs := append([]flux.EventHandler(nil), c.handlers[event]...)
	c.mu.Unlock()
	for _, h := range hs {
		h(data)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestREPL(t *testing.T) (*chatREPL, *stubChannel, *syncBuffer) {
	t.Helper()
	ch := &stubChannel{}
	sess := flux.NewSession("me", stubAPI{}, ch)
	t.Cleanup(func() { _ = sess.Close() })
	out := &syncBuffer{}
	r := newChatREPL(sess, out)
	require.NoError(t, sess.Start(context.Background()))
	return r, ch, out
}

func TestChatCommands(t *testing.T) {
	r, ch, out := newTestREPL(t)
	ctx := context.Background()

	require.NoError(t, r.handle(ctx, "/friends"))
	assert.Contains(t, out.String(), "Bob")

	require.NoError(t, r.handle(ctx, "/requests"))
	assert.Contains(t, out.String(), "Cat")

	assert.ErrorIs(t, r.handle(ctx, "hello"), flux.ErrNoActiveConversation)
	assert.ErrorIs(t, r.handle(ctx, "/open ghost"), flux.ErrUnknownFriend)

	require.NoError(t, r.handle(ctx, "/open u1"))
	require.NoError(t, r.handle(ctx, "hello there"))
	ch.mu.Lock()
	assert.Equal(t, 2, ch.sent, "register_user and the message")
	ch.mu.Unlock()

	require.NoError(t, r.handle(ctx, "/history"))
	assert.Contains(t, out.String(), "you: hello there")

	require.NoError(t, r.handle(ctx, "/search u5"))
	assert.Contains(t, out.String(), "Found Eve")
	require.NoError(t, r.handle(ctx, "/add"))
	assert.Contains(t, out.String(), "* Friend request sent")

	require.NoError(t, r.handle(ctx, "/accept u3"))
	assert.Contains(t, out.String(), "* Added Cat")

	assert.Error(t, r.handle(ctx, "/bogus"))
	assert.ErrorIs(t, r.handle(ctx, "/quit"), errQuit)
}

func TestChatPrintsIncomingMessages(t *testing.T) {
	r, ch, out := newTestREPL(t)
	ctx := context.Background()
	require.NoError(t, r.handle(ctx, "/open u1"))

	ch.emit(flux.EventPrivateMessage, flux.InboundMessagePayload{Sender: "u1", Body: "ping"})
	_, err := r.sess.View(ctx)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Bob: ping")

	ch.emit(flux.EventPrivateMessage, flux.InboundMessagePayload{Sender: "u9", Body: "elsewhere"})
	_, err = r.sess.View(ctx)
	require.NoError(t, err)
	assert.NotContains(t, out.String(), "elsewhere")
}
