package flux

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// ============================================================================
// Reconciler
// ============================================================================

// FriendsAPI is the REST surface a Session depends on. *Client implements it.
type FriendsAPI interface {
	PendingRequests(ctx context.Context, identity string) ([]PendingRequest, error)
	Friends(ctx context.Context, identity string) ([]FriendEntry, error)
	Search(ctx context.Context, query string) (*UserSummary, error)
	SendRequest(ctx context.Context, senderIdentity, targetIdentity string) (string, error)
	Accept(ctx context.Context, acceptorIdentity, senderIdentity string) error
}

var _ FriendsAPI = (*Client)(nil)

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLogger sets the session logger.
func WithLogger(l zerolog.Logger) SessionOption {
	return func(s *Session) { s.log = l }
}

// WithClock replaces the clock used to timestamp messages.
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.hist.now = now }
}

// op is one atomic mutation step; it reports whether the view changed.
type op func() bool

type task struct {
	fn   op
	done chan struct{}
}

// Session keeps the friend directory, pending requests and conversation
// histories of one signed-in identity consistent with REST snapshots and push
// events. All store mutations run on a single event-loop goroutine; REST calls
// run on the caller's goroutine and post their results back to the loop.
//
// Observers registered with OnChange and OnNotice are both called from the loop,
// one at a time, and must not call back into the Session synchronously.
type Session struct {
	identity   string
	api        FriendsAPI
	ch         Channel
	log        zerolog.Logger
	obs        *observers
	flight     singleflight.Group
	fetchSeq   atomic.Uint64
	requestSeq atomic.Uint64

	// Owned by the loop goroutine.
	dir    *Directory
	reqs   *RequestQueue
	hist   *History
	active string
	search *UserSummary

	// Sequence numbers of the newest snapshots applied to the stores.
	friendsMerged  uint64
	requestsMerged uint64

	ops      chan task
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	loopDone chan struct{}

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewSession creates a session for identity. The channel is owned by the
// caller; the session only subscribes to it and sends on it.
func NewSession(identity string, api FriendsAPI, ch Channel, opts ...SessionOption) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		identity: identity,
		api:      api,
		ch:       ch,
		log:      log.Logger.With().Str("component", "session").Str("identity", identity).Logger(),
		obs:      newObservers(),
		dir:      NewDirectory(),
		reqs:     NewRequestQueue(),
		hist:     NewHistory(),
		ops:      make(chan task, 64),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.loop()
	return s
}

// Identity returns the local identity.
func (s *Session) Identity() string { return s.identity }

// OnChange registers a view observer. The returned func removes it.
func (s *Session) OnChange(h func(SessionView)) func() {
	return s.obs.addChange(h)
}

// OnNotice registers a notification observer. The returned func removes it.
func (s *Session) OnNotice(h func(Notice)) func() {
	return s.obs.addNotice(h)
}

// Start subscribes the push handlers, announces the identity and loads both
// REST snapshots. Fetch failures are reported as notices and returned joined;
// the session stays usable either way.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	s.subscribe()
	s.announce(ctx)

	return errors.Join(s.RefreshRequests(ctx), s.RefreshFriends(ctx))
}

// Close unsubscribes every push handler and stops the event loop. Calls made
// after Close return ErrClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.ch.UnsubscribeAll()
	s.cancel()
	close(s.done)
	<-s.loopDone
	s.obs.removeAll()
	return nil
}

// ── event loop ───────────────────────────────────────────

func (s *Session) loop() {
	defer close(s.loopDone)
	for {
		select {
		case t := <-s.ops:
			if t.fn() {
				s.obs.emitChange(s.buildView())
			}
			if t.done != nil {
				close(t.done)
			}
		case <-s.done:
			return
		}
	}
}

// do runs fn on the loop and waits until it and the observers it triggered
// have returned.
func (s *Session) do(ctx context.Context, fn op) error {
	t := task{fn: fn, done: make(chan struct{})}
	select {
	case s.ops <- t:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-t.done:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues fn without waiting for it. Push handlers use it so that events
// are applied in arrival order.
func (s *Session) post(fn op) {
	select {
	case s.ops <- task{fn: fn}:
	case <-s.done:
	}
}

func (s *Session) buildView() SessionView {
	v := SessionView{
		Directory: s.dir.Snapshot(),
		Requests:  s.reqs.Snapshot(),
		Active:    s.active,
		ActiveLog: []Message{},
	}
	if s.active != "" {
		if msgs := s.hist.Log(s.active); msgs != nil {
			v.ActiveLog = msgs
		}
	}
	if s.search != nil {
		v.Search = &SearchResult{User: *s.search, AlreadyFriend: s.dir.Has(s.search.Identity)}
	}
	return v
}

// View returns the current session view.
func (s *Session) View(ctx context.Context) (SessionView, error) {
	var v SessionView
	err := s.do(ctx, func() bool {
		v = s.buildView()
		return false
	})
	return v, err
}

// Conversation returns the full log with peer.
func (s *Session) Conversation(ctx context.Context, peer string) ([]Message, error) {
	var msgs []Message
	err := s.do(ctx, func() bool {
		msgs = s.hist.Log(peer)
		return false
	})
	return msgs, err
}

// SearchHistory finds up to limit messages containing query; an empty peer
// searches all conversations.
func (s *Session) SearchHistory(ctx context.Context, query, peer string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	var msgs []Message
	err := s.do(ctx, func() bool {
		msgs = s.hist.Search(query, peer, limit)
		return false
	})
	return msgs, err
}

// notify delivers n from the loop and waits for it. It must not be called from
// inside an op; ops call s.obs.emitNotice directly.
func (s *Session) notify(n Notice) {
	_ = s.do(s.ctx, func() bool {
		s.obs.emitNotice(n)
		return false
	})
}

// fail reports a REST failure. Local state is left as if the call never happened.
// Failures caused by Close are not reported.
func (s *Session) fail(opName string, err error) {
	if s.ctx.Err() != nil {
		s.log.Debug().Err(err).Str("op", opName).Msg("request ended by close")
		return
	}
	restFailuresTotal.WithLabelValues(opName).Inc()
	s.log.Warn().Err(err).Str("op", opName).Msg("request failed")
	s.notify(Notice{Kind: NoticeError, Text: fmt.Sprintf("%s failed: %v", opName, err), Err: err})
}

// ── push events ──────────────────────────────────────────

func (s *Session) subscribe() {
	s.ch.Subscribe(EventConnect, func(json.RawMessage) { s.announce(s.ctx) })
	s.ch.Subscribe(EventPrivateMessage, s.onPrivateMessage)
	s.ch.Subscribe(EventFriendStatus, s.onFriendStatus)
	s.ch.Subscribe(EventNewFriendRequest, s.onNewFriendRequest)
	s.ch.Subscribe(EventFriendAccepted, s.onFriendAccepted)
}

// announce binds the current connection to the identity. The backend keeps no
// durable binding, so this runs after every (re)connect.
func (s *Session) announce(ctx context.Context) {
	if err := s.ch.Send(ctx, EventRegisterUser, s.identity); err != nil {
		s.log.Warn().Err(err).Msg("register_user not sent")
		return
	}
	s.log.Debug().Msg("register_user sent")
}

func (s *Session) onPrivateMessage(payload json.RawMessage) {
	var p InboundMessagePayload
	if err := json.Unmarshal(payload, &p); err != nil || p.Sender == "" {
		s.log.Debug().Err(err).Msg("dropping malformed private_message")
		return
	}
	pushEventsTotal.WithLabelValues(EventPrivateMessage).Inc()
	s.post(func() bool { return s.appendInbound(p.Sender, p.Body) })
}

func (s *Session) onFriendStatus(payload json.RawMessage) {
	var p FriendStatusPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.Identity == "" {
		s.log.Debug().Err(err).Msg("dropping malformed friend_status_update")
		return
	}
	if p.Presence != PresenceOnline && p.Presence != PresenceOffline {
		s.log.Debug().Str("presence", string(p.Presence)).Msg("unknown presence value")
		return
	}
	pushEventsTotal.WithLabelValues(EventFriendStatus).Inc()
	s.post(func() bool {
		if !s.dir.ApplyPresence(p.Identity, p.Presence) {
			s.log.Debug().Str("friend", p.Identity).Msg("presence for unknown identity ignored")
			return false
		}
		return true
	})
}

func (s *Session) onNewFriendRequest(payload json.RawMessage) {
	var p NewFriendRequestPayload
	_ = json.Unmarshal(payload, &p)
	pushEventsTotal.WithLabelValues(EventNewFriendRequest).Inc()

	text := p.Message
	if text == "" {
		text = "New friend request"
	}
	n := Notice{Kind: NoticeFriendRequest, Text: text}
	s.post(func() bool {
		s.obs.emitNotice(n)
		return false
	})

	// Requests have no incremental merge; the snapshot is authoritative.
	go func() { _ = s.RefreshRequests(s.ctx) }()
}

func (s *Session) onFriendAccepted(payload json.RawMessage) {
	var p FriendAcceptedPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.Identity == "" {
		s.log.Debug().Err(err).Msg("dropping malformed friend_accepted")
		return
	}
	pushEventsTotal.WithLabelValues(EventFriendAccepted).Inc()
	s.post(func() bool {
		s.dir.ApplyAcceptedElsewhere(FriendEntry{
			Identity:    p.Identity,
			DisplayName: p.DisplayName,
			LoginID:     p.LoginID,
		})
		name := p.DisplayName
		if name == "" {
			name = p.Identity
		}
		s.obs.emitNotice(Notice{Kind: NoticeFriendAccepted, Text: name + " accepted your friend request!"})
		return true
	})
}

// appendInbound logs a received message. Exactly one of two effects follows:
// the active log shows it, or the sender's unread counter grows by one.
func (s *Session) appendInbound(sender, body string) bool {
	if sender == s.identity {
		s.log.Debug().Msg("dropping inbound message from self")
		return false
	}
	s.hist.Append(sender, s.hist.newMessage(sender, s.identity, body))
	messagesTotal.WithLabelValues("inbound").Inc()

	if s.active == sender {
		return true
	}
	if !s.dir.IncrementUnread(sender) {
		s.log.Debug().Str("sender", sender).Msg("message from identity outside the directory")
	}
	return true
}

// ── REST snapshots ───────────────────────────────────────

type friendsFetch struct {
	seq     uint64
	entries []FriendEntry
}

type requestsFetch struct {
	seq     uint64
	entries []PendingRequest
}

// RefreshFriends fetches the friend list and merges it into the directory.
// A fetch already in flight is joined rather than duplicated.
func (s *Session) RefreshFriends(ctx context.Context) error {
	_, err := s.refreshFriends(ctx)
	return err
}

// refreshFriends returns the sequence number of the fetch it joined or led.
//
// The fetch runs under the session context, not the caller's: joiners must not
// fail because the caller that started the fetch gave up.
func (s *Session) refreshFriends(ctx context.Context) (uint64, error) {
	v, err, _ := s.flight.Do("friends", func() (any, error) {
		seq := s.fetchSeq.Add(1)
		entries, err := s.api.Friends(s.ctx, s.identity)
		return friendsFetch{seq: seq, entries: entries}, err
	})
	if err != nil {
		s.fail("friend list", err)
		return 0, err
	}
	f := v.(friendsFetch)
	return f.seq, s.do(ctx, func() bool { return s.applyFriends(f) })
}

// applyFriends merges f unless a newer snapshot already landed. Every joiner of
// a flight merges its result, and a joiner scheduled late must not undo a
// fresher merge.
func (s *Session) applyFriends(f friendsFetch) bool {
	if f.seq <= s.friendsMerged {
		s.log.Debug().Uint64("seq", f.seq).Uint64("merged", s.friendsMerged).Msg("skipping stale friend list")
		return false
	}
	s.friendsMerged = f.seq
	s.dir.Merge(f.entries)
	return true
}

// RefreshRequests fetches the pending requests and replaces the queue.
func (s *Session) RefreshRequests(ctx context.Context) error {
	v, err, _ := s.flight.Do("requests", func() (any, error) {
		seq := s.requestSeq.Add(1)
		entries, err := s.api.PendingRequests(s.ctx, s.identity)
		return requestsFetch{seq: seq, entries: entries}, err
	})
	if err != nil {
		s.fail("pending requests", err)
		return err
	}
	f := v.(requestsFetch)
	return s.do(ctx, func() bool { return s.applyRequests(f) })
}

func (s *Session) applyRequests(f requestsFetch) bool {
	if f.seq <= s.requestsMerged {
		return false
	}
	s.requestsMerged = f.seq
	s.reqs.Replace(f.entries)
	return true
}

// ── user actions ─────────────────────────────────────────

// Select makes identity the active conversation and clears its unread counter.
func (s *Session) Select(ctx context.Context, identity string) error {
	var err error
	if e := s.do(ctx, func() bool {
		if !s.dir.Has(identity) {
			err = ErrUnknownFriend
			return false
		}
		s.active = identity
		s.dir.ClearUnread(identity)
		return true
	}); e != nil {
		return e
	}
	return err
}

// Send appends body to the active conversation and transmits it in the same
// step. The append is optimistic: it is never retracted, and a failed transmit
// is only logged.
func (s *Session) Send(ctx context.Context, body string) (Message, error) {
	var (
		msg Message
		err error
	)
	if e := s.do(ctx, func() bool {
		if s.active == "" {
			err = ErrNoActiveConversation
			return false
		}
		if body == "" {
			err = ErrEmptyBody
			return false
		}
		msg = s.hist.Append(s.active, s.hist.newMessage(s.identity, s.active, body))
		messagesTotal.WithLabelValues("outbound").Inc()

		if sendErr := s.ch.Send(ctx, EventPrivateMessage, OutboundMessagePayload{
			Sender:    s.identity,
			Recipient: msg.Recipient,
			Body:      body,
		}); sendErr != nil {
			s.log.Warn().Err(sendErr).Str("recipient", msg.Recipient).Msg("private_message not transmitted")
		}
		return true
	}); e != nil {
		return Message{}, e
	}
	return msg, err
}

// Search looks up a user by identity. The result is kept in the view but never
// merged into the directory.
func (s *Session) Search(ctx context.Context, query string) (*UserSummary, error) {
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if err := s.do(ctx, func() bool {
		changed := s.search != nil
		s.search = nil
		return changed
	}); err != nil {
		return nil, err
	}

	user, err := s.api.Search(ctx, query)
	if err != nil {
		s.fail("search", err)
		return nil, err
	}
	if err := s.do(ctx, func() bool {
		s.search = user
		return true
	}); err != nil {
		return nil, err
	}
	return user, nil
}

// RequestFriend sends a friend request to the current search result. Nothing
// changes locally until the peer accepts.
func (s *Session) RequestFriend(ctx context.Context) error {
	var (
		target UserSummary
		err    error
	)
	if e := s.do(ctx, func() bool {
		switch {
		case s.search == nil:
			err = ErrNoSearchResult
		case s.dir.Has(s.search.Identity):
			err = ErrAlreadyFriend
		default:
			target = *s.search
		}
		return false
	}); e != nil {
		return e
	}
	if err != nil {
		return err
	}

	msg, err := s.api.SendRequest(ctx, s.identity, target.Identity)
	if err != nil {
		s.fail("friend request", err)
		return err
	}
	if msg == "" {
		msg = "Friend request sent to " + target.DisplayName
	}
	s.notify(Notice{Kind: NoticeRequestSent, Text: msg})
	return nil
}

// Accept accepts the pending request from sender. On success the request
// leaves the queue, the sender joins the directory and the friend list is
// re-fetched.
func (s *Session) Accept(ctx context.Context, sender string) error {
	var (
		req PendingRequest
		err error
	)
	if e := s.do(ctx, func() bool {
		var ok bool
		if req, ok = s.reqs.Get(sender); !ok {
			err = ErrUnknownRequest
		}
		return false
	}); e != nil {
		return e
	}
	if err != nil {
		return err
	}

	if err := s.api.Accept(ctx, s.identity, sender); err != nil {
		s.fail("accept", err)
		return err
	}
	acceptedAt := s.fetchSeq.Load()
	if err := s.do(ctx, func() bool {
		s.reqs.Remove(sender)
		s.dir.AddAccepted(req)
		return true
	}); err != nil {
		return err
	}

	name := req.DisplayName
	if name == "" {
		name = sender
	}
	s.notify(Notice{Kind: NoticeAccepted, Text: "Added " + name})

	// A joined fetch that started before the accept may not list the new friend;
	// once it has landed, fetch again.
	seq, err := s.refreshFriends(ctx)
	if err != nil || seq > acceptedAt {
		return err
	}
	_, err = s.refreshFriends(ctx)
	return err
}
