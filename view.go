package flux

import (
	"sort"
	"sync"
)

// ============================================================================
// Session View
// ============================================================================

// SearchResult is the last user lookup, shown to the user but never merged
// into the directory.
type SearchResult struct {
	User          UserSummary `json:"user"`
	AlreadyFriend bool        `json:"alreadyFriend"`
}

// SessionView is the externally visible aggregate, rebuilt after every mutation.
// It shares no memory with the session's stores.
type SessionView struct {
	Directory map[string]FriendRecord `json:"directory"`
	Requests  []PendingRequest        `json:"requests"`
	Active    string                  `json:"activeConversation,omitempty"`
	ActiveLog []Message               `json:"activeLog"`
	Search    *SearchResult           `json:"search,omitempty"`
}

// Friends returns the directory ordered by display name, then identity.
func (v SessionView) Friends() []FriendRecord {
	out := make([]FriendRecord, 0, len(v.Directory))
	for _, rec := range v.Directory {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].Identity < out[j].Identity
	})
	return out
}

// UnreadTotal sums unread counters across the directory.
func (v SessionView) UnreadTotal() int {
	n := 0
	for _, rec := range v.Directory {
		n += rec.UnreadCount
	}
	return n
}

// NoticeKind classifies one-shot user notifications.
type NoticeKind string

const (
	NoticeFriendRequest  NoticeKind = "friend_request"
	NoticeFriendAccepted NoticeKind = "friend_accepted"
	NoticeRequestSent    NoticeKind = "request_sent"
	NoticeAccepted       NoticeKind = "accepted"
	NoticeError          NoticeKind = "error"
)

// Notice is a one-shot notification for the presentation layer.
type Notice struct {
	Kind NoticeKind `json:"kind"`
	Text string     `json:"text"`
	Err  error      `json:"-"`
}

// ============================================================================
// Observers
// ============================================================================

type observers struct {
	mu       sync.RWMutex
	next     int
	onChange map[int]func(SessionView)
	onNotice map[int]func(Notice)
}

func newObservers() *observers {
	return &observers{
		onChange: make(map[int]func(SessionView)),
		onNotice: make(map[int]func(Notice)),
	}
}

func (o *observers) addChange(h func(SessionView)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.next
	o.next++
	o.onChange[id] = h
	return func() {
		o.mu.Lock()
		delete(o.onChange, id)
		o.mu.Unlock()
	}
}

func (o *observers) addNotice(h func(Notice)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.next
	o.next++
	o.onNotice[id] = h
	return func() {
		o.mu.Lock()
		delete(o.onNotice, id)
		o.mu.Unlock()
	}
}

func (o *observers) emitChange(v SessionView) {
	o.mu.RLock()
	handlers := make([]func(SessionView), 0, len(o.onChange))
	for _, h := range o.onChange {
		handlers = append(handlers, h)
	}
	o.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() { recover() }() // swallow panics in user callbacks
			h(v)
		}()
	}
}

func (o *observers) emitNotice(n Notice) {
	o.mu.RLock()
	handlers := make([]func(Notice), 0, len(o.onNotice))
	for _, h := range o.onNotice {
		handlers = append(handlers, h)
	}
	o.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() { recover() }()
			h(n)
		}()
	}
}

func (o *observers) removeAll() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onChange = make(map[int]func(SessionView))
	o.onNotice = make(map[int]func(Notice))
}
