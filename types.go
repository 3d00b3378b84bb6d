package flux

import (
	"errors"
	"fmt"
	"time"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError is returned when the backend answers with an HTTP error status.
type APIError struct {
	Status  int    `json:"-"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

var (
	// ErrUnsuccessful is returned when a response carries a false or missing success flag.
	ErrUnsuccessful = errors.New("request was not successful")
	// ErrNotFound is returned when a user lookup finds nothing.
	ErrNotFound = errors.New("user not found")
	// ErrNotConnected is returned when sending on a channel without a live connection.
	ErrNotConnected = errors.New("not connected")
	// ErrClosed is returned by a Session after Close.
	ErrClosed = errors.New("session closed")

	ErrNoActiveConversation = errors.New("no active conversation")
	ErrEmptyBody            = errors.New("message body is empty")
	ErrUnknownFriend        = errors.New("identity is not in the friend directory")
	ErrEmptyQuery           = errors.New("search query is empty")
	ErrNoSearchResult       = errors.New("no search result to send a request to")
	ErrAlreadyFriend        = errors.New("user is already a friend")
	ErrUnknownRequest       = errors.New("no pending request from that identity")
)

// IsNotFound reports whether err is a search miss.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// ============================================================================
// Directory Types
// ============================================================================

// Presence is a friend's live online/offline status.
type Presence string

const (
	PresenceOnline  Presence = "online"
	PresenceOffline Presence = "offline"
)

// FriendEntry is the authoritative shape of a friend returned by REST.
type FriendEntry struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"displayName"`
	LoginID     string `json:"loginId"`
}

// FriendRecord is a directory entry. Presence and UnreadCount are client-local.
type FriendRecord struct {
	Identity    string   `json:"identity"`
	DisplayName string   `json:"displayName"`
	LoginID     string   `json:"loginId"`
	Presence    Presence `json:"presence"`
	UnreadCount int      `json:"unreadCount"`
}

// PendingRequest is an incoming friend request awaiting acceptance.
type PendingRequest struct {
	SenderIdentity string `json:"senderIdentity"`
	DisplayName    string `json:"displayName"`
	LoginID        string `json:"loginId"`
}

// UserSummary is the result of a user lookup.
type UserSummary struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"displayName"`
	LoginID     string `json:"loginId"`
}

// Message is one entry of a conversation log. Immutable once created.
type Message struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

// ============================================================================
// REST Types
// ============================================================================

type pendingRequestsResult struct {
	Success         *bool            `json:"success"`
	PendingRequests []PendingRequest `json:"pendingRequests"`
}

type friendListResult struct {
	Success *bool         `json:"success"`
	Friends []FriendEntry `json:"friends"`
}

type searchResult struct {
	Success *bool        `json:"success"`
	User    *UserSummary `json:"user"`
}

type messageResult struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
}

// RegisterOptions are the fields needed to create an account.
type RegisterOptions struct {
	LoginID     string `json:"loginId"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

// RegisterResult carries the server-issued identity of a new account.
type RegisterResult struct {
	Identity string `json:"identity"`
	Message  string `json:"message,omitempty"`
}

// LoginResult carries the session token and identity of an authenticated account.
type LoginResult struct {
	Token    string `json:"token"`
	Identity string `json:"identity"`
}

// ============================================================================
// Push Event Types
// ============================================================================

// Push event names.
const (
	EventConnect          = "connect"
	EventRegisterUser     = "register_user"
	EventPrivateMessage   = "private_message"
	EventFriendStatus     = "friend_status_update"
	EventNewFriendRequest = "new_friend_request"
	EventFriendAccepted   = "friend_accepted"
)

// OutboundMessagePayload is sent with private_message.
type OutboundMessagePayload struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Body      string `json:"body"`
}

// InboundMessagePayload is received with private_message.
type InboundMessagePayload struct {
	Sender string `json:"sender"`
	Body   string `json:"body"`
}

// FriendStatusPayload is received with friend_status_update.
type FriendStatusPayload struct {
	Identity string   `json:"identity"`
	Presence Presence `json:"presence"`
}

// NewFriendRequestPayload is received with new_friend_request.
type NewFriendRequestPayload struct {
	Message string `json:"message"`
}

// FriendAcceptedPayload is received with friend_accepted.
type FriendAcceptedPayload struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"displayName"`
	LoginID     string `json:"loginId"`
}
