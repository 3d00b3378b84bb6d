package flux

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// History Cache
// ============================================================================

// History keeps one append-only conversation log per peer identity. Order is
// client insertion order; logs are never truncated or reordered.
type History struct {
	logs map[string][]Message
	now  func() time.Time
}

func NewHistory() *History {
	return &History{
		logs: make(map[string][]Message),
		now:  time.Now,
	}
}

// newMessage stamps a message with a local ID and the local clock.
func (h *History) newMessage(sender, recipient, body string) Message {
	return Message{
		ID:        uuid.NewString(),
		Sender:    sender,
		Recipient: recipient,
		Body:      body,
		Timestamp: h.now(),
	}
}

// Append adds m to the log of peer and returns it.
func (h *History) Append(peer string, m Message) Message {
	h.logs[peer] = append(h.logs[peer], m)
	return m
}

// Log returns a copy of the conversation with peer, or nil when there is none.
func (h *History) Log(peer string) []Message {
	log, ok := h.logs[peer]
	if !ok {
		return nil
	}
	return append([]Message(nil), log...)
}

func (h *History) Len(peer string) int { return len(h.logs[peer]) }

// Peers returns the identities that have a conversation log.
func (h *History) Peers() []string {
	peers := make([]string, 0, len(h.logs))
	for p := range h.logs {
		peers = append(peers, p)
	}
	return peers
}

// Search returns up to limit messages whose body contains query, case-insensitively.
// An empty peer searches every conversation.
func (h *History) Search(query, peer string, limit int) []Message {
	q := strings.ToLower(query)
	var results []Message
	match := func(log []Message) bool {
		for _, m := range log {
			if strings.Contains(strings.ToLower(m.Body), q) {
				results = append(results, m)
				if len(results) >= limit {
					return true
				}
			}
		}
		return false
	}
	if peer != "" {
		match(h.logs[peer])
		return results
	}
	for _, log := range h.logs {
		if match(log) {
			break
		}
	}
	return results
}
