package flux

// RequestQueue holds pending incoming friend requests in server order.
// Like Directory, it is owned by a Session's event loop.
type RequestQueue struct {
	items []PendingRequest
}

func NewRequestQueue() *RequestQueue {
	return &RequestQueue{}
}

// Replace installs a fresh REST snapshot. Duplicate senders keep their first entry.
func (q *RequestQueue) Replace(reqs []PendingRequest) {
	seen := make(map[string]bool, len(reqs))
	items := make([]PendingRequest, 0, len(reqs))
	for _, r := range reqs {
		if r.SenderIdentity == "" || seen[r.SenderIdentity] {
			continue
		}
		seen[r.SenderIdentity] = true
		items = append(items, r)
	}
	q.items = items
}

func (q *RequestQueue) Get(sender string) (PendingRequest, bool) {
	for _, r := range q.items {
		if r.SenderIdentity == sender {
			return r, true
		}
	}
	return PendingRequest{}, false
}

// Remove drops the request from sender, reporting whether it was present.
func (q *RequestQueue) Remove(sender string) bool {
	for i, r := range q.items {
		if r.SenderIdentity == sender {
			q.items = append(q.items[:i:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

func (q *RequestQueue) Len() int { return len(q.items) }

func (q *RequestQueue) Snapshot() []PendingRequest {
	return append([]PendingRequest{}, q.items...)
}
