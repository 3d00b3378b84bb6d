package flux

// ============================================================================
// Directory Store
// ============================================================================

// MergeSnapshot builds a new directory from a REST friend-list snapshot.
//
// Every fetched entry gets a fresh record (offline, no unread). Identities also
// present in existing keep their presence and unread count; authoritative fields
// are replaced. Identities missing from fetched are dropped. existing is not
// modified.
func MergeSnapshot(existing map[string]FriendRecord, fetched []FriendEntry) map[string]FriendRecord {
	merged := make(map[string]FriendRecord, len(fetched))
	for _, f := range fetched {
		merged[f.Identity] = FriendRecord{
			Identity:    f.Identity,
			DisplayName: f.DisplayName,
			LoginID:     f.LoginID,
			Presence:    PresenceOffline,
		}
	}
	for id, rec := range merged {
		if prev, ok := existing[id]; ok {
			rec.Presence = prev.Presence
			rec.UnreadCount = prev.UnreadCount
			merged[id] = rec
		}
	}
	return merged
}

// Directory maps friend identity to FriendRecord. It is not safe for
// concurrent use; a Session owns it from its event loop.
type Directory struct {
	records map[string]FriendRecord
}

// NewDirectory returns an empty directory.
func NewDirectory() *Directory {
	return &Directory{records: make(map[string]FriendRecord)}
}

// Merge replaces the directory with MergeSnapshot(current, fetched).
func (d *Directory) Merge(fetched []FriendEntry) {
	d.records = MergeSnapshot(d.records, fetched)
}

// ApplyPresence overwrites the presence of a known identity. Unknown identities
// are left out so that stale keys are never resurrected.
func (d *Directory) ApplyPresence(identity string, p Presence) bool {
	rec, ok := d.records[identity]
	if !ok {
		return false
	}
	rec.Presence = p
	d.records[identity] = rec
	return true
}

// ApplyAcceptedElsewhere inserts a friend who accepted our request, overwriting
// any existing entry. The peer just acted, so it starts online.
func (d *Directory) ApplyAcceptedElsewhere(e FriendEntry) {
	d.records[e.Identity] = FriendRecord{
		Identity:    e.Identity,
		DisplayName: e.DisplayName,
		LoginID:     e.LoginID,
		Presence:    PresenceOnline,
	}
}

// AddAccepted converts a locally accepted request into a record when absent.
func (d *Directory) AddAccepted(req PendingRequest) {
	if _, ok := d.records[req.SenderIdentity]; ok {
		return
	}
	d.records[req.SenderIdentity] = FriendRecord{
		Identity:    req.SenderIdentity,
		DisplayName: req.DisplayName,
		LoginID:     req.LoginID,
		Presence:    PresenceOffline,
	}
}

// IncrementUnread bumps the unread counter of a known identity.
func (d *Directory) IncrementUnread(identity string) bool {
	rec, ok := d.records[identity]
	if !ok {
		return false
	}
	rec.UnreadCount++
	d.records[identity] = rec
	return true
}

// ClearUnread resets the unread counter of a known identity.
func (d *Directory) ClearUnread(identity string) {
	if rec, ok := d.records[identity]; ok {
		rec.UnreadCount = 0
		d.records[identity] = rec
	}
}

func (d *Directory) Get(identity string) (FriendRecord, bool) {
	rec, ok := d.records[identity]
	return rec, ok
}

func (d *Directory) Has(identity string) bool {
	_, ok := d.records[identity]
	return ok
}

func (d *Directory) Len() int { return len(d.records) }

// Snapshot returns a copy of the directory.
func (d *Directory) Snapshot() map[string]FriendRecord {
	out := make(map[string]FriendRecord, len(d.records))
	for k, v := range d.records {
		out[k] = v
	}
	return out
}
