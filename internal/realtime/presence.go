package realtime

// Tracker maintains the user → connection-set multimap. A user appears in
// the map iff their set is non-empty, so "online" is exactly map membership.
// Owned by the reactor goroutine; no locking.
type Tracker struct {
	online map[int64]map[string]struct{} // user id -> connection ids
	byConn map[string]int64              // connection id -> user id
}

func newTracker() *Tracker {
	return &Tracker{
		online: make(map[int64]map[string]struct{}),
		byConn: make(map[string]int64),
	}
}

// register adds a connection to a user's set and reports whether the user
// just came online (first connection). A connection previously owned by a
// different user is released from that user first.
func (t *Tracker) register(userID int64, connID string) (first bool) {
	if prev, ok := t.byConn[connID]; ok && prev != userID {
		t.unregister(connID)
	}
	set, ok := t.online[userID]
	if !ok {
		set = make(map[string]struct{})
		t.online[userID] = set
		first = true
	}
	set[connID] = struct{}{}
	t.byConn[connID] = userID
	return first
}

// unregister removes a connection from whichever user owns it. It reports
// the owning user and whether that user just went offline (last connection).
// A connection that was never registered is a no-op.
func (t *Tracker) unregister(connID string) (userID int64, last bool) {
	userID, ok := t.byConn[connID]
	if !ok {
		return 0, false
	}
	delete(t.byConn, connID)

	set := t.online[userID]
	delete(set, connID)
	if len(set) == 0 {
		delete(t.online, userID)
		return userID, true
	}
	return userID, false
}

// connections returns the connection ids of a user, or nil when offline.
func (t *Tracker) connections(userID int64) map[string]struct{} {
	return t.online[userID]
}

// isOnline reports whether the user has at least one connection.
func (t *Tracker) isOnline(userID int64) bool {
	return len(t.online[userID]) > 0
}

// onlineCount returns the number of online users.
func (t *Tracker) onlineCount() int { return len(t.online) }
