package udptun

import (
	"errors"
	"net"
	"sort"
	"sync"
	"time"
)

// ErrNoFreeSlots is returned by EntryCache.Insert/GetOrInsertByAddr when all
// 256 connection ids are in use by live entries.
var ErrNoFreeSlots = errors.New("udptun: no free connection-id slots")

// SocketID is a single entry in the entry-side connection cache: a
// connection id bound to the external peer address it was assigned to.
type SocketID struct {
	ID   byte
	Addr net.Addr
}

type entryEntry struct {
	id         byte
	addr       net.Addr
	addrKey    string
	lastAccess time.Time
}

// entryExpiredKey names both index axes of an entry flagged pending-expired,
// so Cleanup can remove it from both without re-deriving anything.
type entryExpiredKey struct {
	id      byte
	addrKey string
}

// EntryCache is the entry-side connection-id cache. It
// maintains a bijection between one-byte connection ids and external peer
// addresses, reclaiming ids on an idle timeout.
//
// Lookups observe expiry but do not mutate the index structures directly;
// an expired entry is recorded in the pending set and only removed from the
// live indexes by the next Insert or Cleanup call. This mirrors the
// original's RefCell-based "deferred deletion across shared reads" design.
type EntryCache struct {
	mu      sync.Mutex
	timeout time.Duration
	ids     []byte // sorted ascending, the live id set
	byID    map[byte]*entryEntry
	byAddr  map[string]*entryEntry
	pending map[entryExpiredKey]struct{}
}

// NewEntryCache creates an EntryCache with the given idle timeout.
func NewEntryCache(timeout time.Duration) *EntryCache {
	return &EntryCache{
		timeout: timeout,
		byID:    make(map[byte]*entryEntry),
		byAddr:  make(map[string]*entryEntry),
		pending: make(map[entryExpiredKey]struct{}),
	}
}

// Insert assigns id (or, if id is nil, the lowest free id) to addr,
// replacing any existing entry with the same id. It runs Cleanup first, as
// required for Insert to observe an accurate free-id set.
func (c *EntryCache) Insert(id *byte, addr net.Addr) (SocketID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupLocked()

	var assigned byte
	if id != nil {
		assigned = *id
	} else {
		free, ok := c.nextFreeIDLocked()
		if !ok {
			return SocketID{}, ErrNoFreeSlots
		}
		assigned = free
	}

	addrKey := addr.String()
	if old, ok := c.byID[assigned]; ok && old.addrKey != addrKey {
		delete(c.byAddr, old.addrKey)
	}
	if old, ok := c.byAddr[addrKey]; ok && old.id != assigned {
		delete(c.byID, old.id)
		c.removeIDLocked(old.id)
	}

	c.insertIDLocked(assigned)
	e := &entryEntry{
		id:         assigned,
		addr:       addr,
		addrKey:    addrKey,
		lastAccess: time.Now(),
	}
	c.byAddr[e.addrKey] = e
	c.byID[assigned] = e
	return SocketID{ID: assigned, Addr: addr}, nil
}

// GetOrInsertByAddr returns the existing live entry for addr, or inserts a
// freshly allocated one if none exists (or the existing one expired).
func (c *EntryCache) GetOrInsertByAddr(addr net.Addr) (SocketID, error) {
	if sid, ok := c.GetByAddr(addr); ok {
		return sid, nil
	}
	return c.Insert(nil, addr)
}

// GetByID returns the live entry for id, or false if absent or expired. An
// expired entry is flagged for deferred deletion and never revived.
func (c *EntryCache) GetByID(id byte) (SocketID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.byID[id]
	if !ok {
		return SocketID{}, false
	}
	return c.prepareLocked(e)
}

// GetByAddr returns the live entry for addr, or false if absent or expired.
func (c *EntryCache) GetByAddr(addr net.Addr) (SocketID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.byAddr[addr.String()]
	if !ok {
		return SocketID{}, false
	}
	return c.prepareLocked(e)
}

// prepareLocked checks e's idle time against the timeout. If expired it
// flags e for deferred removal and returns false without reviving it;
// otherwise it renews last_access and returns the live SocketID.
func (c *EntryCache) prepareLocked(e *entryEntry) (SocketID, bool) {
	now := time.Now()
	if now.Sub(e.lastAccess) > c.timeout {
		c.pending[entryExpiredKey{id: e.id, addrKey: e.addrKey}] = struct{}{}
		return SocketID{}, false
	}
	e.lastAccess = now
	return SocketID{ID: e.id, Addr: e.addr}, true
}

// Cleanup drains the pending-expired set, removing each entry from both
// indexes and from the sorted id sequence.
func (c *EntryCache) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupLocked()
}

func (c *EntryCache) cleanupLocked() {
	for k := range c.pending {
		c.removeIDLocked(k.id)
		delete(c.byID, k.id)
		delete(c.byAddr, k.addrKey)
		delete(c.pending, k)
	}
}

// nextFreeIDLocked returns the smallest non-negative id not present in the
// sorted live-id slice: the first index i where ids[i] != i, or len(ids) if
// no such gap exists. Fails once all 256 ids are live.
func (c *EntryCache) nextFreeIDLocked() (byte, bool) {
	for i, v := range c.ids {
		if v != byte(i) {
			return byte(i), true
		}
	}
	if len(c.ids) >= 256 {
		return 0, false
	}
	return byte(len(c.ids)), true
}

func (c *EntryCache) insertIDLocked(id byte) {
	pos := sort.Search(len(c.ids), func(i int) bool { return c.ids[i] >= id })
	if pos < len(c.ids) && c.ids[pos] == id {
		return // already present, e.g. re-insert on the same id
	}
	c.ids = append(c.ids, 0)
	copy(c.ids[pos+1:], c.ids[pos:])
	c.ids[pos] = id
}

func (c *EntryCache) removeIDLocked(id byte) {
	pos := sort.Search(len(c.ids), func(i int) bool { return c.ids[i] >= id })
	if pos >= len(c.ids) || c.ids[pos] != id {
		return
	}
	c.ids = append(c.ids[:pos], c.ids[pos+1:]...)
}
