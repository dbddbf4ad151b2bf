package udptun

import (
	"fmt"
	"sync"
	"time"

	cache "github.com/patrickmn/go-cache"
)

// Summary is the running traffic counters for one peer/connection-id
// flow, as seen from whichever side (entry or target) is recording it.
type Summary struct {
	Peer          string
	ConnID        byte
	BytesSent     uint64
	BytesRecv     uint64
	DatagramsSent uint64
	DatagramsRecv uint64
	FirstSeen     time.Time
	LastSeen      time.Time
}

// Stats is the per-peer stats aggregator: a patrickmn/go-cache-backed
// table of Summary records keyed by peer address and connection id, each
// aged out once it has gone idle for the timeout given to NewStats. That
// timeout is separate from the one governing the entry/target caches.
type Stats struct {
	mu    sync.Mutex
	cache *cache.Cache
}

// NewStats creates a Stats aggregator whose entries expire after idle.
func NewStats(idle time.Duration) *Stats {
	return &Stats{cache: cache.New(idle, idle/2)}
}

func statsKey(peer string, cid byte) string {
	return fmt.Sprintf("%s/%d", peer, cid)
}

func (s *Stats) update(peer string, cid byte, fn func(*Summary)) {
	key := statsKey(peer, cid)
	s.mu.Lock()
	defer s.mu.Unlock()

	var sum *Summary
	if v, ok := s.cache.Get(key); ok {
		sum = v.(*Summary)
	} else {
		sum = &Summary{Peer: peer, ConnID: cid, FirstSeen: time.Now()}
	}
	fn(sum)
	sum.LastSeen = time.Now()
	s.cache.SetDefault(key, sum)
}

// RecordSent records n bytes sent out on behalf of peer/cid.
func (s *Stats) RecordSent(peer string, cid byte, n int) {
	s.update(peer, cid, func(sum *Summary) {
		sum.BytesSent += uint64(n)
		sum.DatagramsSent++
	})
}

// RecordRecv records n bytes received on behalf of peer/cid.
func (s *Stats) RecordRecv(peer string, cid byte, n int) {
	s.update(peer, cid, func(sum *Summary) {
		sum.BytesRecv += uint64(n)
		sum.DatagramsRecv++
	})
}

// Snapshot returns every currently live Summary.
func (s *Stats) Snapshot() []Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.cache.Items()
	out := make([]Summary, 0, len(items))
	for _, item := range items {
		if sum, ok := item.Object.(*Summary); ok {
			out = append(out, *sum)
		}
	}
	return out
}
