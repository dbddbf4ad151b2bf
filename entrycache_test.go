package udptun

import (
	"net"
	"strconv"
	"testing"
	"time"
)

func addr(s string) *net.UDPAddr {
	a, err := net.ResolveUDPAddr("udp", s)
	if err != nil {
		panic(err)
	}
	return a
}

func TestEntryCacheInsertAssignsLowestFreeID(t *testing.T) {
	c := NewEntryCache(time.Minute)
	sid, err := c.Insert(nil, addr("1.2.3.4:1000"))
	if err != nil {
		t.Fatal(err)
	}
	if sid.ID != 0 {
		t.Errorf("expected id 0, got %d", sid.ID)
	}
	sid2, err := c.Insert(nil, addr("1.2.3.4:1001"))
	if err != nil {
		t.Fatal(err)
	}
	if sid2.ID != 1 {
		t.Errorf("expected id 1, got %d", sid2.ID)
	}
}

func TestEntryCacheBijection(t *testing.T) {
	c := NewEntryCache(time.Minute)
	a := addr("10.0.0.1:1")
	sid, err := c.Insert(nil, a)
	if err != nil {
		t.Fatal(err)
	}
	byID, ok := c.GetByID(sid.ID)
	if !ok || byID.Addr.String() != a.String() {
		t.Fatalf("GetByID mismatch: %+v", byID)
	}
	byAddr, ok := c.GetByAddr(a)
	if !ok || byAddr.ID != sid.ID {
		t.Fatalf("GetByAddr mismatch: %+v", byAddr)
	}
}

func TestEntryCacheGetOrInsertByAddrIsIdempotent(t *testing.T) {
	c := NewEntryCache(time.Minute)
	a := addr("10.0.0.2:2")
	first, err := c.GetOrInsertByAddr(a)
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.GetOrInsertByAddr(a)
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Errorf("expected same id on repeat lookup, got %d then %d", first.ID, second.ID)
	}
}

func TestEntryCacheExpiryIsNotRevivedAndIDIsReclaimed(t *testing.T) {
	c := NewEntryCache(10 * time.Millisecond)
	a := addr("10.0.0.3:3")
	sid, err := c.Insert(nil, a)
	if err != nil {
		t.Fatal(err)
	}
	if sid.ID != 0 {
		t.Fatalf("expected id 0, got %d", sid.ID)
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.GetByID(sid.ID); ok {
		t.Fatal("expected expired entry to not be returned")
	}
	if _, ok := c.GetByAddr(a); ok {
		t.Fatal("expected expired entry to not be returned by addr either")
	}
	// Next insert triggers cleanup and should reclaim id 0 for a new peer.
	b := addr("10.0.0.4:4")
	sid2, err := c.Insert(nil, b)
	if err != nil {
		t.Fatal(err)
	}
	if sid2.ID != 0 {
		t.Errorf("expected reclaimed id 0, got %d", sid2.ID)
	}
}

func TestEntryCacheLookupRenewsLastAccess(t *testing.T) {
	c := NewEntryCache(30 * time.Millisecond)
	a := addr("10.0.0.5:5")
	sid, err := c.Insert(nil, a)
	if err != nil {
		t.Fatal(err)
	}
	// Keep touching the entry just under the timeout; it should survive.
	for i := 0; i < 3; i++ {
		time.Sleep(15 * time.Millisecond)
		if _, ok := c.GetByID(sid.ID); !ok {
			t.Fatalf("entry expired early on iteration %d", i)
		}
	}
}

func TestEntryCacheFullTableRejectsThe257th(t *testing.T) {
	c := NewEntryCache(time.Hour)
	for i := 0; i < 256; i++ {
		_, err := c.Insert(nil, addr("10.1.0.1:"+strconv.Itoa(i+1)))
		if err != nil {
			t.Fatalf("insert %d: unexpected error: %v", i, err)
		}
	}
	_, err := c.Insert(nil, addr("10.1.0.1:9999"))
	if err != ErrNoFreeSlots {
		t.Fatalf("expected ErrNoFreeSlots, got %v", err)
	}
	// Existing 256 entries must still be reachable.
	sid, ok := c.GetByID(0)
	if !ok || sid.Addr.String() != "10.1.0.1:1" {
		t.Fatalf("existing entry 0 not intact: %+v ok=%v", sid, ok)
	}
}
