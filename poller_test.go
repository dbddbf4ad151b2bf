package udptun

import (
	"net"
	"testing"
	"time"
)

func mustListenUDP(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatal(err)
	}
	return conn
}

func TestPollerDeliversDatagram(t *testing.T) {
	p := NewPoller(2048)
	defer p.Close()

	recv := mustListenUDP(t)
	defer recv.Close()
	p.Sync([]Source{{Tag: "a", Conn: recv}})

	send, err := net.DialUDP("udp", nil, recv.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatal(err)
	}
	defer send.Close()
	if _, err := send.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}

	res, err := p.Next()
	if err != nil {
		t.Fatal(err)
	}
	if res.Tag != "a" || string(res.Data) != "hello" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestPollerServesAllRegisteredSockets(t *testing.T) {
	p := NewPoller(2048)
	defer p.Close()

	const n = 4
	conns := make([]*net.UDPConn, n)
	sources := make([]Source, n)
	for i := 0; i < n; i++ {
		conns[i] = mustListenUDP(t)
		defer conns[i].Close()
		sources[i] = Source{Tag: i, Conn: conns[i]}
	}
	p.Sync(sources)

	for i := 0; i < n; i++ {
		send, err := net.DialUDP("udp", nil, conns[i].LocalAddr().(*net.UDPAddr))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := send.Write([]byte{byte(i)}); err != nil {
			t.Fatal(err)
		}
		send.Close()
	}

	seen := make(map[int]bool)
	for i := 0; i < n; i++ {
		res, err := p.Next()
		if err != nil {
			t.Fatal(err)
		}
		tag, ok := res.Tag.(int)
		if !ok {
			t.Fatalf("unexpected tag type: %+v", res.Tag)
		}
		seen[tag] = true
	}
	if len(seen) != n {
		t.Fatalf("expected all %d sockets served, got %d: %v", n, len(seen), seen)
	}
}

func TestPollerSyncRemovesStaleSources(t *testing.T) {
	p := NewPoller(2048)
	defer p.Close()

	a := mustListenUDP(t)
	defer a.Close()
	p.Sync([]Source{{Tag: "a", Conn: a}})
	p.Sync(nil)

	p.mu.Lock()
	remaining := len(p.readers)
	p.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected 0 readers after Sync(nil), got %d", remaining)
	}
}

func TestPollerNextWithNoSourcesErrors(t *testing.T) {
	p := NewPoller(2048)
	defer p.Close()
	if _, err := p.Next(); err != ErrNoSources {
		t.Fatalf("expected ErrNoSources, got %v", err)
	}
}

func TestPollerFairnessAcrossManyRounds(t *testing.T) {
	p := NewPoller(2048)
	defer p.Close()

	const n = 3
	conns := make([]*net.UDPConn, n)
	sends := make([]*net.UDPConn, n)
	sources := make([]Source, n)
	for i := 0; i < n; i++ {
		conns[i] = mustListenUDP(t)
		defer conns[i].Close()
		sources[i] = Source{Tag: i, Conn: conns[i]}
		send, err := net.DialUDP("udp", nil, conns[i].LocalAddr().(*net.UDPAddr))
		if err != nil {
			t.Fatal(err)
		}
		sends[i] = send
		defer send.Close()
	}
	p.Sync(sources)

	counts := make([]int, n)
	const rounds = 60
	for round := 0; round < rounds; round++ {
		for i := 0; i < n; i++ {
			if _, err := sends[i].Write([]byte{byte(round)}); err != nil {
				t.Fatal(err)
			}
		}
		// give the kernel a moment to make all three sockets readable at once
		time.Sleep(2 * time.Millisecond)
		for i := 0; i < n; i++ {
			res, err := p.Next()
			if err != nil {
				t.Fatal(err)
			}
			counts[res.Tag.(int)]++
		}
	}
	for i, c := range counts {
		if c == 0 {
			t.Fatalf("socket %d was never served across %d rounds", i, rounds)
		}
	}
}
