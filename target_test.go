package udptun

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestTargetDispatcherRoundTrip(t *testing.T) {
	// Fake real server the target dispatcher forwards to.
	server, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatal(err)
	}
	defer server.Close()

	tunnelA, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatal(err)
	}
	tunnelB, err := net.DialUDP("udp", nil, tunnelA.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatal(err)
	}
	defer tunnelA.Close()
	defer tunnelB.Close()

	serverAddr := server.LocalAddr().(*net.UDPAddr)
	d := &TargetDispatcher{
		Tunnel:  tunnelB,
		Cache:   NewTargetCache(time.Minute),
		BufSize: 2048,
		NewFlowSocket: func() (*net.UDPConn, error) {
			return net.DialUDP("udp", nil, serverAddr)
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	// Entry side sends a framed DATA packet for a brand new connection id.
	pkt := []byte{PacketData, 5, 'h', 'i'}
	if _, err := tunnelA.WriteToUDP(pkt, tunnelB.LocalAddr().(*net.UDPAddr)); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 64)
	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, clientAddr, err := server.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("read on fake server: %v", err)
	}
	if string(buf[:n]) != "hi" {
		t.Fatalf("expected hi, got %q", buf[:n])
	}

	// Server replies; target dispatcher should frame it back with cid 5.
	if _, err := server.WriteToUDP([]byte("there"), clientAddr); err != nil {
		t.Fatal(err)
	}
	tunnelA.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err = tunnelA.Read(buf)
	if err != nil {
		t.Fatalf("read on fake entry peer: %v", err)
	}
	if buf[0] != PacketData || buf[1] != 5 {
		t.Fatalf("expected DATA cid=5, got % X", buf[:n])
	}
	if string(buf[2:n]) != "there" {
		t.Fatalf("expected there, got %q", buf[2:n])
	}
}

func TestTargetDispatcherReusesExistingFlow(t *testing.T) {
	server, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatal(err)
	}
	defer server.Close()

	tunnelA, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatal(err)
	}
	tunnelB, err := net.DialUDP("udp", nil, tunnelA.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatal(err)
	}
	defer tunnelA.Close()
	defer tunnelB.Close()

	serverAddr := server.LocalAddr().(*net.UDPAddr)
	calls := 0
	cache := NewTargetCache(time.Minute)
	d := &TargetDispatcher{
		Tunnel:  tunnelB,
		Cache:   cache,
		BufSize: 2048,
		NewFlowSocket: func() (*net.UDPConn, error) {
			calls++
			return net.DialUDP("udp", nil, serverAddr)
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	send := func(payload string) {
		pkt := append([]byte{PacketData, 9}, []byte(payload)...)
		if _, err := tunnelA.WriteToUDP(pkt, tunnelB.LocalAddr().(*net.UDPAddr)); err != nil {
			t.Fatal(err)
		}
		buf := make([]byte, 64)
		server.SetReadDeadline(time.Now().Add(2 * time.Second))
		if _, _, err := server.ReadFromUDP(buf); err != nil {
			t.Fatalf("read on fake server: %v", err)
		}
	}
	send("one")
	send("two")

	if calls != 1 {
		t.Fatalf("expected exactly 1 flow socket created for repeated cid, got %d", calls)
	}
}
