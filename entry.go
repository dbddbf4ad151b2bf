package udptun

import (
	"context"
	"log"
	"net"
)

const tunnelTag = "tunnel"
const externalTag = "external"

// EntryDispatcher is the entry-side dispatch loop: it
// owns the tunnel socket (connected to one target, after the handshake)
// and the external-facing socket external clients send to, and shuttles
// datagrams between them through an EntryCache.
type EntryDispatcher struct {
	Tunnel   *net.UDPConn
	External *net.UDPConn
	Cache    *EntryCache
	BufSize  int

	// Stats, if non-nil, records per-flow traffic counters for the
	// reporting API. Entirely optional — nothing in the dispatch path
	// depends on it being set.
	Stats *Stats

	// OnForward, if non-nil, is called after a datagram is successfully
	// forwarded, carrying its direction tag, peer address, connection id
	// and raw payload — drives --log-data/--print-data-buffer.
	OnForward func(direction, peer string, cid byte, payload []byte)

	poller *Poller
}

// Run drives the dispatch loop until ctx is canceled or a socket is
// closed out from under it. Each iteration reads exactly one datagram.
func (d *EntryDispatcher) Run(ctx context.Context) error {
	if d.poller == nil {
		d.poller = NewPoller(d.BufSize)
		d.poller.Sync([]Source{
			{Tag: tunnelTag, Conn: d.Tunnel},
			{Tag: externalTag, Conn: d.External},
		})
	}
	defer d.poller.Close()

	sendBuf := make([]byte, d.BufSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		res, err := d.poller.Next()
		if err != nil {
			return err
		}
		if res.Err != nil {
			log.Println("entry: read error:", res.Err)
			continue
		}

		switch res.Tag {
		case externalTag:
			d.fromExternal(res, sendBuf)
		case tunnelTag:
			d.fromTunnel(res, sendBuf)
		}
	}
}

// fromExternal handles a datagram received from an external client: look
// up or assign a connection id for its address, frame it as DATA, and
// forward to the tunnel.
func (d *EntryDispatcher) fromExternal(res Result, sendBuf []byte) {
	sid, err := d.Cache.GetOrInsertByAddr(res.Addr)
	if err != nil {
		log.Println("entry: no free connection ids, dropping datagram from", res.Addr, ":", err)
		return
	}
	n := copy(sendBuf[headerLen:], res.Data)
	size := FrameData(sendBuf, sid.ID, n)
	if _, err := d.Tunnel.Write(sendBuf[:size]); err != nil {
		log.Println("entry: writing to tunnel:", err)
		return
	}
	if d.Stats != nil {
		d.Stats.RecordSent(res.Addr.String(), sid.ID, n)
	}
	if d.OnForward != nil {
		d.OnForward("external->tunnel", res.Addr.String(), sid.ID, res.Data)
	}
}

// fromTunnel handles a datagram received from the tunnel: it must be
// DATA; look up the external client for its connection id and relay the
// stripped payload there unmodified.
func (d *EntryDispatcher) fromTunnel(res Result, sendBuf []byte) {
	if len(res.Data) == 0 {
		return
	}
	switch res.Data[0] {
	case PacketData:
		id, payload, err := ParseData(res.Data)
		if err != nil {
			log.Println("entry: short DATA packet from tunnel:", err)
			return
		}
		sid, ok := d.Cache.GetByID(id)
		if !ok {
			log.Println("entry: unknown connection id", id, "from tunnel, dropping")
			return
		}
		if _, err := d.External.WriteTo(payload, sid.Addr); err != nil {
			log.Println("entry: writing to external client", sid.Addr, ":", err)
			return
		}
		if d.Stats != nil {
			d.Stats.RecordRecv(sid.Addr.String(), id, len(payload))
		}
		if d.OnForward != nil {
			d.OnForward("tunnel->external", sid.Addr.String(), id, payload)
		}
	default:
		log.Println("entry: unexpected packet type from tunnel:", res.Data[0])
	}
}
