package udptun

import (
	"context"
	"log"
	"net"
)

// TargetDispatcher is the target-side dispatch loop:
// it owns the tunnel socket (connected to the entry, after the handshake)
// and, through a TargetCache, one dedicated socket per external flow
// connected to the real server.
type TargetDispatcher struct {
	Tunnel  *net.UDPConn
	Cache   *TargetCache
	BufSize int

	// NewFlowSocket creates and connects a fresh per-flow socket to the
	// real server. Left to the caller so the source-address pattern and
	// IP-mode selection stay out of the dispatch loop itself.
	NewFlowSocket func() (*net.UDPConn, error)

	// Stats, if non-nil, records per-flow traffic counters for the
	// reporting API.
	Stats *Stats

	// OnForward, if non-nil, is called after a datagram is successfully
	// forwarded, carrying its direction tag, peer address, connection id
	// and raw payload — drives --log-data/--print-data-buffer.
	OnForward func(direction, peer string, cid byte, payload []byte)

	poller *Poller
}

// Run drives the dispatch loop until ctx is canceled or the tunnel socket
// is closed out from under it.
func (d *TargetDispatcher) Run(ctx context.Context) error {
	if d.poller == nil {
		d.poller = NewPoller(d.BufSize)
	}
	defer d.poller.Close()

	sendBuf := make([]byte, d.BufSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		d.syncPoller()

		res, err := d.poller.Next()
		if err != nil {
			return err
		}
		if res.Err != nil {
			log.Println("target: read error:", res.Err)
			continue
		}

		if res.Tag == tunnelTag {
			d.fromTunnel(res, sendBuf)
			continue
		}
		d.fromFlow(res.Tag.(ConnID), res, sendBuf)
	}
}

// syncPoller rebuilds the poller's socket set from the current live flow
// set plus the one tunnel socket. Sync is cheap when nothing changed — it
// only starts/stops readers whose tag entered or left the set.
func (d *TargetDispatcher) syncPoller() {
	live := d.Cache.Iter()
	sources := make([]Source, 0, len(live)+1)
	sources = append(sources, Source{Tag: tunnelTag, Conn: d.Tunnel})
	for _, e := range live {
		sources = append(sources, Source{Tag: e.ID, Conn: e.Socket})
	}
	d.poller.Sync(sources)
}

// fromTunnel handles a datagram from the entry side: it must be DATA;
// find or create the per-flow socket for (sender, connection id) and
// forward the stripped payload to the real server.
func (d *TargetDispatcher) fromTunnel(res Result, sendBuf []byte) {
	if len(res.Data) == 0 {
		return
	}
	if res.Data[0] != PacketData {
		log.Println("target: unexpected packet type from tunnel:", res.Data[0])
		return
	}
	id, payload, err := ParseData(res.Data)
	if err != nil {
		log.Println("target: short DATA packet from tunnel:", err)
		return
	}

	connID := ConnID{Peer: res.Addr.String(), CID: id}
	entry := d.Cache.GetByID(connID)
	if entry == nil {
		sock, err := d.NewFlowSocket()
		if err != nil {
			log.Println("target: creating flow socket for", connID, ":", err)
			return
		}
		entry = d.Cache.Insert(connID, sock)
	}
	if _, err := entry.Socket.Write(payload); err != nil {
		log.Println("target: writing to real server for", connID, ":", err)
		return
	}
	if d.Stats != nil {
		d.Stats.RecordSent(connID.Peer, connID.CID, len(payload))
	}
	if d.OnForward != nil {
		d.OnForward("tunnel->target", connID.Peer, connID.CID, payload)
	}
}

// fromFlow handles a datagram read from the real server on a per-flow
// socket: frame it as DATA with the flow's connection id and relay it
// back over the tunnel.
func (d *TargetDispatcher) fromFlow(id ConnID, res Result, sendBuf []byte) {
	n := copy(sendBuf[headerLen:], res.Data)
	size := FrameData(sendBuf, id.CID, n)
	if _, err := d.Tunnel.Write(sendBuf[:size]); err != nil {
		log.Println("target: writing to tunnel for", id, ":", err)
		return
	}
	if d.Stats != nil {
		d.Stats.RecordRecv(id.Peer, id.CID, n)
	}
	if d.OnForward != nil {
		d.OnForward("target->tunnel", id.Peer, id.CID, res.Data[:n])
	}
}
