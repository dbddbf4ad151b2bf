// udptun bridges external UDP clients to one real UDP server across an
// intermediate tunnel link, multiplexing every client conversation
// behind a one-byte connection id. Run with --target to act as the
// target-side process next to the real server, or --entry to act as
// the entry-side process external clients talk to.
package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dropbox/go-udptun"
)

var (
	targetAddr = flag.String("target", "", "-T: real server address; this process runs the target role")
	entryAddr  = flag.String("entry", "", "-E: external bind address; this process runs the entry role")

	listenAddr = flag.String("listen", "", "-l: bind the tunnel socket here, making this side passive")
	remoteAddr = flag.String("remote", "", "-r: peer tunnel address, making this side active")

	timeoutSecs = flag.Int64("timeout", 3600, "-x: connection-id/flow idle timeout, in seconds")
	bufSize     = flag.Int("bufsize", udptun.DefaultBufSize, "-b: shared datagram buffer size; datagrams longer than this minus 2 bytes are truncated")
	recvBufSize = flag.Int("recv-buffer-size", 0, "kernel SO_RCVBUF for the tunnel/external/flow sockets, in bytes (0 leaves the OS default)")
	ipv4Only    = flag.Bool("4", false, "restrict to IPv4")
	ipv6Only    = flag.Bool("6", false, "restrict to IPv6")

	sourceFormat = flag.String("source-format", "", "target only: random per-flow source address pattern")

	logData       = flag.Bool("log-data", false, "-L: log one line per forwarded datagram")
	dataFormat    = flag.String("format", udptun.DefaultDataLogFormat, "-f: --log-data column format")
	printDataBuf  = flag.Bool("print-data-buffer", false, "-B: additionally hex-dump every forwarded datagram")
	verbose       = flag.Bool("verbose", false, "-v: verbose logging (repeatable)")
	connectTimout = flag.Int64("connect-timeout", 10, "active-side handshake timeout, in seconds")

	reportBind     = flag.String("report-bind", "", "enable the reporting API on the given address")
	reportInterval = flag.Int64("report-interval", 30, "stats entry idle timeout, in seconds")
	reportConfig   = flag.String("report-config", "", "load reporting config from this YAML file instead of flags")
)

func ipMode() udptun.IPMode {
	switch {
	case *ipv4Only && *ipv6Only:
		log.Fatal("udptun: -4 and -6 are mutually exclusive")
	case *ipv4Only:
		return udptun.IPModeV4Only
	case *ipv6Only:
		return udptun.IPModeV6Only
	}
	return udptun.IPModeBoth
}

func main() {
	flag.StringVar(targetAddr, "T", *targetAddr, "alias for --target")
	flag.StringVar(entryAddr, "E", *entryAddr, "alias for --entry")
	flag.StringVar(listenAddr, "l", *listenAddr, "alias for --listen")
	flag.StringVar(remoteAddr, "r", *remoteAddr, "alias for --remote")
	flag.Int64Var(timeoutSecs, "x", *timeoutSecs, "alias for --timeout")
	flag.IntVar(bufSize, "b", *bufSize, "alias for --bufsize")
	flag.BoolVar(logData, "L", *logData, "alias for --log-data")
	flag.StringVar(dataFormat, "f", *dataFormat, "alias for --format")
	flag.BoolVar(printDataBuf, "B", *printDataBuf, "alias for --print-data-buffer")
	flag.BoolVar(verbose, "v", *verbose, "alias for --verbose")
	flag.Parse()

	if (*targetAddr == "") == (*entryAddr == "") {
		log.Println("ERROR: exactly one of --target/-T or --entry/-E is required")
		os.Exit(1)
	}
	if *listenAddr == "" && *remoteAddr == "" {
		log.Println("ERROR: at least one of --listen/-l or --remote/-r is required")
		os.Exit(1)
	}

	mode := ipMode()
	idleTimeout := time.Duration(*timeoutSecs) * time.Second

	tunnel, active, err := dialTunnel(mode)
	if err != nil {
		log.Fatal("udptun: ", err)
	}
	if err := handshake(tunnel, active); err != nil {
		switch err.(type) {
		case *udptun.ErrHandshakeMismatch, *udptun.ErrHandshakeTimeout:
			log.Println("udptun: ", err)
			os.Exit(2)
		default:
			log.Fatal("udptun: ", err)
		}
	}
	if *verbose {
		log.Println("udptun: handshake complete, tunnel peer", tunnel.RemoteAddr())
	}

	var rc *udptun.ReportingConfig
	if *reportConfig != "" {
		rc = loadReportingConfig(*reportConfig)
	}

	var stats *udptun.Stats
	if *reportBind != "" || *reportConfig != "" {
		stats = udptun.NewStats(reportIntervalFor(rc))
	}

	onForward, err := buildOnForward()
	if err != nil {
		log.Fatal("udptun: ", err)
	}

	if stats != nil {
		bind := *reportBind
		if rc != nil && rc.Report.Bind != "" {
			bind = rc.Report.Bind
		}
		api := udptun.NewReportAPI(stats, bind)
		api.Run()
	}

	ctx, cancel := context.WithCancel(context.Background())
	go waitForSignal(cancel)

	if *targetAddr != "" {
		err = runTarget(ctx, tunnel, mode, idleTimeout, stats, onForward)
	} else {
		err = runEntry(ctx, tunnel, mode, idleTimeout, stats, onForward)
	}
	if err != nil && ctx.Err() == nil {
		log.Fatal("udptun: ", err)
	}
}

// dialTunnel sets up the tunnel socket per --listen/--remote and reports
// whether this process plays the active (dialing) handshake role.
func dialTunnel(mode udptun.IPMode) (*net.UDPConn, bool, error) {
	if *remoteAddr != "" {
		raddr, err := net.ResolveUDPAddr("udp", *remoteAddr)
		if err != nil {
			return nil, false, err
		}
		conn, err := net.DialUDP("udp", nil, raddr)
		if err != nil {
			return nil, false, err
		}
		if err := applyRecvBufferSize(conn); err != nil {
			return nil, false, err
		}
		return conn, true, nil
	}
	conn, err := udptun.ListenReusableUDP(context.Background(), mode, *listenAddr)
	if err != nil {
		return nil, false, err
	}
	if err := applyRecvBufferSize(conn); err != nil {
		return nil, false, err
	}
	return conn, false, nil
}

// applyRecvBufferSize sets conn's kernel receive buffer per
// --recv-buffer-size, or does nothing when the flag is left at its zero
// default.
func applyRecvBufferSize(conn *net.UDPConn) error {
	if *recvBufSize <= 0 {
		return nil
	}
	return udptun.SetRecvBufferSize(conn, *recvBufSize)
}

// handshake runs the active or passive side of the tunnel handshake,
// depending on which side of --listen/--remote this process is on.
func handshake(tunnel *net.UDPConn, active bool) error {
	role := udptun.RoleClient
	if *targetAddr != "" {
		role = udptun.RoleServer
	}
	peerRole := udptun.RoleServer
	if role == udptun.RoleServer {
		peerRole = udptun.RoleClient
	}

	buf := make([]byte, 3)
	if active {
		timeout := time.Duration(*connectTimout) * time.Second
		return udptun.SendConnect(tunnel, buf, peerRole, timeout)
	}

	readBuf := make([]byte, 1)
	n, sender, err := tunnel.ReadFromUDP(readBuf)
	if err != nil {
		return err
	}
	if n != 1 || readBuf[0] != udptun.PacketConnect {
		return &udptun.ErrHandshakeMismatch{Got: readBuf[:n]}
	}
	return udptun.RespondConnect(tunnel, sender, buf, role)
}

// buildOnForward assembles the dispatcher's per-datagram hook from
// --log-data/--format and --print-data-buffer. Returns nil if neither
// --log-data nor --print-data-buffer is set, so the dispatch loop pays
// nothing for them.
func buildOnForward() (func(direction, peer string, cid byte, payload []byte), error) {
	var formatter *udptun.Formatter
	if *logData {
		var err error
		formatter, err = udptun.NewDataLogFormatter(*dataFormat)
		if err != nil {
			return nil, err
		}
	}
	if formatter == nil && !*printDataBuf {
		return nil, nil
	}
	return func(direction, peer string, cid byte, payload []byte) {
		if formatter != nil {
			log.Println(formatter.FormatRow(&udptun.DataLogEvent{
				Direction: direction, Peer: peer, ConnID: cid, Bytes: len(payload),
			}))
		}
		if *printDataBuf {
			log.Println("udptun:", udptun.HexDump(payload))
		}
	}, nil
}

func runEntry(ctx context.Context, tunnel *net.UDPConn, mode udptun.IPMode, idleTimeout time.Duration, stats *udptun.Stats, onForward func(string, string, byte, []byte)) error {
	external, err := udptun.ListenReusableUDP(ctx, mode, *entryAddr)
	if err != nil {
		return err
	}
	defer external.Close()
	if err := applyRecvBufferSize(external); err != nil {
		return err
	}

	d := &udptun.EntryDispatcher{
		Tunnel:    tunnel,
		External:  external,
		Cache:     udptun.NewEntryCache(idleTimeout),
		BufSize:   *bufSize,
		Stats:     stats,
		OnForward: onForward,
	}
	log.Println("entry: listening on", external.LocalAddr(), "bridging to", tunnel.RemoteAddr())
	return d.Run(ctx)
}

func runTarget(ctx context.Context, tunnel *net.UDPConn, mode udptun.IPMode, idleTimeout time.Duration, stats *udptun.Stats, onForward func(string, string, byte, []byte)) error {
	serverAddr, err := net.ResolveUDPAddr("udp", *targetAddr)
	if err != nil {
		return err
	}
	var pattern *udptun.SourceFormat
	if *sourceFormat != "" {
		pattern, err = udptun.ParseSourceFormat(*sourceFormat)
		if err != nil {
			return err
		}
	}
	rnd := rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(os.Getpid())))

	newFlowSocket := func() (*net.UDPConn, error) {
		var localAddr string
		if pattern != nil {
			localAddr = pattern.RandomAddr(rnd).String()
		} else {
			localAddr = udptun.DefaultListenAddr(mode)
		}
		sock, err := udptun.ListenReusableUDP(ctx, mode, localAddr)
		if err != nil {
			return nil, err
		}
		if err := applyRecvBufferSize(sock); err != nil {
			sock.Close()
			return nil, err
		}
		if err := udptun.ConnectFlowSocket(sock, serverAddr); err != nil {
			sock.Close()
			return nil, err
		}
		return sock, nil
	}

	d := &udptun.TargetDispatcher{
		Tunnel:        tunnel,
		Cache:         udptun.NewTargetCache(idleTimeout),
		BufSize:       *bufSize,
		NewFlowSocket: newFlowSocket,
		Stats:         stats,
		OnForward:     onForward,
	}
	log.Println("target: forwarding to", serverAddr, "over tunnel", tunnel.RemoteAddr())
	return d.Run(ctx)
}

// reportIntervalFor picks the Stats idle timeout: the loaded config's
// report.interval if one was given and set, otherwise --report-interval.
func reportIntervalFor(rc *udptun.ReportingConfig) time.Duration {
	if rc != nil && rc.Report.Interval != 0 {
		return time.Duration(rc.Report.Interval) * time.Second
	}
	return time.Duration(*reportInterval) * time.Second
}

func loadReportingConfig(path string) *udptun.ReportingConfig {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatal("udptun: reading report config: ", err)
	}
	rc, err := udptun.NewReportingConfig(data)
	if err != nil {
		log.Fatal("udptun: ", err)
	}
	return rc
}

func waitForSignal(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Println("udptun: received", sig, "shutting down")
	cancel()
}
