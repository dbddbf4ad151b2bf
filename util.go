package udptun

import (
	"log"
	"os"
	"time"

	"github.com/satori/go.uuid"
	"golang.org/x/sys/unix"
)

const (
	// DefaultIdleTimeout is the entry/target cache idle timeout when
	// --timeout isn't given.
	DefaultIdleTimeout = 3600 * time.Second
	// DefaultBufSize is the per-socket read buffer size when --bufsize
	// isn't given.
	DefaultBufSize = 65536
	// DefaultHandshakeTimeout is the active-side connect timeout when
	// --connect-timeout isn't given.
	DefaultHandshakeTimeout = 10 * time.Second
)

// NewCorrelationID returns a short opaque string suitable for tagging one
// handshake or one reporting run in log output, so related lines can be
// grepped together without carrying a whole socket address around.
func NewCorrelationID() string {
	full := uuid.NewV4()
	last10 := full[len(full)-10:]
	return string(last10)
}

// FileCloseHandler closes an *os.File obtained from (*net.UDPConn).File,
// restoring non-blocking mode first.
//
// conn.File() duplicates the descriptor in blocking mode, which — left
// uncorrected on the original descriptor after the dup'd File is closed —
// silently defeats SetReadDeadline on that conn. Every call site that
// calls conn.File() must route the close through here.
func FileCloseHandler(f *os.File) {
	if err := unix.SetNonblock(int(f.Fd()), true); err != nil {
		HandleMinorError(err)
	}
	HandleMinorError(f.Close())
}

// HandleMinorError logs a non-fatal error if non-nil.
func HandleMinorError(err error) {
	if err != nil {
		log.Println("ERROR:", err)
	}
}

// HandleFatalError logs and exits the process if err is non-nil. Reserved
// for startup failures a running tunnel can't recover from (bind failure)
// — steady-state errors always come back as a regular error value instead.
// It exits with status 1; a handshake mismatch exits with status 2 instead.
func HandleFatalError(err error) {
	if err != nil {
		log.Fatal("ERROR: ", err)
	}
}
