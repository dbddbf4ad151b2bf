package udptun

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/dropbox/go-udptun/statspb"
)

// ReportAPI is the HTTP server answering queries against a node's live
// Stats: a JSON snapshot at /stats, the same data protobuf-encoded at
// /stats.pb, and a bare healthcheck at /status.
type ReportAPI struct {
	stats   *Stats
	server  *http.Server
	handler *http.ServeMux
}

// NewReportAPI returns an initialized ReportAPI bound to addr, reading
// from stats.
func NewReportAPI(stats *Stats, addr string) *ReportAPI {
	handler := http.NewServeMux()
	server := &http.Server{
		Addr:    addr,
		Handler: handler,
	}
	return &ReportAPI{stats: stats, handler: handler, server: server}
}

// StatusHandler acts as a bare healthcheck and simply returns 200 OK.
func (api *ReportAPI) StatusHandler(rw http.ResponseWriter, request *http.Request) {
	fmt.Fprintf(rw, "ok")
}

// StatsHandler serves the current stats snapshot as JSON.
func (api *ReportAPI) StatsHandler(rw http.ResponseWriter, request *http.Request) {
	summaries := api.stats.Snapshot()
	log.Println("serving", len(summaries), "stats summaries")
	asJSON, err := json.Marshal(summaries)
	if err != nil {
		log.Println(err)
		rw.WriteHeader(500)
		return
	}
	rw.Write(asJSON)
}

// StatsPBHandler serves the same snapshot protobuf-encoded.
func (api *ReportAPI) StatsPBHandler(rw http.ResponseWriter, request *http.Request) {
	summaries := api.stats.Snapshot()
	snap := &statspb.Snapshot{Summaries: make([]*statspb.Summary, 0, len(summaries))}
	for _, s := range summaries {
		snap.Summaries = append(snap.Summaries, &statspb.Summary{
			Peer:              s.Peer,
			ConnId:            uint32(s.ConnID),
			BytesSent:         s.BytesSent,
			BytesRecv:         s.BytesRecv,
			DatagramsSent:     s.DatagramsSent,
			DatagramsRecv:     s.DatagramsRecv,
			FirstSeenUnixNano: s.FirstSeen.UnixNano(),
			LastSeenUnixNano:  s.LastSeen.UnixNano(),
		})
	}
	encoded, err := statspb.Marshal(snap)
	if err != nil {
		log.Println(err)
		rw.WriteHeader(500)
		return
	}
	rw.Header().Set("Content-Type", "application/x-protobuf")
	rw.Write(encoded)
}

// Stop closes down the server and causes RunForever to return.
func (api *ReportAPI) Stop() {
	if err := api.server.Close(); err != nil {
		log.Println("error stopping reporting API:", err)
	}
	log.Println("reporting API stopped")
}

// Run calls RunForever in a separate goroutine for non-blocking startup.
func (api *ReportAPI) Run() {
	go api.RunForever()
}

// RunForever sets up the handlers above and then listens for requests
// until stopped or a fatal error occurs. Blocks until then.
func (api *ReportAPI) RunForever() {
	api.setupHandlers()
	if err := api.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Println("reporting API:", err)
	}
}

func (api *ReportAPI) setupHandlers() {
	api.handler.HandleFunc("/status", api.StatusHandler)
	api.handler.HandleFunc("/stats", api.StatsHandler)
	api.handler.HandleFunc("/stats.pb", api.StatsPBHandler)
}
