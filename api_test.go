package udptun

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dropbox/go-udptun/statspb"
)

func TestReportAPIStatusHandler(t *testing.T) {
	api := NewReportAPI(NewStats(time.Minute), "127.0.0.1:0")
	rr := httptest.NewRecorder()
	api.StatusHandler(rr, httptest.NewRequest("GET", "/status", nil))
	if rr.Body.String() != "ok" {
		t.Fatalf("expected ok, got %q", rr.Body.String())
	}
}

func TestReportAPIStatsHandler(t *testing.T) {
	stats := NewStats(time.Minute)
	stats.RecordSent("1.2.3.4:5", 3, 100)
	api := NewReportAPI(stats, "127.0.0.1:0")

	rr := httptest.NewRecorder()
	api.StatsHandler(rr, httptest.NewRequest("GET", "/stats", nil))

	var summaries []Summary
	if err := json.Unmarshal(rr.Body.Bytes(), &summaries); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if len(summaries) != 1 || summaries[0].Peer != "1.2.3.4:5" || summaries[0].ConnID != 3 {
		t.Fatalf("unexpected summaries: %+v", summaries)
	}
}

func TestReportAPIStatsPBHandler(t *testing.T) {
	stats := NewStats(time.Minute)
	stats.RecordSent("1.2.3.4:5", 3, 100)
	api := NewReportAPI(stats, "127.0.0.1:0")

	rr := httptest.NewRecorder()
	api.StatsPBHandler(rr, httptest.NewRequest("GET", "/stats.pb", nil))

	snap, err := statspb.Unmarshal(rr.Body.Bytes())
	if err != nil {
		t.Fatalf("invalid protobuf response: %v", err)
	}
	if len(snap.Summaries) != 1 || snap.Summaries[0].Peer != "1.2.3.4:5" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}
