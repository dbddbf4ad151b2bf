package udptun

import (
	"fmt"
	"strconv"
	"time"
)

// IDBFloat64 marshals to JSON as a float even when the value is integral,
// so InfluxDB's line-protocol-via-JSON ingestion doesn't mistake it for
// an int field type.
type IDBFloat64 float64

func (n IDBFloat64) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%f", n)), nil
}

// DataPoint represents a single InfluxDB point built from a Summary.
type DataPoint struct {
	Fields      map[string]IDBFloat64 `json:"fields"`
	Tags        map[string]string     `json:"tags"`
	Time        time.Time             `json:"time"`
	Measurement string                `json:"measurement"`
}

// SetFieldFloat64 sets field k to v.
func (dp *DataPoint) SetFieldFloat64(k string, v float64) {
	dp.Fields[k] = IDBFloat64(v)
}

// SetFieldInt sets field k to v.
func (dp *DataPoint) SetFieldInt(k string, v uint64) {
	dp.Fields[k] = IDBFloat64(v)
}

// FromSummary populates dp's fields and tags from s.
func (dp *DataPoint) FromSummary(s *Summary) {
	dp.Time = s.LastSeen
	dp.Measurement = "udptun_flow"
	dp.SetFieldInt("bytes_sent", s.BytesSent)
	dp.SetFieldInt("bytes_recv", s.BytesRecv)
	dp.SetFieldInt("datagrams_sent", s.DatagramsSent)
	dp.SetFieldInt("datagrams_recv", s.DatagramsRecv)
	dp.Tags["peer"] = s.Peer
	dp.Tags["conn_id"] = strconv.Itoa(int(s.ConnID))
}

// NewDataPoint builds a DataPoint from s, tagged with node (the
// reporting node the summary was scraped from).
func NewDataPoint(s *Summary, node string) *DataPoint {
	dp := &DataPoint{
		Tags:   make(map[string]string),
		Fields: make(map[string]IDBFloat64),
	}
	dp.FromSummary(s)
	dp.Tags["node"] = node
	return dp
}

// NewDataPointsFromSummaries converts a slice of Summary, all scraped
// from the same node, into DataPoints.
func NewDataPointsFromSummaries(summaries []Summary, node string) []*DataPoint {
	dps := make([]*DataPoint, 0, len(summaries))
	for i := range summaries {
		dps = append(dps, NewDataPoint(&summaries[i], node))
	}
	return dps
}
