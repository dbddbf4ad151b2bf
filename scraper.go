// Scraper pulls stats from udptun nodes and writes them to InfluxDB.
package udptun

import (
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	influxdbclient "github.com/influxdata/influxdb1-client/v2"
)

// DefaultWriteTimeout bounds a single InfluxDB write.
const DefaultWriteTimeout = 5 * time.Second

// InfluxDbWriter writes DataPoints to an InfluxDB instance.
type InfluxDbWriter struct {
	client influxdbclient.Client
	db     string
}

// NewInfluxDbWriter returns a writer for the InfluxDB instance at
// host:port.
func NewInfluxDbWriter(host, port, user, pass, db string) (*InfluxDbWriter, error) {
	url := fmt.Sprintf("http://%v:%v", host, port)
	log.Println("creating InfluxDB writer for", url)
	c, err := influxdbclient.NewHTTPClient(influxdbclient.HTTPConfig{
		Addr:     url,
		Username: user,
		Password: pass,
		Timeout:  DefaultWriteTimeout,
	})
	if err != nil {
		return nil, err
	}
	return &InfluxDbWriter{client: c, db: db}, nil
}

// Close releases the underlying InfluxDB client.
func (w *InfluxDbWriter) Close() error {
	log.Println("closing InfluxDB client connection")
	return w.client.Close()
}

// Write commits a batch of points.
func (w *InfluxDbWriter) Write(batch influxdbclient.BatchPoints) error {
	start := time.Now()
	err := w.client.Write(batch)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		log.Println("db write failed after:", elapsed, "seconds:", err)
		return err
	}
	log.Println("db write completed in:", elapsed, "seconds")
	return nil
}

// Batch groups points into InfluxDB's batch type.
func (w *InfluxDbWriter) Batch(points []*DataPoint) (influxdbclient.BatchPoints, error) {
	bp, err := influxdbclient.NewBatchPoints(influxdbclient.BatchPointsConfig{
		Database:  w.db,
		Precision: "s",
	})
	if err != nil {
		return nil, err
	}
	for _, dp := range points {
		fields := make(map[string]interface{}, len(dp.Fields))
		for k, v := range dp.Fields {
			fields[k] = float64(v)
		}
		pt, err := influxdbclient.NewPoint(dp.Measurement, dp.Tags, fields, dp.Time)
		if err != nil {
			return nil, err
		}
		bp.AddPoint(pt)
	}
	return bp, nil
}

// BatchWrite batches and writes points in one call.
func (w *InfluxDbWriter) BatchWrite(points []*DataPoint) error {
	batch, err := w.Batch(points)
	if err != nil {
		return errors.New(fmt.Sprintln("failed to create batch from points:", err))
	}
	if err := w.Write(batch); err != nil {
		return errors.New(fmt.Sprintln("failed to write batch:", err))
	}
	return nil
}

// Scraper pulls stats from a set of udptun nodes and writes them to
// InfluxDB.
type Scraper struct {
	writer *InfluxDbWriter
	nodes  []Client
}

// NewScraper builds a Scraper polling nodeAddrs (each "host:port") and
// writing to the given InfluxDB instance.
func NewScraper(nodeAddrs []string, dbHost, dbPort, dbUser, dbPass, dbName string) (*Scraper, error) {
	clients := make([]Client, 0, len(nodeAddrs))
	for _, addr := range nodeAddrs {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("udptun: node address %q: %w", addr, err)
		}
		clients = append(clients, NewClient(host, port))
	}
	w, err := NewInfluxDbWriter(dbHost, dbPort, dbUser, dbPass, dbName)
	if err != nil {
		return nil, err
	}
	return &Scraper{writer: w, nodes: clients}, nil
}

// Run performs one collection cycle across all nodes concurrently.
func (s *Scraper) Run() {
	log.Println("collection cycle starting")
	defer s.writer.Close()
	var wg sync.WaitGroup
	for _, node := range s.nodes {
		wg.Add(1)
		go func(c Client) {
			defer wg.Done()
			s.run(c)
		}(node)
	}
	wg.Wait()
	log.Println("collection cycle complete")
}

func (s *Scraper) run(node Client) error {
	log.Println(node.Hostname(), "- collection cycle started")
	summaries, err := node.GetSummaries()
	if err != nil {
		log.Println(node.Hostname(), "- collection failed:", err)
		return err
	}
	log.Println(node.Hostname(), "- pulled summaries:", len(summaries))

	points := NewDataPointsFromSummaries(summaries, node.Hostname())
	if err := s.writer.BatchWrite(points); err != nil {
		log.Println(node.Hostname(), "- write failed:", err)
		return err
	}
	log.Println(node.Hostname(), "- collection cycle completed")
	return nil
}
