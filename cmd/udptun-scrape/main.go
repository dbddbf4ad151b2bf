// udptun-scrape pulls stats from a set of udptun nodes' reporting APIs
// and writes them to InfluxDB.
package main

import (
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"github.com/dropbox/go-udptun"
)

var (
	nodes        = flag.String("nodes", "", "comma-separated list of node host:port addresses to scrape")
	interval     = flag.Int64("interval", 30, "how often to pull stats from nodes, in seconds")
	influxdbHost = flag.String("influxdb-host", "127.0.0.1", "the InfluxDB server's host")
	influxdbPort = flag.String("influxdb-port", "8086", "the InfluxDB server's port")
	influxdbDB   = flag.String("influxdb-db", "udptun", "the InfluxDB database name")
	influxdbUser = flag.String("influxdb-user", "", "the InfluxDB username")
	influxdbPass = flag.String("influxdb-pass", "", "the InfluxDB password")
	configPath   = flag.String("config", "", "load scrape config from this YAML file instead of flags")
)

func main() {
	flag.Parse()

	nodeAddrs, ivl, dbHost, dbPort, dbUser, dbPass, dbName := resolveConfig()
	if len(nodeAddrs) == 0 {
		log.Fatal("udptun-scrape: no nodes configured; aborting")
	}

	scraper, err := udptun.NewScraper(nodeAddrs, dbHost, dbPort, dbUser, dbPass, dbName)
	if err != nil {
		log.Fatal("udptun-scrape: creating scraper: ", err)
	}

	log.Println("starting ticker for collection every", ivl, "seconds")
	for now := range time.Tick(time.Duration(ivl) * time.Second) {
		log.Println("starting collection at tick:", now)
		scraper.Run()
	}
}

func resolveConfig() (nodeAddrs []string, ivl int64, dbHost, dbPort, dbUser, dbPass, dbName string) {
	if *configPath == "" {
		return strings.Split(*nodes, ","), *interval, *influxdbHost, *influxdbPort, *influxdbUser, *influxdbPass, *influxdbDB
	}

	data, err := os.ReadFile(*configPath)
	if err != nil {
		log.Fatal("udptun-scrape: reading config: ", err)
	}
	rc, err := udptun.NewReportingConfig(data)
	if err != nil {
		log.Fatal("udptun-scrape: ", err)
	}
	sc := rc.Scrape
	ivl = sc.Interval
	if ivl == 0 {
		ivl = *interval
	}
	return sc.Nodes, ivl, sc.InfluxDB.Host, sc.InfluxDB.Port, sc.InfluxDB.User, sc.InfluxDB.Pass, sc.InfluxDB.DB
}
