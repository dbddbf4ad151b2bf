package udptun

import (
	"fmt"

	"gopkg.in/yaml.v2"
)

// A sensible default configuration for the reporting/scraping stack.
var defaultReportingConfigYAML = `
report:
    bind:     0.0.0.0:5000
    interval: 30

scrape:
    nodes: []
    interval: 30
    influxdb:
        host: 127.0.0.1
        port: "8086"
        db:   udptun
`

// ReportConfig describes the node's own reporting HTTP server (the
// /status, /stats, /stats.pb endpoints) and the stats entry idle timeout
// backing it.
type ReportConfig struct {
	Bind     string `yaml:"bind"`
	Interval int64  `yaml:"interval"` // seconds; Stats entry idle timeout
}

// InfluxDBConfig describes where the scraper writes collected stats.
type InfluxDBConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
	User string `yaml:"user"`
	Pass string `yaml:"pass"`
	DB   string `yaml:"db"`
}

// ScrapeConfig describes the separate scraper process: which nodes'
// reporting APIs to poll, how often, and where to write the results.
type ScrapeConfig struct {
	Nodes    []string       `yaml:"nodes"`
	Interval int64          `yaml:"interval"` // seconds
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
}

// ReportingConfig is the full YAML schema accepted by --report-config and
// the scraper's --config flag.
type ReportingConfig struct {
	Report ReportConfig `yaml:"report"`
	Scrape ScrapeConfig `yaml:"scrape"`
}

// NewDefaultReportingConfig provides a sensible default reporting config.
func NewDefaultReportingConfig() (*ReportingConfig, error) {
	return NewReportingConfig([]byte(defaultReportingConfigYAML))
}

// NewReportingConfig parses data, a YAML ReportingConfig document.
func NewReportingConfig(data []byte) (*ReportingConfig, error) {
	rc := &ReportingConfig{}
	if err := yaml.Unmarshal(data, rc); err != nil {
		return rc, fmt.Errorf("udptun: parsing reporting config: %w", err)
	}
	return rc, nil
}
