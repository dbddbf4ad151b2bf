package udptun

import "testing"

func TestNewDefaultReportingConfig(t *testing.T) {
	rc, err := NewDefaultReportingConfig()
	if err != nil {
		t.Fatal(err)
	}
	if rc.Report.Bind != "0.0.0.0:5000" {
		t.Errorf("unexpected default bind: %q", rc.Report.Bind)
	}
	if rc.Report.Interval != 30 {
		t.Errorf("unexpected default report interval: %d", rc.Report.Interval)
	}
	if rc.Scrape.Interval != 30 {
		t.Errorf("unexpected default scrape interval: %d", rc.Scrape.Interval)
	}
	if rc.Scrape.InfluxDB.DB != "udptun" {
		t.Errorf("unexpected default influxdb db: %q", rc.Scrape.InfluxDB.DB)
	}
}

func TestNewReportingConfigParsesNodes(t *testing.T) {
	data := []byte(`
report:
    bind: 127.0.0.1:9000
scrape:
    nodes:
        - a:5000
        - b:5000
    interval: 15
    influxdb:
        host: influx.example.com
        port: "8086"
        db: tun
`)
	rc, err := NewReportingConfig(data)
	if err != nil {
		t.Fatal(err)
	}
	if rc.Report.Bind != "127.0.0.1:9000" {
		t.Errorf("unexpected bind: %q", rc.Report.Bind)
	}
	if len(rc.Scrape.Nodes) != 2 || rc.Scrape.Nodes[0] != "a:5000" {
		t.Errorf("unexpected nodes: %v", rc.Scrape.Nodes)
	}
	if rc.Scrape.Interval != 15 {
		t.Errorf("unexpected interval: %d", rc.Scrape.Interval)
	}
}

func TestNewReportingConfigRejectsInvalidYAML(t *testing.T) {
	if _, err := NewReportingConfig([]byte("not: [valid")); err == nil {
		t.Fatal("expected a parse error")
	}
}
