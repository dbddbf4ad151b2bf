package udptun

import "testing"

func TestFormatRowDefault(t *testing.T) {
	f, err := parseFormat(DefaultDataLogFormat, defaultColumns)
	if err != nil {
		t.Fatal(err)
	}
	got := f.FormatRow(&DataLogEvent{Direction: "external->tunnel", Peer: "1.2.3.4:5", ConnID: 7, Bytes: 42})
	want := "external->tunnel\t1.2.3.4:5\tcid=7\t42 bytes"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestFormatRowPadsRunningWidth(t *testing.T) {
	f, err := parseFormat("%p|", defaultColumns)
	if err != nil {
		t.Fatal(err)
	}
	first := f.FormatRow(&DataLogEvent{Peer: "1.2.3.4:5"})
	second := f.FormatRow(&DataLogEvent{Peer: "10.20.30.40:50000"})
	third := f.FormatRow(&DataLogEvent{Peer: "1.2.3.4:5"})
	if len(second) != len("10.20.30.40:50000")+1 {
		t.Fatalf("second row unexpectedly padded: %q", second)
	}
	if len(third) != len(second) {
		t.Fatalf("expected third row padded to widened column: %q vs %q", third, second)
	}
	_ = first
}

func TestParseFormatRejectsUnknownColumn(t *testing.T) {
	if _, err := parseFormat("%z", defaultColumns); err == nil {
		t.Fatal("expected error for unknown column")
	}
}

func TestParseFormatEscapesPercent(t *testing.T) {
	f, err := parseFormat("100%%", defaultColumns)
	if err != nil {
		t.Fatal(err)
	}
	if got := f.FormatRow(&DataLogEvent{}); got != "100%" {
		t.Fatalf("got %q", got)
	}
}

func TestHexDump(t *testing.T) {
	if got := HexDump([]byte{0x01, 0xAB}); got != "01 AB" {
		t.Fatalf("got %q", got)
	}
}
