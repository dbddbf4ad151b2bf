package udptun

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Alignment controls how a column pads to its running max width.
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
)

// DataLogEvent is the per-datagram record the --log-data formatter
// renders one line for.
type DataLogEvent struct {
	Direction string // e.g. "external->tunnel", "tunnel->target"
	Peer      string
	ConnID    byte
	Bytes     int
}

type columnDef struct {
	constantSize bool
	alignment    Alignment
	render       func(*DataLogEvent) string
}

// defaultColumns are the %-escapes --format recognizes: %d direction,
// %p peer address, %c connection id, %n byte count.
var defaultColumns = map[byte]columnDef{
	'd': {constantSize: true, render: func(e *DataLogEvent) string { return e.Direction }},
	'p': {render: func(e *DataLogEvent) string { return e.Peer }},
	'c': {constantSize: true, render: func(e *DataLogEvent) string { return strconv.Itoa(int(e.ConnID)) }},
	'n': {alignment: AlignRight, render: func(e *DataLogEvent) string { return strconv.Itoa(e.Bytes) }},
}

// DefaultDataLogFormat is used when --format isn't given alongside
// --log-data.
const DefaultDataLogFormat = "%d\t%p\tcid=%c\t%n bytes"

type formatPart struct {
	literal string
	col     byte // 0 if this part is a literal
}

// Formatter renders DataLogEvents according to a parsed %-escape spec,
// tracking each non-constant-size column's running max width across
// calls so output stays aligned the way a live log tail benefits from.
type Formatter struct {
	parts   []formatPart
	columns map[byte]columnDef

	mu     sync.Mutex
	widths map[byte]int
}

// NewDataLogFormatter parses spec's %-escapes against the built-in
// column set (%d, %p, %c, %n). "%%" escapes a literal percent.
func NewDataLogFormatter(spec string) (*Formatter, error) {
	return parseFormat(spec, defaultColumns)
}

// parseFormat parses spec's %-escapes against columns (use
// defaultColumns for the built-in set). "%%" escapes a literal percent.
func parseFormat(spec string, columns map[byte]columnDef) (*Formatter, error) {
	var parts []formatPart
	var lit strings.Builder
	rem := spec
	for {
		i := strings.IndexByte(rem, '%')
		if i < 0 {
			lit.WriteString(rem)
			break
		}
		lit.WriteString(rem[:i])
		rem = rem[i+1:]
		if rem == "" {
			return nil, fmt.Errorf("udptun: format %q: unexpected end after %%", spec)
		}
		ch := rem[0]
		rem = rem[1:]
		if ch == '%' {
			lit.WriteByte('%')
			continue
		}
		if _, ok := columns[ch]; !ok {
			return nil, fmt.Errorf("udptun: format %q: unknown column %%%c", spec, ch)
		}
		if lit.Len() > 0 {
			parts = append(parts, formatPart{literal: lit.String()})
			lit.Reset()
		}
		parts = append(parts, formatPart{col: ch})
	}
	if lit.Len() > 0 {
		parts = append(parts, formatPart{literal: lit.String()})
	}
	return &Formatter{parts: parts, columns: columns, widths: make(map[byte]int)}, nil
}

// FormatRow renders one line for e.
func (f *Formatter) FormatRow(e *DataLogEvent) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var b strings.Builder
	for _, part := range f.parts {
		if part.col == 0 {
			b.WriteString(part.literal)
			continue
		}
		col := f.columns[part.col]
		rendered := col.render(e)
		if col.constantSize {
			b.WriteString(rendered)
			continue
		}
		width := len(rendered)
		if prev := f.widths[part.col]; prev > width {
			width = prev
		}
		f.widths[part.col] = width
		pad := strings.Repeat(" ", width-len(rendered))
		if col.alignment == AlignRight {
			b.WriteString(pad)
			b.WriteString(rendered)
		} else {
			b.WriteString(rendered)
			b.WriteString(pad)
		}
	}
	return b.String()
}

// HexDump renders buf the way the handshake-mismatch error message does:
// space-separated uppercase byte pairs.
func HexDump(buf []byte) string {
	return fmt.Sprintf("% X", buf)
}
