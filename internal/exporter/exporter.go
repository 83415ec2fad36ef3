// Package exporter writes explorer selections as BUFR, CREX or CSV.
package exporter

import (
	"fmt"
	"io"
	"strings"

	"github.com/arpa-simc/provami/internal/dballe"
)

// Format is an export format name.
type Format string

const (
	FormatBUFR Format = "bufr"
	FormatCREX Format = "crex"
	FormatCSV  Format = "csv"
)

// Formats lists the supported formats.
var Formats = []Format{FormatBUFR, FormatCREX, FormatCSV}

// ParseFormat validates a format name, case insensitively.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

// ContentType returns the MIME type served for the format.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv"
	}
	return "application/octet-stream"
}

// Writer encodes messages to an output stream.
type Writer interface {
	WriteMessage(msg *dballe.Message) error
	// Close flushes buffered output. It does not close the underlying stream.
	Close() error
}

// NewWriter returns a writer for format f.
func NewWriter(f Format, w io.Writer) (Writer, error) {
	switch f {
	case FormatBUFR:
		return &messageWriter{w: w, encode: EncodeBUFR}, nil
	case FormatCREX:
		return &messageWriter{w: w, encode: EncodeCREX}, nil
	case FormatCSV:
		return newCSVWriter(w), nil
	}
	return nil, fmt.Errorf("unsupported export format %q", f)
}

// messageWriter writes one encoded message at a time.
type messageWriter struct {
	w      io.Writer
	encode func(*dballe.Message) ([]byte, error)
}

func (m *messageWriter) WriteMessage(msg *dballe.Message) error {
	data, err := m.encode(msg)
	if err != nil {
		return err
	}
	_, err = m.w.Write(data)
	return err
}

func (m *messageWriter) Close() error {
	return nil
}

// item is one descriptor of a message template with its value.
type item struct {
	info  dballe.VarInfo
	value any
}

// template lays out a message as a flat list of table B entries: report,
// identifier, coordinates, datetime, station values, then each context
// followed by its values.
func template(msg *dballe.Message) ([]item, error) {
	var items []item
	add := func(code string, value any) error {
		info, err := dballe.LookupVar(code)
		if err != nil {
			return err
		}
		items = append(items, item{info: info, value: value})
		return nil
	}
	intOrMissing := func(v int) any {
		if v == dballe.MissingInt {
			return nil
		}
		return v
	}

	var ident any
	if msg.Station.Ident != "" {
		ident = msg.Station.Ident
	}
	dt := msg.Datetime.UTC()
	header := []struct {
		code  string
		value any
	}{
		{"B01194", msg.Station.Report},
		{"B01011", ident},
		{"B05001", msg.Station.Lat},
		{"B06001", msg.Station.Lon},
		{"B04001", dt.Year()},
		{"B04002", int(dt.Month())},
		{"B04003", dt.Day()},
		{"B04004", dt.Hour()},
		{"B04005", dt.Minute()},
		{"B04006", dt.Second()},
	}
	for _, h := range header {
		if err := add(h.code, h.value); err != nil {
			return nil, err
		}
	}
	for _, v := range msg.StationVars {
		if v.Code == "B01194" || v.Code == "B01011" {
			continue
		}
		if err := add(v.Code, v.Value); err != nil {
			return nil, err
		}
	}
	for _, c := range msg.Contexts {
		ctxItems := []struct {
			code  string
			value any
		}{
			{"B07192", intOrMissing(c.Level.Ltype1)},
			{"B07193", intOrMissing(c.Level.L1)},
			{"B07195", intOrMissing(c.Level.Ltype2)},
			{"B07194", intOrMissing(c.Level.L2)},
			{"B04192", intOrMissing(c.Trange.Pind)},
			{"B04193", intOrMissing(c.Trange.P1)},
			{"B04194", intOrMissing(c.Trange.P2)},
		}
		for _, ci := range ctxItems {
			if err := add(ci.code, ci.value); err != nil {
				return nil, err
			}
		}
		for _, v := range c.Vars {
			if err := add(v.Code, v.Value); err != nil {
				return nil, err
			}
		}
	}
	return items, nil
}

// scaled returns the value multiplied by 10^scale and rounded, or false when
// the value is missing.
func scaled(info dballe.VarInfo, value any) (int64, bool, error) {
	if value == nil {
		return 0, false, nil
	}
	v, err := info.Coerce(value)
	if err != nil {
		return 0, false, err
	}
	var f float64
	switch x := v.(type) {
	case int:
		f = float64(x)
	case float64:
		f = x
	default:
		return 0, false, fmt.Errorf("%s: %v is not numeric", info.Code, value)
	}
	for i := 0; i < info.Scale; i++ {
		f *= 10
	}
	for i := 0; i > info.Scale; i-- {
		f /= 10
	}
	if f < 0 {
		return int64(f - 0.5), true, nil
	}
	return int64(f + 0.5), true, nil
}
