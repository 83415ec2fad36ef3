package exporter

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/arpa-simc/provami/internal/dballe"
)

var csvHeader = []string{
	"Station", "Latitude", "Longitude", "Network", "Datetime",
	"Level1", "L1", "Level2", "L2", "Time range", "P1", "P2",
	"Variable", "Value",
}

// csvWriter writes one line per value. Station values are written once per
// station, with empty context columns.
type csvWriter struct {
	w            *csv.Writer
	wroteHeader  bool
	lastStation  int
	seenStations bool
}

func newCSVWriter(w io.Writer) *csvWriter {
	return &csvWriter{w: csv.NewWriter(w)}
}

func formatInt(v int) string {
	if v == dballe.MissingInt {
		return ""
	}
	return strconv.Itoa(v)
}

func formatValue(v dballe.Var) string {
	info, err := dballe.LookupVar(v.Code)
	if err != nil {
		return fmt.Sprint(v.Value)
	}
	s, err := info.Encode(v.Value)
	if err != nil {
		return fmt.Sprint(v.Value)
	}
	return s
}

func (c *csvWriter) WriteMessage(msg *dballe.Message) error {
	if !c.wroteHeader {
		if err := c.w.Write(csvHeader); err != nil {
			return err
		}
		c.wroteHeader = true
	}

	st := msg.Station
	station := []string{
		strconv.Itoa(st.ID),
		strconv.FormatFloat(st.Lat, 'f', 5, 64),
		strconv.FormatFloat(st.Lon, 'f', 5, 64),
		st.Report,
	}

	if !c.seenStations || c.lastStation != st.ID {
		c.seenStations = true
		c.lastStation = st.ID
		for _, v := range msg.StationVars {
			rec := append(append([]string{}, station...), "", "", "", "", "", "", "", "", v.Code, formatValue(v))
			if err := c.w.Write(rec); err != nil {
				return err
			}
		}
	}

	dt := msg.Datetime.UTC().Format(dballe.DatetimeLayout)
	for _, ctx := range msg.Contexts {
		for _, v := range ctx.Vars {
			rec := append(append([]string{}, station...),
				dt,
				formatInt(ctx.Level.Ltype1), formatInt(ctx.Level.L1),
				formatInt(ctx.Level.Ltype2), formatInt(ctx.Level.L2),
				formatInt(ctx.Trange.Pind), formatInt(ctx.Trange.P1), formatInt(ctx.Trange.P2),
				v.Code, formatValue(v),
			)
			if err := c.w.Write(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *csvWriter) Close() error {
	c.w.Flush()
	return c.w.Error()
}
