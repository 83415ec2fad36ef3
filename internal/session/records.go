package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/arpa-simc/provami/internal/dballe"
	"github.com/arpa-simc/provami/internal/explorer"
)

// DataRow is one measured value as sent to front-ends.
type DataRow struct {
	ID       int           `json:"i"`
	Report   string        `json:"r"`
	Station  int           `json:"s"`
	Code     string        `json:"c"`
	Level    dballe.Level  `json:"l"`
	Trange   dballe.Trange `json:"t"`
	Datetime string        `json:"d"`
	Value    any           `json:"v"`
	Type     string        `json:"vt"`
	Scale    *int          `json:"vs,omitempty"`
}

// StationValueRow is one station-level value.
type StationValueRow struct {
	ID    int    `json:"i"`
	Code  string `json:"c"`
	Value any    `json:"v"`
	Type  string `json:"vt"`
	Scale *int   `json:"vs,omitempty"`
}

// AttrRow is one attribute of a value.
type AttrRow struct {
	Code  string `json:"c"`
	Value any    `json:"v"`
	Type  string `json:"vt"`
	Scale *int   `json:"vs,omitempty"`
}

// StationInfo describes the station returned by GetStationData.
type StationInfo struct {
	ID      int     `json:"id"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Ident   *string `json:"ident"`
	RepMemo string  `json:"rep_memo"`
}

func varType(code string) (string, *int) {
	info, err := dballe.LookupVar(code)
	if err != nil {
		return dballe.TypeString, nil
	}
	if !info.IsNumeric() {
		return info.Type(), nil
	}
	scale := info.Scale
	return info.Type(), &scale
}

func newDataRow(v dballe.DataValue) DataRow {
	vt, vs := varType(v.Var.Code)
	return DataRow{
		ID:       v.ID,
		Report:   v.Station.Report,
		Station:  v.Station.ID,
		Code:     v.Var.Code,
		Level:    v.Level,
		Trange:   v.Trange,
		Datetime: v.Datetime.UTC().Format(dballe.DatetimeLayout),
		Value:    v.Var.Value,
		Type:     vt,
		Scale:    vs,
	}
}

func newStationValueRow(v dballe.StationValue) StationValueRow {
	vt, vs := varType(v.Var.Code)
	return StationValueRow{ID: v.ID, Code: v.Var.Code, Value: v.Var.Value, Type: vt, Scale: vs}
}

func newAttrRow(v dballe.Var) AttrRow {
	vt, vs := varType(v.Code)
	return AttrRow{Code: v.Code, Value: v.Value, Type: vt, Scale: vs}
}

func newStationInfo(s dballe.Station) *StationInfo {
	info := &StationInfo{ID: s.ID, Lat: s.Lat, Lon: s.Lon, RepMemo: s.Report}
	if s.Ident != "" {
		ident := s.Ident
		info.Ident = &ident
	}
	return info
}

// DataRecord is the payload of ReplaceData.
type DataRecord struct {
	AnaID    int
	Level    dballe.Level
	Trange   dballe.Trange
	Datetime time.Time
	Var      dballe.Var
}

// StationRecord is the payload of ReplaceStationData.
type StationRecord struct {
	AnaID int
	Var   dballe.Var
}

// Record is a raw write payload, decoded from JSON.
type Record map[string]json.RawMessage

func (r Record) required(key string) (json.RawMessage, error) {
	raw, ok := r[key]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, fmt.Errorf("%w: missing %q", explorer.ErrInvalidRecord, key)
	}
	return raw, nil
}

// scalar returns the text of a JSON string or number.
func (r Record) scalar(key string) (string, error) {
	raw, err := r.required(key)
	if err != nil {
		return "", err
	}
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return "", fmt.Errorf("%w: %s: %v", explorer.ErrInvalidRecord, key, err)
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	}
	return "", fmt.Errorf("%w: %s: unexpected value %s", explorer.ErrInvalidRecord, key, raw)
}

// Int reads an integer given as a JSON number or numeric string.
func (r Record) Int(key string) (int, error) {
	s, err := r.scalar(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %q is not an integer", explorer.ErrInvalidRecord, key, s)
	}
	return n, nil
}

// Var reads a variable from codeKey, valueKey and the "vt" type tag.
func (r Record) Var(codeKey, valueKey string) (dballe.Var, error) {
	code, err := r.scalar(codeKey)
	if err != nil {
		return dballe.Var{}, err
	}
	value, err := r.scalar(valueKey)
	if err != nil {
		return dballe.Var{}, err
	}
	vt := ""
	if _, ok := r["vt"]; ok {
		if vt, err = r.scalar("vt"); err != nil {
			return dballe.Var{}, err
		}
	}
	return coerceVar(code, value, vt)
}

// coerceVar converts value according to its declared type and checks it
// against table B.
func coerceVar(code, value, vt string) (dballe.Var, error) {
	var v any
	switch vt {
	case dballe.TypeDecimal:
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return dballe.Var{}, fmt.Errorf("%w: %s: %q is not a decimal", explorer.ErrInvalidRecord, code, value)
		}
		v = f
	case dballe.TypeInteger:
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return dballe.Var{}, fmt.Errorf("%w: %s: %q is not an integer", explorer.ErrInvalidRecord, code, value)
		}
		v = n
	default:
		v = value
	}

	info, err := dballe.LookupVar(code)
	if err != nil {
		return dballe.Var{}, fmt.Errorf("%w: %v", explorer.ErrInvalidRecord, err)
	}
	if _, err := info.Encode(v); err != nil {
		return dballe.Var{}, fmt.Errorf("%w: %v", explorer.ErrInvalidRecord, err)
	}
	return dballe.Var{Code: code, Value: v}, nil
}

// ParseDataRecord validates a replace_data payload: ana_id, level, trange,
// datetime, varcode, value and vt.
func ParseDataRecord(r Record) (DataRecord, error) {
	var rec DataRecord
	var err error
	if rec.AnaID, err = r.Int("ana_id"); err != nil {
		return DataRecord{}, err
	}
	raw, err := r.required("level")
	if err != nil {
		return DataRecord{}, err
	}
	if err := json.Unmarshal(raw, &rec.Level); err != nil {
		return DataRecord{}, fmt.Errorf("%w: %v", explorer.ErrInvalidRecord, err)
	}
	if raw, err = r.required("trange"); err != nil {
		return DataRecord{}, err
	}
	if err := json.Unmarshal(raw, &rec.Trange); err != nil {
		return DataRecord{}, fmt.Errorf("%w: %v", explorer.ErrInvalidRecord, err)
	}
	dt, err := r.scalar("datetime")
	if err != nil {
		return DataRecord{}, err
	}
	if rec.Datetime, err = dballe.ParseDatetime(dt); err != nil {
		return DataRecord{}, fmt.Errorf("%w: datetime %q does not match %s", explorer.ErrInvalidRecord, dt, dballe.DatetimeLayout)
	}
	if rec.Var, err = r.Var("varcode", "value"); err != nil {
		return DataRecord{}, err
	}
	return rec, nil
}

// ParseStationRecord validates a replace_station_data payload: ana_id,
// varcode, value and vt.
func ParseStationRecord(r Record) (StationRecord, error) {
	var rec StationRecord
	var err error
	if rec.AnaID, err = r.Int("ana_id"); err != nil {
		return StationRecord{}, err
	}
	if rec.Var, err = r.Var("varcode", "value"); err != nil {
		return StationRecord{}, err
	}
	return rec, nil
}

// ParseAttrRecord validates an attribute payload: c, v and vt.
func ParseAttrRecord(r Record) (dballe.Var, error) {
	return r.Var("c", "v")
}
