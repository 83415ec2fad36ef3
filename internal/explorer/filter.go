package explorer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"al.essio.dev/pkg/shellescape"

	"github.com/arpa-simc/provami/internal/dballe"
)

// Filter is the set of constraints selected by the user. Nil fields put no
// constraint on their axis. A Filter is replaced wholesale, never mutated.
type Filter struct {
	AnaID   *int
	RepMemo *string
	Level   *dballe.Level
	Trange  *dballe.Trange
	Var     *string
	DateMin *time.Time
	DateMax *time.Time
	LatMin  *float64
	LatMax  *float64
	LonMin  *float64
	LonMax  *float64
}

// Labeled pairs a value with its human readable description. It encodes as
// a two element JSON array.
type Labeled[T any] struct {
	Value T
	Desc  string
}

func (l Labeled[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{l.Value, l.Desc})
}

// DisplayFilter is the transport form of a Filter.
type DisplayFilter struct {
	AnaID   *int                    `json:"ana_id"`
	RepMemo *string                 `json:"rep_memo"`
	Level   *Labeled[dballe.Level]  `json:"level"`
	Trange  *Labeled[dballe.Trange] `json:"trange"`
	Var     *Labeled[string]        `json:"var"`
	DateMin *string                 `json:"datemin"`
	DateMax *string                 `json:"datemax"`
	LatMin  *float64                `json:"latmin"`
	LatMax  *float64                `json:"latmax"`
	LonMin  *float64                `json:"lonmin"`
	LonMax  *float64                `json:"lonmax"`
}

// IsEmpty reports whether no field is set.
func (f Filter) IsEmpty() bool {
	return f == Filter{}
}

func (f Filter) query() dballe.Query {
	return dballe.Query{
		AnaID:       f.AnaID,
		RepMemo:     f.RepMemo,
		Level:       f.Level,
		Trange:      f.Trange,
		Var:         f.Var,
		DatetimeMin: f.DateMin,
		DatetimeMax: f.DateMax,
		LatMin:      f.LatMin,
		LatMax:      f.LatMax,
		LonMin:      f.LonMin,
		LonMax:      f.LonMax,
	}
}

// ToQuery builds the engine query for the set fields.
func (f Filter) ToQuery() (dballe.Query, error) {
	q := f.query()
	for _, lat := range []*float64{f.LatMin, f.LatMax} {
		if lat != nil && (*lat < -90 || *lat > 90) {
			return dballe.Query{}, fmt.Errorf("%w: latitude %v out of range", ErrInvalidFilterValue, *lat)
		}
	}
	for _, lon := range []*float64{f.LonMin, f.LonMax} {
		if lon != nil && (*lon < -180 || *lon >= 360) {
			return dballe.Query{}, fmt.Errorf("%w: longitude %v out of range", ErrInvalidFilterValue, *lon)
		}
	}
	if f.Level != nil {
		if f.Level.Ltype1 == dballe.MissingInt && f.Level.L1 != dballe.MissingInt ||
			f.Level.Ltype2 == dballe.MissingInt && f.Level.L2 != dballe.MissingInt {
			return dballe.Query{}, fmt.Errorf("%w: level %s has a value without a type", ErrInvalidFilterValue, f.Level)
		}
	}
	if f.Trange != nil && f.Trange.Pind == dballe.MissingInt &&
		(f.Trange.P1 != dballe.MissingInt || f.Trange.P2 != dballe.MissingInt) {
		return dballe.Query{}, fmt.Errorf("%w: time range %s has values without a type", ErrInvalidFilterValue, f.Trange)
	}
	return q, nil
}

// ToDisplay renders the filter in its transport form, describing level,
// time range and variable with d.
func (f Filter) ToDisplay(d dballe.Describer) DisplayFilter {
	out := DisplayFilter{
		AnaID:   f.AnaID,
		RepMemo: f.RepMemo,
		DateMin: dballe.FormatDatetime(f.DateMin),
		DateMax: dballe.FormatDatetime(f.DateMax),
		LatMin:  f.LatMin,
		LatMax:  f.LatMax,
		LonMin:  f.LonMin,
		LonMax:  f.LonMax,
	}
	if f.Level != nil {
		out.Level = &Labeled[dballe.Level]{*f.Level, d.DescribeLevel(*f.Level)}
	}
	if f.Trange != nil {
		out.Trange = &Labeled[dballe.Trange]{*f.Trange, d.DescribeTrange(*f.Trange)}
	}
	if f.Var != nil {
		out.Var = &Labeled[string]{*f.Var, d.DescribeVar(*f.Var)}
	}
	return out
}

// FromDisplay parses the transport form. Level, time range and variable may
// be given either paired with their description or bare. Missing keys, nulls
// and empty strings leave the field unset.
func FromDisplay(data map[string]json.RawMessage) (Filter, error) {
	var f Filter
	var err error
	if f.AnaID, err = parseOptInt(data, "ana_id"); err != nil {
		return Filter{}, err
	}
	if f.RepMemo, err = parseOptString(data, "rep_memo"); err != nil {
		return Filter{}, err
	}
	if raw, ok := labeledValue(data["level"]); ok {
		var l dballe.Level
		if err := json.Unmarshal(raw, &l); err != nil {
			return Filter{}, fmt.Errorf("%w: level: %v", ErrInvalidFilterValue, err)
		}
		f.Level = &l
	}
	if raw, ok := labeledValue(data["trange"]); ok {
		var t dballe.Trange
		if err := json.Unmarshal(raw, &t); err != nil {
			return Filter{}, fmt.Errorf("%w: trange: %v", ErrInvalidFilterValue, err)
		}
		f.Trange = &t
	}
	if raw, ok := labeledValue(data["var"]); ok {
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return Filter{}, fmt.Errorf("%w: var: %v", ErrInvalidFilterValue, err)
		}
		if v != "" {
			f.Var = &v
		}
	}
	if f.DateMin, err = parseOptDatetime(data, "datemin"); err != nil {
		return Filter{}, err
	}
	if f.DateMax, err = parseOptDatetime(data, "datemax"); err != nil {
		return Filter{}, err
	}
	for _, fld := range []struct {
		key string
		dst **float64
	}{{"latmin", &f.LatMin}, {"latmax", &f.LatMax}, {"lonmin", &f.LonMin}, {"lonmax", &f.LonMax}} {
		if *fld.dst, err = parseOptFloat(data, fld.key); err != nil {
			return Filter{}, err
		}
	}
	return f, nil
}

// ToCommandLine renders the active fields as shell-quoted key=value tokens.
func (f Filter) ToCommandLine() string {
	q := f.query()
	items := q.Items()
	tokens := make([]string, 0, len(items))
	for _, it := range items {
		tokens = append(tokens, shellescape.Quote(it.Key+"="+it.Value))
	}
	return strings.Join(tokens, " ")
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte(`""`))
}

// labeledValue extracts the value of a [value, description] pair, or returns
// raw itself when it is not such a pair.
func labeledValue(raw json.RawMessage) (json.RawMessage, bool) {
	if isNull(raw) {
		return nil, false
	}
	var pair []json.RawMessage
	if err := json.Unmarshal(raw, &pair); err == nil && len(pair) == 2 {
		var desc string
		first := bytes.TrimSpace(pair[0])
		if json.Unmarshal(pair[1], &desc) == nil && len(first) > 0 && (first[0] == '[' || first[0] == '"') {
			if isNull(pair[0]) {
				return nil, false
			}
			return pair[0], true
		}
	}
	return raw, true
}

// jsonScalar returns the textual content of a JSON string or number.
func jsonScalar(raw json.RawMessage, key string) (string, bool, error) {
	if isNull(raw) {
		return "", false, nil
	}
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return "", false, fmt.Errorf("%w: %s: %v", ErrInvalidFilterValue, key, err)
	}
	switch x := v.(type) {
	case string:
		x = strings.TrimSpace(x)
		return x, x != "", nil
	case json.Number:
		return x.String(), true, nil
	default:
		return "", false, fmt.Errorf("%w: %s: unexpected value %s", ErrInvalidFilterValue, key, raw)
	}
}

func parseOptString(data map[string]json.RawMessage, key string) (*string, error) {
	s, ok, err := jsonScalar(data[key], key)
	if err != nil || !ok {
		return nil, err
	}
	return &s, nil
}

func parseOptInt(data map[string]json.RawMessage, key string) (*int, error) {
	s, ok, err := jsonScalar(data[key], key)
	if err != nil || !ok {
		return nil, err
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %q is not an integer", ErrInvalidFilterValue, key, s)
	}
	return &n, nil
}

func parseOptFloat(data map[string]json.RawMessage, key string) (*float64, error) {
	s, ok, err := jsonScalar(data[key], key)
	if err != nil || !ok {
		return nil, err
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %q is not a number", ErrInvalidFilterValue, key, s)
	}
	return &v, nil
}

func parseOptDatetime(data map[string]json.RawMessage, key string) (*time.Time, error) {
	s, ok, err := jsonScalar(data[key], key)
	if err != nil || !ok {
		return nil, err
	}
	t, err := dballe.ParseDatetime(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %q does not match %s", ErrInvalidFilterValue, key, s, dballe.DatetimeLayout)
	}
	return &t, nil
}
