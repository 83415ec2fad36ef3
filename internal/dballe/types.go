// Package dballe defines the vocabulary shared with the observation storage
// engine: stations, levels, time ranges, variables, queries and the explorer
// summary index.
package dballe

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// MissingInt marks an unset level or time range component.
const MissingInt = math.MaxInt32

// DatetimeLayout is the only datetime format accepted or produced on the wire.
const DatetimeLayout = "2006-01-02 15:04:05"

var (
	// ErrNotFound is returned when a station or row id does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when a write would replace a value but
	// replacing was not allowed.
	ErrAlreadyExists = errors.New("already exists")

	// ErrUnknownVarcode is returned for codes missing from table B.
	ErrUnknownVarcode = errors.New("unknown varcode")
)

// Level is a vertical level or layer: (type1, l1, type2, l2).
type Level struct {
	Ltype1 int
	L1     int
	Ltype2 int
	L2     int
}

// NewLevel builds a level, leaving unset components as MissingInt.
func NewLevel(values ...int) Level {
	l := Level{MissingInt, MissingInt, MissingInt, MissingInt}
	dst := []*int{&l.Ltype1, &l.L1, &l.Ltype2, &l.L2}
	for i, v := range values {
		if i >= len(dst) {
			break
		}
		*dst[i] = v
	}
	return l
}

// Tuple returns the level components in order.
func (l Level) Tuple() [4]int {
	return [4]int{l.Ltype1, l.L1, l.Ltype2, l.L2}
}

// String renders the level the way dbadb command lines accept it.
func (l Level) String() string {
	t := l.Tuple()
	return joinInts(t[:])
}

// MarshalJSON encodes the level as a 4 element array with nulls for missing values.
func (l Level) MarshalJSON() ([]byte, error) {
	t := l.Tuple()
	return marshalInts(t[:])
}

// UnmarshalJSON decodes a level from a JSON array of up to 4 integers or nulls.
func (l *Level) UnmarshalJSON(data []byte) error {
	vals, err := unmarshalInts(data, 4)
	if err != nil {
		return fmt.Errorf("invalid level: %w", err)
	}
	*l = Level{vals[0], vals[1], vals[2], vals[3]}
	return nil
}

// Trange is a time range: (pind, p1, p2).
type Trange struct {
	Pind int
	P1   int
	P2   int
}

// NewTrange builds a time range, leaving unset components as MissingInt.
func NewTrange(values ...int) Trange {
	t := Trange{MissingInt, MissingInt, MissingInt}
	dst := []*int{&t.Pind, &t.P1, &t.P2}
	for i, v := range values {
		if i >= len(dst) {
			break
		}
		*dst[i] = v
	}
	return t
}

// Tuple returns the time range components in order.
func (t Trange) Tuple() [3]int {
	return [3]int{t.Pind, t.P1, t.P2}
}

func (t Trange) String() string {
	v := t.Tuple()
	return joinInts(v[:])
}

// MarshalJSON encodes the time range as a 3 element array.
func (t Trange) MarshalJSON() ([]byte, error) {
	v := t.Tuple()
	return marshalInts(v[:])
}

// UnmarshalJSON decodes a time range from a JSON array of up to 3 integers or nulls.
func (t *Trange) UnmarshalJSON(data []byte) error {
	vals, err := unmarshalInts(data, 3)
	if err != nil {
		return fmt.Errorf("invalid time range: %w", err)
	}
	*t = Trange{vals[0], vals[1], vals[2]}
	return nil
}

// Station identifies an observation platform. It is comparable and can be
// used as a map key.
type Station struct {
	Report string
	ID     int
	Lat    float64
	Lon    float64
	Ident  string
}

// MarshalJSON encodes the station as [rep_memo, id, lat, lon, ident].
func (s Station) MarshalJSON() ([]byte, error) {
	var ident any
	if s.Ident != "" {
		ident = s.Ident
	}
	return json.Marshal([]any{s.Report, s.ID, s.Lat, s.Lon, ident})
}

// UnmarshalJSON decodes the tuple produced by MarshalJSON.
func (s *Station) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 5 {
		return fmt.Errorf("station tuple has %d elements, expected 5", len(raw))
	}
	var ident *string
	for i, dst := range []any{&s.Report, &s.ID, &s.Lat, &s.Lon, &ident} {
		if err := json.Unmarshal(raw[i], dst); err != nil {
			return err
		}
	}
	s.Ident = ""
	if ident != nil {
		s.Ident = *ident
	}
	return nil
}

// Var is a single observed value tagged with its table B code. Value holds a
// string, an int or a float64 depending on the variable type.
type Var struct {
	Code  string
	Value any
}

// Info returns the table B entry for the variable.
func (v Var) Info() (VarInfo, error) {
	return LookupVar(v.Code)
}

// Stats summarises a dataset: number of values and datetime extremes.
type Stats struct {
	DatetimeMin *time.Time
	DatetimeMax *time.Time
	Count       int
}

// FormatDatetime renders a datetime in DatetimeLayout, or nil if absent.
func FormatDatetime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(DatetimeLayout)
	return &s
}

// ParseDatetime parses a DatetimeLayout string in UTC.
func ParseDatetime(s string) (time.Time, error) {
	return time.ParseInLocation(DatetimeLayout, strings.TrimSpace(s), time.UTC)
}

func joinInts(vals []int) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		if v == MissingInt {
			parts[i] = "-"
		} else {
			parts[i] = strconv.Itoa(v)
		}
	}
	return strings.Join(parts, ",")
}

func marshalInts(vals []int) ([]byte, error) {
	out := make([]*int, len(vals))
	for i := range vals {
		if vals[i] != MissingInt {
			out[i] = &vals[i]
		}
	}
	return json.Marshal(out)
}

func unmarshalInts(data []byte, size int) ([]int, error) {
	var raw []*json.Number
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if len(raw) > size {
		return nil, fmt.Errorf("%d elements, expected at most %d", len(raw), size)
	}
	out := make([]int, size)
	for i := range out {
		out[i] = MissingInt
		if i >= len(raw) || raw[i] == nil {
			continue
		}
		v, err := strconv.Atoi(raw[i].String())
		if err != nil {
			return nil, fmt.Errorf("element %d: %q is not an integer", i, raw[i].String())
		}
		out[i] = v
	}
	return out, nil
}
