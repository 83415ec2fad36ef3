package dballe

import (
	"strconv"
	"time"
)

// Query is the native query object understood by the engine. Nil fields put
// no constraint on their axis.
type Query struct {
	AnaID       *int
	RepMemo     *string
	Level       *Level
	Trange      *Trange
	Var         *string
	DatetimeMin *time.Time
	DatetimeMax *time.Time
	LatMin      *float64
	LatMax      *float64
	LonMin      *float64
	LonMax      *float64
	Limit       *int
}

// QueryItem is one active query field rendered as text.
type QueryItem struct {
	Key   string
	Value string
}

// Items lists the active fields in their canonical order.
func (q Query) Items() []QueryItem {
	var items []QueryItem
	add := func(k, v string) { items = append(items, QueryItem{k, v}) }
	if q.AnaID != nil {
		add("ana_id", strconv.Itoa(*q.AnaID))
	}
	if q.RepMemo != nil {
		add("rep_memo", *q.RepMemo)
	}
	if q.Level != nil {
		add("level", q.Level.String())
	}
	if q.Trange != nil {
		add("trange", q.Trange.String())
	}
	if q.Var != nil {
		add("var", *q.Var)
	}
	if q.DatetimeMin != nil {
		add("datetimemin", q.DatetimeMin.UTC().Format(DatetimeLayout))
	}
	if q.DatetimeMax != nil {
		add("datetimemax", q.DatetimeMax.UTC().Format(DatetimeLayout))
	}
	for _, f := range []struct {
		key string
		val *float64
	}{{"latmin", q.LatMin}, {"latmax", q.LatMax}, {"lonmin", q.LonMin}, {"lonmax", q.LonMax}} {
		if f.val != nil {
			add(f.key, strconv.FormatFloat(*f.val, 'f', -1, 64))
		}
	}
	if q.Limit != nil {
		add("limit", strconv.Itoa(*q.Limit))
	}
	return items
}

// MatchStation reports whether a station satisfies the station axes of the query.
func (q Query) MatchStation(s Station) bool {
	if q.AnaID != nil && *q.AnaID != s.ID {
		return false
	}
	if q.RepMemo != nil && *q.RepMemo != s.Report {
		return false
	}
	if q.LatMin != nil && s.Lat < *q.LatMin {
		return false
	}
	if q.LatMax != nil && s.Lat > *q.LatMax {
		return false
	}
	if q.LonMin != nil && s.Lon < *q.LonMin {
		return false
	}
	if q.LonMax != nil && s.Lon > *q.LonMax {
		return false
	}
	return true
}

// WithLimit returns a copy of the query with the given row limit.
func (q Query) WithLimit(limit *int) Query {
	q.Limit = limit
	return q
}
