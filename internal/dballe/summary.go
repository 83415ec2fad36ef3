package dballe

import (
	"sort"
	"time"
)

// SummaryEntry aggregates all values sharing a station, level, time range and
// varcode.
type SummaryEntry struct {
	Station     Station
	Level       Level
	Trange      Trange
	Varcode     string
	DatetimeMin time.Time
	DatetimeMax time.Time
	Count       int
}

// Summary is the explorer index built by one aggregation scan. It is
// immutable once built; Select derives narrower summaries without touching
// the storage.
type Summary struct {
	entries []SummaryEntry
}

// NewSummary wraps the entries of an aggregation scan.
func NewSummary(entries []SummaryEntry) *Summary {
	return &Summary{entries: entries}
}

// Entries returns the underlying entries.
func (s *Summary) Entries() []SummaryEntry {
	if s == nil {
		return nil
	}
	return s.entries
}

// Select returns the entries matching q. Datetime bounds keep an entry when
// its [min, max] interval overlaps the requested one.
func (s *Summary) Select(q Query) *Summary {
	if s == nil {
		return &Summary{}
	}
	var out []SummaryEntry
	for _, e := range s.entries {
		if matchEntry(q, e) {
			out = append(out, e)
		}
	}
	return &Summary{entries: out}
}

func matchEntry(q Query, e SummaryEntry) bool {
	if !q.MatchStation(e.Station) {
		return false
	}
	if q.Level != nil && *q.Level != e.Level {
		return false
	}
	if q.Trange != nil && *q.Trange != e.Trange {
		return false
	}
	if q.Var != nil && *q.Var != e.Varcode {
		return false
	}
	if q.DatetimeMin != nil && e.DatetimeMax.Before(*q.DatetimeMin) {
		return false
	}
	if q.DatetimeMax != nil && e.DatetimeMin.After(*q.DatetimeMax) {
		return false
	}
	return true
}

// Stations returns the distinct stations, ordered by id.
func (s *Summary) Stations() []Station {
	seen := make(map[Station]bool)
	var out []Station
	for _, e := range s.Entries() {
		if !seen[e.Station] {
			seen[e.Station] = true
			out = append(out, e.Station)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Reports returns the distinct report memos in order of first appearance
// among stations sorted by id.
func (s *Summary) Reports() []string {
	seen := make(map[string]bool)
	var out []string
	for _, st := range s.Stations() {
		if !seen[st.Report] {
			seen[st.Report] = true
			out = append(out, st.Report)
		}
	}
	return out
}

// Levels returns the distinct levels, sorted.
func (s *Summary) Levels() []Level {
	seen := make(map[Level]bool)
	var out []Level
	for _, e := range s.Entries() {
		if !seen[e.Level] {
			seen[e.Level] = true
			out = append(out, e.Level)
		}
	}
	sort.Slice(out, func(i, j int) bool { return lessInts(out[i].Tuple(), out[j].Tuple()) })
	return out
}

// Tranges returns the distinct time ranges, sorted.
func (s *Summary) Tranges() []Trange {
	seen := make(map[Trange]bool)
	var out []Trange
	for _, e := range s.Entries() {
		if !seen[e.Trange] {
			seen[e.Trange] = true
			out = append(out, e.Trange)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Tuple(), out[j].Tuple()
		return lessInts(
			[4]int{a[0], a[1], a[2]},
			[4]int{b[0], b[1], b[2]},
		)
	})
	return out
}

// Varcodes returns the distinct varcodes, sorted.
func (s *Summary) Varcodes() []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range s.Entries() {
		if !seen[e.Varcode] {
			seen[e.Varcode] = true
			out = append(out, e.Varcode)
		}
	}
	sort.Strings(out)
	return out
}

// Stats returns count and datetime extremes over all entries.
func (s *Summary) Stats() Stats {
	var st Stats
	for _, e := range s.Entries() {
		st.Count += e.Count
		if st.DatetimeMin == nil || e.DatetimeMin.Before(*st.DatetimeMin) {
			t := e.DatetimeMin
			st.DatetimeMin = &t
		}
		if st.DatetimeMax == nil || e.DatetimeMax.After(*st.DatetimeMax) {
			t := e.DatetimeMax
			st.DatetimeMax = &t
		}
	}
	return st
}

func lessInts(a, b [4]int) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
