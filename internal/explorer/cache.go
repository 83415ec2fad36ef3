package explorer

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/arpa-simc/provami/internal/dballe"
)

// Cache holds the explorer snapshot: the summary of the whole dataset and
// the part of it still selectable under the active filter.
//
// Cache is not safe for concurrent use, except for Initialized. The session
// only touches it from its worker goroutine.
type Cache struct {
	describer   dballe.Describer
	filter      Filter
	all         *dballe.Summary
	selected    *dballe.Summary
	initialized atomic.Bool
}

// StatsView is the projection of the dataset statistics.
type StatsView struct {
	DatetimeMin *string `json:"datetime_min"`
	DatetimeMax *string `json:"datetime_max"`
	Count       int     `json:"count"`
}

// View is the read-only projection sent to front-ends.
type View struct {
	Filter           DisplayFilter            `json:"filter"`
	FilterCmdline    string                   `json:"filter_cmdline"`
	Stations         []dballe.Station         `json:"stations"`
	StationsDisabled []dballe.Station         `json:"stations_disabled"`
	RepMemo          []string                 `json:"rep_memo"`
	Level            []Labeled[dballe.Level]  `json:"level"`
	Trange           []Labeled[dballe.Trange] `json:"trange"`
	Var              []Labeled[string]        `json:"var"`
	Stats            *StatsView               `json:"stats"`
	Initialized      bool                     `json:"initialized"`
	DataLimit        *int                     `json:"data_limit"`
	DBURL            string                   `json:"db_url"`
}

// NewCache returns an empty, uninitialized cache.
func NewCache(d dballe.Describer) *Cache {
	if d == nil {
		d = dballe.Descriptions{}
	}
	return &Cache{describer: d}
}

// Filter returns the active filter.
func (c *Cache) Filter() Filter {
	return c.filter
}

// Initialized reports whether a rebuild has succeeded at least once.
func (c *Cache) Initialized() bool {
	return c.initialized.Load()
}

// MarkInitialized records a successful rebuild.
func (c *Cache) MarkInitialized() {
	c.initialized.Store(true)
}

// Rebuild replaces the snapshot with a fresh aggregation scan. On error the
// previous snapshot is left untouched.
func (c *Cache) Rebuild(ctx context.Context, tr dballe.Transaction) error {
	q, err := c.filter.ToQuery()
	if err != nil {
		return err
	}
	sum, err := tr.Summary(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRevalidationFailed, err)
	}
	c.all = sum
	c.selected = sum.Select(q)
	return nil
}

// ApplyFilter makes f the active filter and recomputes the selectable
// stations from the cached summary, without scanning the dataset.
func (c *Cache) ApplyFilter(f Filter) error {
	q, err := f.ToQuery()
	if err != nil {
		return err
	}
	c.filter = f
	if c.all != nil {
		c.selected = c.all.Select(q)
	}
	return nil
}

// View projects the snapshot. dataLimit and dbURL are passed through.
func (c *Cache) View(dataLimit *int, dbURL string) View {
	v := View{
		Filter:           c.filter.ToDisplay(c.describer),
		FilterCmdline:    c.filter.ToCommandLine(),
		Stations:         []dballe.Station{},
		StationsDisabled: []dballe.Station{},
		RepMemo:          []string{},
		Level:            []Labeled[dballe.Level]{},
		Trange:           []Labeled[dballe.Trange]{},
		Var:              []Labeled[string]{},
		Initialized:      c.Initialized(),
		DataLimit:        dataLimit,
		DBURL:            dbURL,
	}
	if !v.Initialized || c.all == nil {
		return v
	}

	selectable := make(map[dballe.Station]bool)
	for _, s := range c.selected.Stations() {
		selectable[s] = true
	}
	for _, s := range c.all.Stations() {
		if selectable[s] {
			v.Stations = append(v.Stations, s)
		} else {
			v.StationsDisabled = append(v.StationsDisabled, s)
		}
	}

	v.RepMemo = append(v.RepMemo, c.all.Reports()...)
	for _, l := range c.all.Levels() {
		v.Level = append(v.Level, Labeled[dballe.Level]{l, c.describer.DescribeLevel(l)})
	}
	for _, t := range c.all.Tranges() {
		v.Trange = append(v.Trange, Labeled[dballe.Trange]{t, c.describer.DescribeTrange(t)})
	}
	for _, code := range c.all.Varcodes() {
		v.Var = append(v.Var, Labeled[string]{code, c.describer.DescribeVar(code)})
	}

	stats := c.all.Stats()
	v.Stats = &StatsView{
		DatetimeMin: dballe.FormatDatetime(stats.DatetimeMin),
		DatetimeMax: dballe.FormatDatetime(stats.DatetimeMax),
		Count:       stats.Count,
	}
	return v
}
