package explorer

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arpa-simc/provami/internal/dballe"
)

// fakeTx answers Summary from a fixed index and counts the scans.
type fakeTx struct {
	dballe.Transaction
	summary *dballe.Summary
	err     error
	scans   atomic.Int32
}

func (f *fakeTx) Summary(ctx context.Context) (*dballe.Summary, error) {
	f.scans.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.summary, nil
}

var (
	t0     = time.Date(1945, 4, 25, 8, 0, 0, 0, time.UTC)
	synop  = dballe.Station{Report: "synop", ID: 1, Lat: 12.3456, Lon: 76.5432}
	temp   = dballe.Station{Report: "temp", ID: 2, Lat: 12.3456, Lon: 76.5432}
	layer  = dballe.NewLevel(10, 11, 15, 22)
	trange = dballe.NewTrange(20, 111, 222)
)

func testSummary() *dballe.Summary {
	return dballe.NewSummary([]dballe.SummaryEntry{
		{Station: synop, Level: layer, Trange: trange, Varcode: "B01011", DatetimeMin: t0, DatetimeMax: t0, Count: 1},
		{Station: synop, Level: layer, Trange: trange, Varcode: "B01012", DatetimeMin: t0, DatetimeMax: t0, Count: 1},
		{Station: temp, Level: layer, Trange: trange, Varcode: "B01011", DatetimeMin: t0, DatetimeMax: t0, Count: 1},
		{Station: temp, Level: layer, Trange: trange, Varcode: "B01012", DatetimeMin: t0, DatetimeMax: t0, Count: 1},
	})
}

func builtCache(t *testing.T) *Cache {
	t.Helper()
	c := NewCache(nil)
	if err := c.Rebuild(context.Background(), &fakeTx{summary: testSummary()}); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	c.MarkInitialized()
	return c
}

func TestUninitializedView(t *testing.T) {
	c := NewCache(nil)
	v := c.View(ptr(20), "sqlite::memory:")
	if v.Initialized {
		t.Error("new cache reports initialized")
	}
	if v.Stats != nil {
		t.Errorf("stats = %+v, want nil", v.Stats)
	}
	if len(v.Stations) != 0 || len(v.StationsDisabled) != 0 || len(v.RepMemo) != 0 ||
		len(v.Level) != 0 || len(v.Trange) != 0 || len(v.Var) != 0 {
		t.Errorf("uninitialized view has content: %+v", v)
	}
	if v.Stations == nil || v.Level == nil {
		t.Error("lists must encode as [] rather than null")
	}
	if *v.DataLimit != 20 || v.DBURL != "sqlite::memory:" {
		t.Errorf("pass-through fields: limit=%v url=%q", v.DataLimit, v.DBURL)
	}
}

func TestRebuildView(t *testing.T) {
	c := builtCache(t)
	v := c.View(nil, "")

	if !reflect.DeepEqual(v.Stations, []dballe.Station{synop, temp}) {
		t.Errorf("stations = %v", v.Stations)
	}
	if len(v.StationsDisabled) != 0 {
		t.Errorf("stations_disabled = %v", v.StationsDisabled)
	}
	if !reflect.DeepEqual(v.RepMemo, []string{"synop", "temp"}) {
		t.Errorf("rep_memo = %v", v.RepMemo)
	}
	if len(v.Level) != 1 || v.Level[0].Value != layer || v.Level[0].Desc != "Layer from [10 11] to [15 22]" {
		t.Errorf("level = %+v", v.Level)
	}
	if len(v.Trange) != 1 || v.Trange[0].Desc != "20 111 222" {
		t.Errorf("trange = %+v", v.Trange)
	}
	if len(v.Var) != 2 {
		t.Errorf("var = %+v", v.Var)
	}
	if v.Stats == nil || v.Stats.Count != 4 || *v.Stats.DatetimeMin != "1945-04-25 08:00:00" {
		t.Errorf("stats = %+v", v.Stats)
	}
}

func TestApplyFilterPartitionsStations(t *testing.T) {
	c := builtCache(t)
	before := c.View(nil, "")

	filters := []Filter{
		{},
		{RepMemo: ptr("synop")},
		{RepMemo: ptr("nothing")},
		{AnaID: ptr(2)},
		{DateMin: ptr(t0.Add(-time.Hour)), DateMax: ptr(t0.Add(time.Hour))},
		{DateMin: ptr(t0.Add(time.Hour))},
		{LatMin: ptr(50.0)},
		{Var: ptr("B01012")},
	}
	for _, f := range filters {
		if err := c.ApplyFilter(f); err != nil {
			t.Fatalf("ApplyFilter(%+v): %v", f, err)
		}
		v := c.View(nil, "")

		seen := make(map[dballe.Station]int)
		for _, s := range v.Stations {
			seen[s]++
		}
		for _, s := range v.StationsDisabled {
			seen[s]++
		}
		for _, s := range before.Stations {
			if seen[s] != 1 {
				t.Errorf("filter %s: station %v appears %d times across stations and stations_disabled", f.ToCommandLine(), s, seen[s])
			}
		}
		if len(seen) != len(before.Stations) {
			t.Errorf("filter %s: %d stations in the split, want %d", f.ToCommandLine(), len(seen), len(before.Stations))
		}

		if !reflect.DeepEqual(v.RepMemo, before.RepMemo) ||
			!reflect.DeepEqual(v.Level, before.Level) ||
			!reflect.DeepEqual(v.Trange, before.Trange) ||
			!reflect.DeepEqual(v.Var, before.Var) ||
			!reflect.DeepEqual(v.Stats, before.Stats) {
			t.Errorf("filter %s changed the summary lists", f.ToCommandLine())
		}
	}
}

func TestApplyFilterDateWindow(t *testing.T) {
	c := builtCache(t)

	if err := c.ApplyFilter(Filter{DateMin: ptr(t0.Add(-time.Hour)), DateMax: ptr(t0.Add(time.Hour))}); err != nil {
		t.Fatal(err)
	}
	v := c.View(nil, "")
	if len(v.Stations) != 2 || len(v.StationsDisabled) != 0 {
		t.Errorf("window containing the data: stations=%v disabled=%v", v.Stations, v.StationsDisabled)
	}

	if err := c.ApplyFilter(Filter{DateMin: ptr(t0.Add(24 * time.Hour)), DateMax: ptr(t0.Add(48 * time.Hour))}); err != nil {
		t.Fatal(err)
	}
	v = c.View(nil, "")
	if len(v.Stations) != 0 || !reflect.DeepEqual(v.StationsDisabled, []dballe.Station{synop, temp}) {
		t.Errorf("empty window: stations=%v disabled=%v", v.Stations, v.StationsDisabled)
	}
}

func TestApplyFilterRejectsInvalid(t *testing.T) {
	c := builtCache(t)
	if err := c.ApplyFilter(Filter{RepMemo: ptr("synop")}); err != nil {
		t.Fatal(err)
	}
	if err := c.ApplyFilter(Filter{LatMin: ptr(100.0)}); !errors.Is(err, ErrInvalidFilterValue) {
		t.Fatalf("got %v, want ErrInvalidFilterValue", err)
	}
	if got := c.Filter(); got.RepMemo == nil || *got.RepMemo != "synop" || got.LatMin != nil {
		t.Errorf("invalid filter replaced the active one: %+v", got)
	}
}

func TestRebuildFailureKeepsSnapshot(t *testing.T) {
	c := builtCache(t)
	before := c.View(nil, "")

	err := c.Rebuild(context.Background(), &fakeTx{err: errors.New("disk on fire")})
	if !errors.Is(err, ErrRevalidationFailed) {
		t.Fatalf("got %v, want ErrRevalidationFailed", err)
	}
	if after := c.View(nil, ""); !reflect.DeepEqual(after, before) {
		t.Errorf("failed rebuild changed the snapshot")
	}
}
