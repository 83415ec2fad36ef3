package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/arpa-simc/provami/internal/dballe"
)

func openTestDB(t *testing.T) *Client {
	t.Helper()
	c, err := Connect(":memory:", zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func testKey() dballe.StationKey {
	return dballe.StationKey{Report: "synop", Lat: 12.3456, Lon: 76.5432}
}

func seed(t *testing.T, c *Client) {
	t.Helper()
	ctx := context.Background()
	dt := time.Date(1945, 4, 25, 8, 0, 0, 0, time.UTC)
	err := c.Transaction(ctx, func(tx dballe.Transaction) error {
		if err := tx.InsertStationData(ctx, dballe.StationRecord{
			Station: testKey(),
			Vars:    []dballe.Var{{Code: "B01019", Value: "Test station"}},
		}, false, true); err != nil {
			return err
		}
		return tx.InsertData(ctx, dballe.DataRecord{
			Station:  testKey(),
			Level:    dballe.NewLevel(10, 11, 15, 22),
			Trange:   dballe.NewTrange(20, 111, 222),
			Datetime: dt,
			Vars: []dballe.Var{
				{Code: "B01011", Value: "Hey Hey!!"},
				{Code: "B01012", Value: 500},
			},
		}, false, true)
	})
	if err != nil {
		t.Fatalf("seeding: %v", err)
	}
}

func TestRedactURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"sqlite:test.sqlite", "sqlite:test.sqlite"},
		{"postgresql://user:secret@db/dballe", "postgresql://user:xxxxx@db/dballe"},
		{"postgresql://user@db/dballe", "postgresql://user@db/dballe"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := RedactURL(tt.in); got != tt.want {
				t.Errorf("RedactURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestConnectUnsupportedScheme(t *testing.T) {
	if _, err := Connect("mysql://localhost/x", zap.NewNop().Sugar()); err == nil {
		t.Error("expected an error for an unsupported scheme")
	}
	if _, err := Connect("", zap.NewNop().Sugar()); err == nil {
		t.Error("expected an error for an empty URL")
	}
}

func TestSummaryAndQueries(t *testing.T) {
	c := openTestDB(t)
	seed(t, c)
	ctx := context.Background()

	err := c.Transaction(ctx, func(tx dballe.Transaction) error {
		sum, err := tx.Summary(ctx)
		if err != nil {
			return err
		}
		entries := sum.Entries()
		if len(entries) != 2 {
			t.Fatalf("summary has %d entries, want 2", len(entries))
		}
		st := entries[0].Station
		if st.Report != "synop" || st.Lat != 12.3456 || st.Lon != 76.5432 {
			t.Errorf("unexpected station %+v", st)
		}
		if stats := sum.Stats(); stats.Count != 2 {
			t.Errorf("stats count = %d, want 2", stats.Count)
		}

		rows, err := tx.QueryData(ctx, dballe.Query{})
		if err != nil {
			return err
		}
		if len(rows) != 2 {
			t.Fatalf("QueryData returned %d rows, want 2", len(rows))
		}
		if rows[0].Var.Code != "B01011" || rows[0].Var.Value != "Hey Hey!!" {
			t.Errorf("unexpected first row %+v", rows[0].Var)
		}
		if rows[1].Var.Code != "B01012" || rows[1].Var.Value != 500 {
			t.Errorf("unexpected second row %+v", rows[1].Var)
		}

		limit := 1
		rows, err = tx.QueryData(ctx, dballe.Query{Limit: &limit})
		if err != nil {
			return err
		}
		if len(rows) != 1 {
			t.Errorf("limited QueryData returned %d rows, want 1", len(rows))
		}

		v := "B01012"
		rows, err = tx.QueryData(ctx, dballe.Query{Var: &v})
		if err != nil {
			return err
		}
		if len(rows) != 1 || rows[0].Var.Code != v {
			t.Errorf("QueryData(var=%s) = %+v", v, rows)
		}

		latmin := 50.0
		rows, err = tx.QueryData(ctx, dballe.Query{LatMin: &latmin})
		if err != nil {
			return err
		}
		if len(rows) != 0 {
			t.Errorf("QueryData(latmin=50) returned %d rows, want 0", len(rows))
		}

		svals, err := tx.QueryStationData(ctx, dballe.Query{})
		if err != nil {
			return err
		}
		if len(svals) != 1 || svals[0].Var.Value != "Test station" {
			t.Errorf("QueryStationData = %+v", svals)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
}

func TestInsertReplaceAndMissingStation(t *testing.T) {
	c := openTestDB(t)
	seed(t, c)
	ctx := context.Background()

	rec := dballe.DataRecord{
		Station:  testKey(),
		Level:    dballe.NewLevel(10, 11, 15, 22),
		Trange:   dballe.NewTrange(20, 111, 222),
		Datetime: time.Date(1945, 4, 25, 8, 0, 0, 0, time.UTC),
		Vars:     []dballe.Var{{Code: "B01012", Value: 600}},
	}

	err := c.Transaction(ctx, func(tx dballe.Transaction) error {
		return tx.InsertData(ctx, rec, false, false)
	})
	if !errors.Is(err, dballe.ErrAlreadyExists) {
		t.Errorf("insert without replace: got %v, want ErrAlreadyExists", err)
	}

	err = c.Transaction(ctx, func(tx dballe.Transaction) error {
		return tx.InsertData(ctx, rec, true, false)
	})
	if err != nil {
		t.Fatalf("replace: %v", err)
	}

	var got []dballe.DataValue
	_ = c.Transaction(ctx, func(tx dballe.Transaction) error {
		v := "B01012"
		got, err = tx.QueryData(ctx, dballe.Query{Var: &v})
		return err
	})
	if len(got) != 1 || got[0].Var.Value != 600 {
		t.Errorf("after replace got %+v", got)
	}

	missing := 999
	rec.Station = dballe.StationKey{AnaID: &missing}
	err = c.Transaction(ctx, func(tx dballe.Transaction) error {
		return tx.InsertData(ctx, rec, true, false)
	})
	if !errors.Is(err, dballe.ErrNotFound) {
		t.Errorf("insert on missing station: got %v, want ErrNotFound", err)
	}

	rec.Station = dballe.StationKey{Report: "temp", Lat: 1, Lon: 1}
	err = c.Transaction(ctx, func(tx dballe.Transaction) error {
		return tx.InsertData(ctx, rec, true, false)
	})
	if !errors.Is(err, dballe.ErrNotFound) {
		t.Errorf("insert on new station without canAddStations: got %v, want ErrNotFound", err)
	}
}

func TestAttributes(t *testing.T) {
	c := openTestDB(t)
	seed(t, c)
	ctx := context.Background()

	err := c.Transaction(ctx, func(tx dballe.Transaction) error {
		rows, err := tx.QueryData(ctx, dballe.Query{})
		if err != nil {
			return err
		}
		id := rows[0].ID
		if err := tx.AttrInsertData(ctx, id, []dballe.Var{{Code: "B33007", Value: 50}}); err != nil {
			return err
		}
		if err := tx.AttrInsertData(ctx, id, []dballe.Var{{Code: "B33007", Value: 75}}); err != nil {
			return err
		}
		attrs, err := tx.AttrQueryData(ctx, id)
		if err != nil {
			return err
		}
		if len(attrs) != 1 || attrs[0].Value != 75 {
			t.Errorf("AttrQueryData = %+v", attrs)
		}

		if _, err := tx.AttrQueryData(ctx, 12345); !errors.Is(err, dballe.ErrNotFound) {
			t.Errorf("AttrQueryData on missing id: got %v, want ErrNotFound", err)
		}
		if err := tx.AttrInsertStation(ctx, 12345, nil); !errors.Is(err, dballe.ErrNotFound) {
			t.Errorf("AttrInsertStation on missing id: got %v, want ErrNotFound", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
}

func TestQueryMessages(t *testing.T) {
	c := openTestDB(t)
	seed(t, c)
	ctx := context.Background()

	var msgs []*dballe.Message
	err := c.Transaction(ctx, func(tx dballe.Transaction) error {
		return tx.QueryMessages(ctx, dballe.Query{}, func(m *dballe.Message) error {
			msgs = append(msgs, m)
			return nil
		})
	})
	if err != nil {
		t.Fatalf("QueryMessages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	m := msgs[0]
	if len(m.StationVars) != 1 || m.StationVars[0].Code != "B01019" {
		t.Errorf("station vars = %+v", m.StationVars)
	}
	if len(m.Contexts) != 1 || len(m.Contexts[0].Vars) != 2 {
		t.Errorf("contexts = %+v", m.Contexts)
	}
}

func TestJoinedRowsCarryStationAndContext(t *testing.T) {
	c := openTestDB(t)
	seed(t, c)
	ctx := context.Background()

	other := dballe.StationKey{Report: "temp", Lat: 45.5, Lon: 11.25}
	err := c.Transaction(ctx, func(tx dballe.Transaction) error {
		return tx.InsertData(ctx, dballe.DataRecord{
			Station:  other,
			Level:    dballe.NewLevel(1),
			Trange:   dballe.NewTrange(254, 0, 0),
			Datetime: time.Date(1945, 4, 25, 8, 0, 0, 0, time.UTC),
			Vars:     []dballe.Var{{Code: "B12101", Value: 273.15}},
		}, false, true)
	})
	if err != nil {
		t.Fatalf("inserting second station: %v", err)
	}

	wantLevel := dballe.NewLevel(10, 11, 15, 22)
	wantTrange := dballe.NewTrange(20, 111, 222)

	err = c.Transaction(ctx, func(tx dballe.Transaction) error {
		sum, err := tx.Summary(ctx)
		if err != nil {
			return err
		}
		stations := sum.Stations()
		if len(stations) != 2 {
			t.Fatalf("summary has %d stations, want 2: %+v", len(stations), stations)
		}
		for _, st := range stations {
			if st.ID == 0 || st.Report == "" {
				t.Errorf("summary station lost its columns: %+v", st)
			}
		}
		for _, e := range sum.Entries() {
			if e.Station.Report != "synop" {
				continue
			}
			if e.Level != wantLevel {
				t.Errorf("summary level = %+v, want %+v", e.Level, wantLevel)
			}
			if e.Trange != wantTrange {
				t.Errorf("summary trange = %+v, want %+v", e.Trange, wantTrange)
			}
		}

		synop := "synop"
		rows, err := tx.QueryData(ctx, dballe.Query{RepMemo: &synop})
		if err != nil {
			return err
		}
		if len(rows) != 2 {
			t.Fatalf("QueryData returned %d rows, want 2", len(rows))
		}
		r := rows[0]
		if r.Station.Report != "synop" || r.Station.Lat != 12.3456 || r.Station.ID == 0 {
			t.Errorf("data row station = %+v", r.Station)
		}
		if r.Level != wantLevel || r.Trange != wantTrange {
			t.Errorf("data row context = %+v %+v", r.Level, r.Trange)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Transaction: %v", err)
	}

	var msgs []*dballe.Message
	err = c.Transaction(ctx, func(tx dballe.Transaction) error {
		return tx.QueryMessages(ctx, dballe.Query{}, func(m *dballe.Message) error {
			msgs = append(msgs, m)
			return nil
		})
	})
	if err != nil {
		t.Fatalf("QueryMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want one per station", len(msgs))
	}
	for _, m := range msgs {
		switch m.Station.Report {
		case "synop":
			if len(m.StationVars) != 1 {
				t.Errorf("synop station vars = %+v", m.StationVars)
			}
		case "temp":
			if len(m.StationVars) != 0 {
				t.Errorf("temp station vars = %+v, want none", m.StationVars)
			}
		default:
			t.Errorf("unexpected message station %+v", m.Station)
		}
	}
}

func TestSchemaMigrations(t *testing.T) {
	url := "sqlite:" + filepath.Join(t.TempDir(), "obs.sqlite")
	for i := 0; i < 2; i++ {
		c, err := Connect(url, zap.NewNop().Sugar())
		if err != nil {
			t.Fatalf("Connect() #%d error = %v", i, err)
		}
		var names []string
		if err := c.DB.Raw("SELECT name FROM sqlite_master WHERE type = 'index' AND name LIKE 'idx_%' ORDER BY name").Scan(&names).Error; err != nil {
			t.Fatal(err)
		}
		for _, want := range []string{"idx_data_level", "idx_data_varcode", "idx_stations_coords"} {
			if !slices.Contains(names, want) {
				t.Errorf("connection #%d: index %s missing from %v", i, want, names)
			}
		}
		c.Close()
	}
}

func TestIsUniqueViolation(t *testing.T) {
	c := openTestDB(t)
	st := StationModel{RepMemo: "synop", Lat: 1, Lon: 2}
	if err := c.DB.Create(&st).Error; err != nil {
		t.Fatal(err)
	}
	dup := StationModel{RepMemo: "synop", Lat: 1, Lon: 2}
	sqliteErr := c.DB.Create(&dup).Error

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"sqlite duplicate", sqliteErr, true},
		{"postgres duplicate", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), true},
		{"postgres other", &pgconn.PgError{Code: "23502"}, false},
		{"not found", gorm.ErrRecordNotFound, false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isUniqueViolation(tt.err); got != tt.want {
				t.Errorf("isUniqueViolation(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
