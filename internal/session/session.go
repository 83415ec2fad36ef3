// Package session serializes explorer operations over one storage
// connection.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/arpa-simc/provami/internal/database"
	"github.com/arpa-simc/provami/internal/dballe"
	"github.com/arpa-simc/provami/internal/explorer"
	"github.com/arpa-simc/provami/internal/exporter"
	"github.com/arpa-simc/provami/internal/metrics"
)

// DefaultDataLimit is the number of rows returned by GetData until the
// limit is changed.
const DefaultDataLimit = 20

// Config holds the optional collaborators of a Session.
type Config struct {
	// DBURL is reported in the explorer view, with any password redacted.
	DBURL     string
	DataLimit int
	Describer dballe.Describer
	Logger    *zap.SugaredLogger
	Metrics   *metrics.Metrics
}

// Session owns the storage connection, the active filter and the explorer
// cache. All storage access runs on a single worker goroutine.
type Session struct {
	dbURL       string
	worker      *worker
	cache       *explorer.Cache
	revalidator *explorer.Revalidator
	logger      *zap.SugaredLogger
	metrics     *metrics.Metrics

	// Only accessed from worker tasks
	dataLimit *int
}

// Open connects to dbURL and returns a session owning the connection.
func Open(dbURL string, cfg Config) (*Session, error) {
	db, err := database.Connect(dbURL, cfg.Logger)
	if err != nil {
		return nil, err
	}
	cfg.DBURL = dbURL
	return New(db, cfg), nil
}

// New returns a session owning db.
func New(db dballe.DB, cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Session{
		dbURL:   database.RedactURL(cfg.DBURL),
		worker:  newWorker(db, logger, cfg.Metrics),
		cache:   explorer.NewCache(cfg.Describer),
		logger:  logger,
		metrics: cfg.Metrics,
	}
	limit := cfg.DataLimit
	if limit == 0 {
		limit = DefaultDataLimit
	}
	if limit > 0 {
		s.dataLimit = &limit
	}
	s.revalidator = explorer.NewRevalidator(s.rebuild, s.cache.MarkInitialized, logger.Named("revalidator"), cfg.Metrics)
	return s
}

func (s *Session) rebuild(ctx context.Context) error {
	return s.worker.Do(ctx, func(db dballe.DB) error {
		return db.Transaction(ctx, func(tr dballe.Transaction) error {
			return s.cache.Rebuild(ctx, tr)
		})
	})
}

// Close stops the worker and closes the storage connection.
func (s *Session) Close() error {
	s.worker.Close()
	return s.worker.db.Close()
}

// DBURL returns the datasource URL with any password redacted.
func (s *Session) DBURL() string {
	return s.dbURL
}

// Initialized reports whether the explorer summary has been built.
func (s *Session) Initialized() bool {
	return s.cache.Initialized()
}

// Revalidator exposes the revalidation coordinator.
func (s *Session) Revalidator() *explorer.Revalidator {
	return s.revalidator
}

// classify maps storage errors to the explorer taxonomy.
func (s *Session) classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, explorer.ErrInvalidFilterValue),
		errors.Is(err, explorer.ErrInvalidRecord),
		errors.Is(err, explorer.ErrNotFound),
		errors.Is(err, explorer.ErrStorageUnavailable),
		errors.Is(err, ErrClosed),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, dballe.ErrNotFound):
		// both sentinels read "not found"
		return fmt.Errorf("%w: %s", explorer.ErrNotFound, strings.TrimPrefix(err.Error(), dballe.ErrNotFound.Error()+": "))
	case errors.Is(err, dballe.ErrUnknownVarcode):
		return fmt.Errorf("%w: %s", explorer.ErrInvalidRecord, err.Error())
	}
	s.logger.Errorf("%s: %v", op, err)
	return fmt.Errorf("%w: %v", explorer.ErrStorageUnavailable, err)
}

func (s *Session) view() explorer.View {
	var limit *int
	if s.dataLimit != nil {
		l := *s.dataLimit
		limit = &l
	}
	return s.cache.View(limit, s.dbURL)
}

// View returns the current explorer projection.
func (s *Session) View(ctx context.Context) (explorer.View, error) {
	var v explorer.View
	err := s.worker.Do(ctx, func(dballe.DB) error {
		v = s.view()
		return nil
	})
	return v, s.classify("view", err)
}

// Init builds the explorer summary on first use and returns the projection.
func (s *Session) Init(ctx context.Context) (explorer.View, error) {
	s.logger.Debug("init")
	if !s.cache.Initialized() {
		if err := s.revalidator.Ensure(ctx); err != nil {
			return explorer.View{}, s.classify("init", err)
		}
	}
	return s.View(ctx)
}

// RefreshFilter rebuilds the explorer summary and returns the projection.
func (s *Session) RefreshFilter(ctx context.Context) (explorer.View, error) {
	s.logger.Debug("refresh_filter")
	if err := s.revalidator.Ensure(ctx); err != nil {
		return explorer.View{}, s.classify("refresh_filter", err)
	}
	return s.View(ctx)
}

// SetFilter replaces the active filter and recomputes the selectable
// stations without rescanning the dataset.
func (s *Session) SetFilter(ctx context.Context, display map[string]json.RawMessage) (explorer.View, error) {
	s.logger.Debugf("set_filter %d fields", len(display))
	f, err := explorer.FromDisplay(display)
	if err != nil {
		return explorer.View{}, err
	}
	var v explorer.View
	err = s.worker.Do(ctx, func(dballe.DB) error {
		if err := s.cache.ApplyFilter(f); err != nil {
			return err
		}
		v = s.view()
		return nil
	})
	return v, s.classify("set_filter", err)
}

// Filter returns the active filter.
func (s *Session) Filter(ctx context.Context) (explorer.Filter, error) {
	var f explorer.Filter
	err := s.worker.Do(ctx, func(dballe.DB) error {
		f = s.cache.Filter()
		return nil
	})
	return f, s.classify("filter", err)
}

// readData runs inside a task.
func (s *Session) readData(ctx context.Context, db dballe.DB) ([]DataRow, error) {
	q, err := s.cache.Filter().ToQuery()
	if err != nil {
		return nil, err
	}
	q = q.WithLimit(s.dataLimit)
	rows := []DataRow{}
	err = db.Transaction(ctx, func(tr dballe.Transaction) error {
		values, err := tr.QueryData(ctx, q)
		if err != nil {
			return err
		}
		for _, v := range values {
			rows = append(rows, newDataRow(v))
		}
		return nil
	})
	return rows, err
}

// GetData returns the values matching the active filter, up to the data
// limit.
func (s *Session) GetData(ctx context.Context) ([]DataRow, error) {
	var rows []DataRow
	err := s.worker.Do(ctx, func(db dballe.DB) error {
		var err error
		rows, err = s.readData(ctx, db)
		return err
	})
	return rows, s.classify("get_data", err)
}

// readStationData runs inside a task.
func (s *Session) readStationData(ctx context.Context, db dballe.DB, id int) (*StationInfo, []StationValueRow, error) {
	var station *StationInfo
	rows := []StationValueRow{}
	err := db.Transaction(ctx, func(tr dballe.Transaction) error {
		q := dballe.Query{AnaID: &id}
		stations, err := tr.QueryStations(ctx, q)
		if err != nil {
			return err
		}
		if len(stations) == 0 {
			return fmt.Errorf("%w: station %d", dballe.ErrNotFound, id)
		}
		station = newStationInfo(stations[0])

		values, err := tr.QueryStationData(ctx, q)
		if err != nil {
			return err
		}
		for _, v := range values {
			rows = append(rows, newStationValueRow(v))
		}
		return nil
	})
	return station, rows, err
}

// GetStationData returns the station with the given id and all its station
// values.
func (s *Session) GetStationData(ctx context.Context, id int) (*StationInfo, []StationValueRow, error) {
	var station *StationInfo
	var rows []StationValueRow
	err := s.worker.Do(ctx, func(db dballe.DB) error {
		var err error
		station, rows, err = s.readStationData(ctx, db, id)
		return err
	})
	if err != nil {
		return nil, nil, s.classify("get_station_data", err)
	}
	return station, rows, nil
}

func (s *Session) readAttrs(ctx context.Context, db dballe.DB, query func(dballe.Transaction) ([]dballe.Var, error)) ([]AttrRow, error) {
	rows := []AttrRow{}
	err := db.Transaction(ctx, func(tr dballe.Transaction) error {
		attrs, err := query(tr)
		if err != nil {
			return err
		}
		for _, a := range attrs {
			rows = append(rows, newAttrRow(a))
		}
		return nil
	})
	return rows, err
}

// GetStationDataAttrs returns the attributes of a station value.
func (s *Session) GetStationDataAttrs(ctx context.Context, id int) ([]AttrRow, error) {
	var rows []AttrRow
	err := s.worker.Do(ctx, func(db dballe.DB) error {
		var err error
		rows, err = s.readAttrs(ctx, db, func(tr dballe.Transaction) ([]dballe.Var, error) {
			return tr.AttrQueryStation(ctx, id)
		})
		return err
	})
	return rows, s.classify("get_station_data_attrs", err)
}

// GetDataAttrs returns the attributes of a measured value.
func (s *Session) GetDataAttrs(ctx context.Context, id int) ([]AttrRow, error) {
	var rows []AttrRow
	err := s.worker.Do(ctx, func(db dballe.DB) error {
		var err error
		rows, err = s.readAttrs(ctx, db, func(tr dballe.Transaction) ([]dballe.Var, error) {
			return tr.AttrQueryData(ctx, id)
		})
		return err
	})
	return rows, s.classify("get_data_attrs", err)
}

// ReplaceData writes a measured value, replacing any existing one, and
// returns the refreshed data rows.
func (s *Session) ReplaceData(ctx context.Context, rec DataRecord) ([]DataRow, error) {
	s.logger.Debugf("replace_data %d %s %s", rec.AnaID, rec.Var.Code, rec.Datetime.Format(dballe.DatetimeLayout))
	var rows []DataRow
	err := s.worker.Do(ctx, func(db dballe.DB) error {
		err := db.Transaction(ctx, func(tr dballe.Transaction) error {
			anaID := rec.AnaID
			return tr.InsertData(ctx, dballe.DataRecord{
				Station:  dballe.StationKey{AnaID: &anaID},
				Level:    rec.Level,
				Trange:   rec.Trange,
				Datetime: rec.Datetime,
				Vars:     []dballe.Var{rec.Var},
			}, true, false)
		})
		if err != nil {
			return err
		}
		rows, err = s.readData(ctx, db)
		return err
	})
	return rows, s.classify("replace_data", err)
}

// ReplaceStationData writes a station value and returns the refreshed
// station data.
func (s *Session) ReplaceStationData(ctx context.Context, rec StationRecord) (*StationInfo, []StationValueRow, error) {
	s.logger.Debugf("replace_station_data %d %s", rec.AnaID, rec.Var.Code)
	var station *StationInfo
	var rows []StationValueRow
	err := s.worker.Do(ctx, func(db dballe.DB) error {
		err := db.Transaction(ctx, func(tr dballe.Transaction) error {
			anaID := rec.AnaID
			return tr.InsertStationData(ctx, dballe.StationRecord{
				Station: dballe.StationKey{AnaID: &anaID},
				Vars:    []dballe.Var{rec.Var},
			}, true, false)
		})
		if err != nil {
			return err
		}
		station, rows, err = s.readStationData(ctx, db, rec.AnaID)
		return err
	})
	if err != nil {
		return nil, nil, s.classify("replace_station_data", err)
	}
	return station, rows, nil
}

// ReplaceStationDataAttr writes an attribute of a station value and returns
// the refreshed attribute list.
func (s *Session) ReplaceStationDataAttr(ctx context.Context, id int, attr dballe.Var) ([]AttrRow, error) {
	s.logger.Debugf("replace_station_data_attr %d %s", id, attr.Code)
	var rows []AttrRow
	err := s.worker.Do(ctx, func(db dballe.DB) error {
		err := db.Transaction(ctx, func(tr dballe.Transaction) error {
			return tr.AttrInsertStation(ctx, id, []dballe.Var{attr})
		})
		if err != nil {
			return err
		}
		rows, err = s.readAttrs(ctx, db, func(tr dballe.Transaction) ([]dballe.Var, error) {
			return tr.AttrQueryStation(ctx, id)
		})
		return err
	})
	return rows, s.classify("replace_station_data_attr", err)
}

// ReplaceDataAttr writes an attribute of a measured value and returns the
// refreshed attribute list.
func (s *Session) ReplaceDataAttr(ctx context.Context, id int, attr dballe.Var) ([]AttrRow, error) {
	s.logger.Debugf("replace_data_attr %d %s", id, attr.Code)
	var rows []AttrRow
	err := s.worker.Do(ctx, func(db dballe.DB) error {
		err := db.Transaction(ctx, func(tr dballe.Transaction) error {
			return tr.AttrInsertData(ctx, id, []dballe.Var{attr})
		})
		if err != nil {
			return err
		}
		rows, err = s.readAttrs(ctx, db, func(tr dballe.Transaction) ([]dballe.Var, error) {
			return tr.AttrQueryData(ctx, id)
		})
		return err
	})
	return rows, s.classify("replace_data_attr", err)
}

// SetDataLimit changes the row cap of GetData. A nil or non-positive limit
// removes the cap.
func (s *Session) SetDataLimit(ctx context.Context, limit *int) ([]DataRow, error) {
	var rows []DataRow
	err := s.worker.Do(ctx, func(db dballe.DB) error {
		if limit == nil || *limit <= 0 {
			s.dataLimit = nil
		} else {
			l := *limit
			s.dataLimit = &l
		}
		var err error
		rows, err = s.readData(ctx, db)
		return err
	})
	return rows, s.classify("set_data_limit", err)
}

// Export writes the data matching the active filter to w, one message at a
// time.
func (s *Session) Export(ctx context.Context, format exporter.Format, w io.Writer) error {
	out, err := exporter.NewWriter(format, w)
	if err != nil {
		return fmt.Errorf("%w: %v", explorer.ErrInvalidRecord, err)
	}
	count := 0
	err = s.worker.Do(ctx, func(db dballe.DB) error {
		q, err := s.cache.Filter().ToQuery()
		if err != nil {
			return err
		}
		return db.Transaction(ctx, func(tr dballe.Transaction) error {
			return tr.QueryMessages(ctx, q, func(msg *dballe.Message) error {
				count++
				return out.WriteMessage(msg)
			})
		})
	})
	err = errors.Join(err, out.Close())
	s.metrics.ExportedMessages(string(format), count)
	s.logger.Debugf("exported %d %s messages", count, format)
	return s.classify("export", err)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Ping checks that the storage connection is usable.
func (s *Session) Ping(ctx context.Context) error {
	err := s.worker.Do(ctx, func(db dballe.DB) error {
		if p, ok := db.(pinger); ok {
			return p.Ping(ctx)
		}
		return nil
	})
	return s.classify("ping", err)
}
