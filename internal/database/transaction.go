package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/arpa-simc/provami/internal/dballe"
)

const stationSelect = "s.id AS station_id, s.rep_memo, s.lat, s.lon, s.ident"

const contextSelect = "d.ltype1, d.l1, d.ltype2, d.l2, d.pind, d.p1, d.p2"

type transaction struct {
	tx     *gorm.DB
	logger *zap.SugaredLogger
}

var _ dballe.Transaction = (*transaction)(nil)

func (t *transaction) db(ctx context.Context) *gorm.DB {
	return t.tx.WithContext(ctx)
}

// Summary scans the whole data table grouping by station, level, time range
// and varcode.
func (t *transaction) Summary(ctx context.Context) (*dballe.Summary, error) {
	var rows []summaryRow
	err := t.db(ctx).Raw(`SELECT ` + stationSelect + `, ` + contextSelect + `, d.varcode,
		MIN(d.datetime) AS datetime_min, MAX(d.datetime) AS datetime_max, COUNT(*) AS cnt
		FROM data d JOIN stations s ON s.id = d.station_id
		GROUP BY s.id, s.rep_memo, s.lat, s.lon, s.ident,
			d.ltype1, d.l1, d.ltype2, d.l2, d.pind, d.p1, d.p2, d.varcode
		ORDER BY s.id, d.ltype1, d.l1, d.ltype2, d.l2, d.pind, d.p1, d.p2, d.varcode`).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("error scanning summary: %w", err)
	}

	entries := make([]dballe.SummaryEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, dballe.SummaryEntry{
			Station:     r.station(),
			Level:       r.level(),
			Trange:      r.trange(),
			Varcode:     r.Varcode,
			DatetimeMin: time.Unix(r.DatetimeMin, 0).UTC(),
			DatetimeMax: time.Unix(r.DatetimeMax, 0).UTC(),
			Count:       r.Count,
		})
	}
	t.logger.Debugf("summary scan returned %d entries", len(entries))
	return dballe.NewSummary(entries), nil
}

func whereStation(db *gorm.DB, q dballe.Query) *gorm.DB {
	if q.AnaID != nil {
		db = db.Where("s.id = ?", *q.AnaID)
	}
	if q.RepMemo != nil {
		db = db.Where("s.rep_memo = ?", *q.RepMemo)
	}
	if q.LatMin != nil {
		db = db.Where("s.lat >= ?", coordToInt(*q.LatMin))
	}
	if q.LatMax != nil {
		db = db.Where("s.lat <= ?", coordToInt(*q.LatMax))
	}
	if q.LonMin != nil {
		db = db.Where("s.lon >= ?", coordToInt(*q.LonMin))
	}
	if q.LonMax != nil {
		db = db.Where("s.lon <= ?", coordToInt(*q.LonMax))
	}
	return db
}

func whereData(db *gorm.DB, q dballe.Query) *gorm.DB {
	db = whereStation(db, q)
	if q.Level != nil {
		db = db.Where("d.ltype1 = ? AND d.l1 = ? AND d.ltype2 = ? AND d.l2 = ?",
			q.Level.Ltype1, q.Level.L1, q.Level.Ltype2, q.Level.L2)
	}
	if q.Trange != nil {
		db = db.Where("d.pind = ? AND d.p1 = ? AND d.p2 = ?", q.Trange.Pind, q.Trange.P1, q.Trange.P2)
	}
	if q.Var != nil {
		db = db.Where("d.varcode = ?", *q.Var)
	}
	if q.DatetimeMin != nil {
		db = db.Where("d.datetime >= ?", q.DatetimeMin.Unix())
	}
	if q.DatetimeMax != nil {
		db = db.Where("d.datetime <= ?", q.DatetimeMax.Unix())
	}
	return db
}

func withLimit(db *gorm.DB, q dballe.Query) *gorm.DB {
	if q.Limit != nil && *q.Limit > 0 {
		db = db.Limit(*q.Limit)
	}
	return db
}

// QueryStations returns the stations matching the station axes of q
func (t *transaction) QueryStations(ctx context.Context, q dballe.Query) ([]dballe.Station, error) {
	var rows []StationColumns
	db := t.db(ctx).Table("stations s").Select(stationSelect).Order("s.id")
	if err := withLimit(whereStation(db, q), q).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("error querying stations: %w", err)
	}
	out := make([]dballe.Station, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.station())
	}
	return out, nil
}

// QueryStationData returns the station values of the stations matching q
func (t *transaction) QueryStationData(ctx context.Context, q dballe.Query) ([]dballe.StationValue, error) {
	var rows []stationDataRow
	db := t.db(ctx).Table("station_data d").
		Select("d.id, " + stationSelect + ", d.varcode, d.value").
		Joins("JOIN stations s ON s.id = d.station_id").
		Order("s.id, d.varcode")
	db = whereStation(db, q)
	if q.Var != nil {
		db = db.Where("d.varcode = ?", *q.Var)
	}
	if err := withLimit(db, q).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("error querying station data: %w", err)
	}
	out := make([]dballe.StationValue, 0, len(rows))
	for _, r := range rows {
		out = append(out, dballe.StationValue{
			ID:      r.ID,
			Station: r.station(),
			Var:     decodeVar(r.Varcode, r.Value),
		})
	}
	return out, nil
}

func (t *transaction) dataQuery(ctx context.Context, q dballe.Query) *gorm.DB {
	db := t.db(ctx).Table("data d").
		Select("d.id, " + stationSelect + ", " + contextSelect + ", d.datetime, d.varcode, d.value").
		Joins("JOIN stations s ON s.id = d.station_id")
	return whereData(db, q)
}

// QueryData returns the data values matching q, ordered by station,
// datetime, level, time range and varcode
func (t *transaction) QueryData(ctx context.Context, q dballe.Query) ([]dballe.DataValue, error) {
	var rows []dataRow
	db := t.dataQuery(ctx, q).
		Order("s.id, d.datetime, d.ltype1, d.l1, d.ltype2, d.l2, d.pind, d.p1, d.p2, d.varcode")
	if err := withLimit(db, q).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("error querying data: %w", err)
	}
	out := make([]dballe.DataValue, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.value())
	}
	return out, nil
}

func (r dataRow) value() dballe.DataValue {
	return dballe.DataValue{
		ID:       r.ID,
		Station:  r.station(),
		Level:    r.level(),
		Trange:   r.trange(),
		Datetime: r.datetime(),
		Var:      decodeVar(r.Varcode, r.Value),
	}
}

// QueryMessages streams the data matching q grouped by station and datetime.
// Station values are attached to every message of their station.
func (t *transaction) QueryMessages(ctx context.Context, q dballe.Query, fn func(*dballe.Message) error) error {
	// Limits apply to rows, not messages
	q.Limit = nil

	// Station values are loaded upfront so that a single statement is active
	// on the connection while data rows stream.
	svals, err := t.QueryStationData(ctx, dballe.Query{
		AnaID:   q.AnaID,
		RepMemo: q.RepMemo,
		LatMin:  q.LatMin,
		LatMax:  q.LatMax,
		LonMin:  q.LonMin,
		LonMax:  q.LonMax,
	})
	if err != nil {
		return err
	}
	stationVars := make(map[int][]dballe.Var)
	for _, sv := range svals {
		stationVars[sv.Station.ID] = append(stationVars[sv.Station.ID], sv.Var)
	}

	rows, err := t.dataQuery(ctx, q).
		Order("s.id, d.datetime, d.ltype1, d.l1, d.ltype2, d.l2, d.pind, d.p1, d.p2, d.varcode").
		Rows()
	if err != nil {
		return fmt.Errorf("error querying data: %w", err)
	}
	defer rows.Close()

	var msg *dballe.Message
	for rows.Next() {
		var r dataRow
		if err := t.tx.ScanRows(rows, &r); err != nil {
			return fmt.Errorf("error reading data row: %w", err)
		}
		v := r.value()
		if msg == nil || msg.Station.ID != v.Station.ID || !msg.Datetime.Equal(v.Datetime) {
			if msg != nil {
				if err := fn(msg); err != nil {
					return err
				}
			}
			msg = &dballe.Message{Station: v.Station, Datetime: v.Datetime, StationVars: stationVars[v.Station.ID]}
		}
		n := len(msg.Contexts)
		if n == 0 || msg.Contexts[n-1].Level != v.Level || msg.Contexts[n-1].Trange != v.Trange {
			msg.Contexts = append(msg.Contexts, dballe.MessageContext{Level: v.Level, Trange: v.Trange})
			n++
		}
		msg.Contexts[n-1].Vars = append(msg.Contexts[n-1].Vars, v.Var)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error reading data rows: %w", err)
	}
	if msg != nil {
		return fn(msg)
	}
	return nil
}

// resolveStation finds the station addressed by key, creating it when allowed
func (t *transaction) resolveStation(ctx context.Context, key dballe.StationKey, canAddStations bool) (int, error) {
	var st StationModel
	if key.AnaID != nil {
		err := t.db(ctx).Where("id = ?", *key.AnaID).Take(&st).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("%w: station %d", dballe.ErrNotFound, *key.AnaID)
		}
		if err != nil {
			return 0, fmt.Errorf("error looking up station %d: %w", *key.AnaID, err)
		}
		return st.ID, nil
	}

	lookup := StationModel{
		RepMemo: key.Report,
		Lat:     coordToInt(key.Lat),
		Lon:     coordToInt(key.Lon),
		Ident:   key.Ident,
	}
	err := t.db(ctx).
		Where("rep_memo = ? AND lat = ? AND lon = ? AND ident = ?", lookup.RepMemo, lookup.Lat, lookup.Lon, lookup.Ident).
		Take(&st).Error
	switch {
	case err == nil:
		return st.ID, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return 0, fmt.Errorf("error looking up station: %w", err)
	case !canAddStations:
		return 0, fmt.Errorf("%w: station %s %.5f,%.5f", dballe.ErrNotFound, key.Report, key.Lat, key.Lon)
	}
	if err := t.db(ctx).Create(&lookup).Error; err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: station %s %.5f,%.5f", dballe.ErrAlreadyExists, key.Report, key.Lat, key.Lon)
		}
		return 0, fmt.Errorf("error creating station: %w", err)
	}
	return lookup.ID, nil
}

func encodeVar(v dballe.Var) (string, error) {
	info, err := dballe.LookupVar(v.Code)
	if err != nil {
		return "", err
	}
	return info.Encode(v.Value)
}

// InsertStationData writes station values
func (t *transaction) InsertStationData(ctx context.Context, rec dballe.StationRecord, canReplace, canAddStations bool) error {
	stationID, err := t.resolveStation(ctx, rec.Station, canAddStations)
	if err != nil {
		return err
	}
	for _, v := range rec.Vars {
		value, err := encodeVar(v)
		if err != nil {
			return err
		}
		var existing StationDataModel
		err = t.db(ctx).Where("station_id = ? AND varcode = ?", stationID, v.Code).Take(&existing).Error
		switch {
		case err == nil:
			if !canReplace {
				return fmt.Errorf("%w: station %d %s", dballe.ErrAlreadyExists, stationID, v.Code)
			}
			if err := t.db(ctx).Model(&existing).Update("value", value).Error; err != nil {
				return fmt.Errorf("error updating station value: %w", err)
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			row := StationDataModel{StationID: stationID, Varcode: v.Code, Value: value}
			if err := t.db(ctx).Create(&row).Error; err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("%w: station %d %s", dballe.ErrAlreadyExists, stationID, v.Code)
				}
				return fmt.Errorf("error inserting station value: %w", err)
			}
		default:
			return fmt.Errorf("error looking up station value: %w", err)
		}
	}
	return nil
}

// InsertData writes measured values sharing one context
func (t *transaction) InsertData(ctx context.Context, rec dballe.DataRecord, canReplace, canAddStations bool) error {
	stationID, err := t.resolveStation(ctx, rec.Station, canAddStations)
	if err != nil {
		return err
	}
	for _, v := range rec.Vars {
		value, err := encodeVar(v)
		if err != nil {
			return err
		}
		row := DataModel{
			StationID: stationID,
			Ltype1:    rec.Level.Ltype1,
			L1:        rec.Level.L1,
			Ltype2:    rec.Level.Ltype2,
			L2:        rec.Level.L2,
			Pind:      rec.Trange.Pind,
			P1:        rec.Trange.P1,
			P2:        rec.Trange.P2,
			Datetime:  rec.Datetime.Unix(),
			Varcode:   v.Code,
		}
		var existing DataModel
		err = t.db(ctx).Where(&row, "StationID", "Ltype1", "L1", "Ltype2", "L2", "Pind", "P1", "P2", "Datetime", "Varcode").
			Take(&existing).Error
		switch {
		case err == nil:
			if !canReplace {
				return fmt.Errorf("%w: data %d", dballe.ErrAlreadyExists, existing.ID)
			}
			if err := t.db(ctx).Model(&existing).Update("value", value).Error; err != nil {
				return fmt.Errorf("error updating value: %w", err)
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			row.Value = value
			if err := t.db(ctx).Create(&row).Error; err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("%w: data %s at %s", dballe.ErrAlreadyExists, v.Code, rec.Datetime.UTC().Format(dballe.DatetimeLayout))
				}
				return fmt.Errorf("error inserting value: %w", err)
			}
		default:
			return fmt.Errorf("error looking up value: %w", err)
		}
	}
	return nil
}

func (t *transaction) attrQuery(ctx context.Context, owner any, table string, id int) ([]dballe.Var, error) {
	if err := t.checkOwner(ctx, owner, id); err != nil {
		return nil, err
	}
	var rows []AttrModel
	if err := t.db(ctx).Table(table).Where("data_id = ?", id).Order("varcode").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("error querying attributes: %w", err)
	}
	out := make([]dballe.Var, 0, len(rows))
	for _, r := range rows {
		out = append(out, decodeVar(r.Varcode, r.Value))
	}
	return out, nil
}

func (t *transaction) attrInsert(ctx context.Context, owner any, table string, id int, attrs []dballe.Var) error {
	if err := t.checkOwner(ctx, owner, id); err != nil {
		return err
	}
	for _, a := range attrs {
		value, err := encodeVar(a)
		if err != nil {
			return err
		}
		row := AttrModel{DataID: id, Varcode: a.Code, Value: value}
		err = t.db(ctx).Table(table).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "data_id"}, {Name: "varcode"}},
			DoUpdates: clause.AssignmentColumns([]string{"value"}),
		}).Create(&row).Error
		if err != nil {
			return fmt.Errorf("error writing attribute %s: %w", a.Code, err)
		}
	}
	return nil
}

func (t *transaction) checkOwner(ctx context.Context, owner any, id int) error {
	var count int64
	if err := t.db(ctx).Model(owner).Where("id = ?", id).Count(&count).Error; err != nil {
		return fmt.Errorf("error looking up value %d: %w", id, err)
	}
	if count == 0 {
		return fmt.Errorf("%w: value %d", dballe.ErrNotFound, id)
	}
	return nil
}

// AttrQueryStation returns the attributes of a station value
func (t *transaction) AttrQueryStation(ctx context.Context, id int) ([]dballe.Var, error) {
	return t.attrQuery(ctx, &StationDataModel{}, stationDataAttrsTable, id)
}

// AttrQueryData returns the attributes of a measured value
func (t *transaction) AttrQueryData(ctx context.Context, id int) ([]dballe.Var, error) {
	return t.attrQuery(ctx, &DataModel{}, dataAttrsTable, id)
}

// AttrInsertStation writes attributes of a station value
func (t *transaction) AttrInsertStation(ctx context.Context, id int, attrs []dballe.Var) error {
	return t.attrInsert(ctx, &StationDataModel{}, stationDataAttrsTable, id, attrs)
}

// AttrInsertData writes attributes of a measured value
func (t *transaction) AttrInsertData(ctx context.Context, id int, attrs []dballe.Var) error {
	return t.attrInsert(ctx, &DataModel{}, dataAttrsTable, id, attrs)
}
