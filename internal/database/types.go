package database

import (
	"time"

	"github.com/arpa-simc/provami/internal/dballe"
)

// coordScale converts between degrees and the integer storage unit.
const coordScale = 100000

func coordToInt(v float64) int {
	if v < 0 {
		return int(v*coordScale - 0.5)
	}
	return int(v*coordScale + 0.5)
}

func coordToFloat(v int) float64 {
	return float64(v) / coordScale
}

// StationColumns is embedded in every row joined with the stations table
type StationColumns struct {
	StationID int    `gorm:"column:station_id"`
	RepMemo   string `gorm:"column:rep_memo"`
	Lat       int    `gorm:"column:lat"`
	Lon       int    `gorm:"column:lon"`
	Ident     string `gorm:"column:ident"`
}

func (s StationColumns) station() dballe.Station {
	return dballe.Station{
		Report: s.RepMemo,
		ID:     s.StationID,
		Lat:    coordToFloat(s.Lat),
		Lon:    coordToFloat(s.Lon),
		Ident:  s.Ident,
	}
}

// ContextColumns holds level and time range of a data row
type ContextColumns struct {
	Ltype1 int `gorm:"column:ltype1"`
	L1     int `gorm:"column:l1"`
	Ltype2 int `gorm:"column:ltype2"`
	L2     int `gorm:"column:l2"`
	Pind   int `gorm:"column:pind"`
	P1     int `gorm:"column:p1"`
	P2     int `gorm:"column:p2"`
}

func (c ContextColumns) level() dballe.Level {
	return dballe.Level{Ltype1: c.Ltype1, L1: c.L1, Ltype2: c.Ltype2, L2: c.L2}
}

func (c ContextColumns) trange() dballe.Trange {
	return dballe.Trange{Pind: c.Pind, P1: c.P1, P2: c.P2}
}

// summaryRow is one group of the aggregation scan
type summaryRow struct {
	StationColumns
	ContextColumns
	Varcode     string `gorm:"column:varcode"`
	DatetimeMin int64  `gorm:"column:datetime_min"`
	DatetimeMax int64  `gorm:"column:datetime_max"`
	Count       int    `gorm:"column:cnt"`
}

// dataRow is a data value joined with its station
type dataRow struct {
	ID int `gorm:"column:id"`
	StationColumns
	ContextColumns
	Datetime int64  `gorm:"column:datetime"`
	Varcode  string `gorm:"column:varcode"`
	Value    string `gorm:"column:value"`
}

func (r dataRow) datetime() time.Time {
	return time.Unix(r.Datetime, 0).UTC()
}

// stationDataRow is a station value joined with its station
type stationDataRow struct {
	ID int `gorm:"column:id"`
	StationColumns
	Varcode string `gorm:"column:varcode"`
	Value   string `gorm:"column:value"`
}

func decodeVar(code, value string) dballe.Var {
	info, err := dballe.LookupVar(code)
	if err != nil {
		return dballe.Var{Code: code, Value: value}
	}
	v, err := info.Decode(value)
	if err != nil {
		return dballe.Var{Code: code, Value: value}
	}
	return dballe.Var{Code: code, Value: v}
}
