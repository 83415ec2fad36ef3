package dballe

import (
	"context"
	"time"
)

// DB is a connection to the observation store. Implementations are not safe
// for concurrent use: callers must serialize access.
type DB interface {
	// Transaction runs fn inside a transaction, committing if fn returns nil.
	Transaction(ctx context.Context, fn func(Transaction) error) error
	Close() error
}

// Transaction exposes the engine primitives used by the explorer.
type Transaction interface {
	// Summary performs a full aggregation scan of the data.
	Summary(ctx context.Context) (*Summary, error)

	QueryStations(ctx context.Context, q Query) ([]Station, error)
	QueryStationData(ctx context.Context, q Query) ([]StationValue, error)
	QueryData(ctx context.Context, q Query) ([]DataValue, error)

	// QueryMessages groups data matching q by station and datetime and calls
	// fn once per group, in order.
	QueryMessages(ctx context.Context, q Query, fn func(*Message) error) error

	InsertStationData(ctx context.Context, rec StationRecord, canReplace, canAddStations bool) error
	InsertData(ctx context.Context, rec DataRecord, canReplace, canAddStations bool) error

	AttrQueryStation(ctx context.Context, id int) ([]Var, error)
	AttrQueryData(ctx context.Context, id int) ([]Var, error)
	AttrInsertStation(ctx context.Context, id int, attrs []Var) error
	AttrInsertData(ctx context.Context, id int, attrs []Var) error
}

// StationKey locates a station either by id or by its identity tuple.
type StationKey struct {
	AnaID  *int
	Report string
	Lat    float64
	Lon    float64
	Ident  string
}

// StationValue is a station-level variable.
type StationValue struct {
	ID      int
	Station Station
	Var     Var
}

// DataValue is a measured variable with its full context.
type DataValue struct {
	ID       int
	Station  Station
	Level    Level
	Trange   Trange
	Datetime time.Time
	Var      Var
}

// StationRecord is the payload of InsertStationData.
type StationRecord struct {
	Station StationKey
	Vars    []Var
}

// DataRecord is the payload of InsertData.
type DataRecord struct {
	Station  StationKey
	Level    Level
	Trange   Trange
	Datetime time.Time
	Vars     []Var
}

// MessageContext groups the variables sharing a level and time range.
type MessageContext struct {
	Level  Level
	Trange Trange
	Vars   []Var
}

// Message is all data of a station at one datetime, ready to be encoded.
type Message struct {
	Station     Station
	Datetime    time.Time
	StationVars []Var
	Contexts    []MessageContext
}
