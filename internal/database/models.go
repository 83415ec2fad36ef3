package database

// StationModel is a fixed or mobile observation platform
type StationModel struct {
	ID      int    `gorm:"primaryKey;autoIncrement;column:id"`
	RepMemo string `gorm:"column:rep_memo;not null;uniqueIndex:idx_station_identity"`
	Lat     int    `gorm:"column:lat;not null;uniqueIndex:idx_station_identity"`
	Lon     int    `gorm:"column:lon;not null;uniqueIndex:idx_station_identity"`
	Ident   string `gorm:"column:ident;not null;default:'';uniqueIndex:idx_station_identity"`
}

// TableName specifies the table name for StationModel
func (StationModel) TableName() string {
	return "stations"
}

// StationDataModel is a station-level value, such as the station name or height
type StationDataModel struct {
	ID        int    `gorm:"primaryKey;autoIncrement;column:id"`
	StationID int    `gorm:"column:station_id;not null;uniqueIndex:idx_station_data_context"`
	Varcode   string `gorm:"column:varcode;not null;uniqueIndex:idx_station_data_context"`
	Value     string `gorm:"column:value;not null"`
}

// TableName specifies the table name for StationDataModel
func (StationDataModel) TableName() string {
	return "station_data"
}

// DataModel is a measured value with its level, time range and datetime.
// Datetime is stored as unix seconds so that aggregates are portable across
// dialects.
type DataModel struct {
	ID        int    `gorm:"primaryKey;autoIncrement;column:id"`
	StationID int    `gorm:"column:station_id;not null;uniqueIndex:idx_data_context"`
	Ltype1    int    `gorm:"column:ltype1;not null;uniqueIndex:idx_data_context"`
	L1        int    `gorm:"column:l1;not null;uniqueIndex:idx_data_context"`
	Ltype2    int    `gorm:"column:ltype2;not null;uniqueIndex:idx_data_context"`
	L2        int    `gorm:"column:l2;not null;uniqueIndex:idx_data_context"`
	Pind      int    `gorm:"column:pind;not null;uniqueIndex:idx_data_context"`
	P1        int    `gorm:"column:p1;not null;uniqueIndex:idx_data_context"`
	P2        int    `gorm:"column:p2;not null;uniqueIndex:idx_data_context"`
	Datetime  int64  `gorm:"column:datetime;not null;uniqueIndex:idx_data_context;index"`
	Varcode   string `gorm:"column:varcode;not null;uniqueIndex:idx_data_context"`
	Value     string `gorm:"column:value;not null"`
}

// TableName specifies the table name for DataModel
func (DataModel) TableName() string {
	return "data"
}

// AttrModel is an attribute of a value. The same shape is stored in two
// tables, one per kind of owning value.
type AttrModel struct {
	DataID  int    `gorm:"primaryKey;autoIncrement:false;column:data_id"`
	Varcode string `gorm:"primaryKey;column:varcode"`
	Value   string `gorm:"column:value;not null"`
}

const (
	dataAttrsTable        = "data_attrs"
	stationDataAttrsTable = "station_data_attrs"
)
