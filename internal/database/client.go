package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/arpa-simc/provami/internal/dballe"
	"github.com/arpa-simc/provami/internal/log"
	"github.com/arpa-simc/provami/pkg/migrate"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Client holds the single connection to the observation store
type Client struct {
	url    string
	DB     *gorm.DB
	sqlDB  *sql.DB
	logger *zap.SugaredLogger
}

var _ dballe.DB = (*Client)(nil)

// Connect opens the database named by dbURL and makes sure the schema exists.
// Supported URLs are sqlite:PATH, sqlite://PATH, :memory:, a plain file path,
// and postgres:// or postgresql:// connection strings.
func Connect(dbURL string, logger *zap.SugaredLogger) (*Client, error) {
	if logger == nil {
		logger = log.GetSugaredLogger()
	}
	c := &Client{url: dbURL, logger: logger}

	dialector, err := c.dialector()
	if err != nil {
		return nil, err
	}

	logger.Infof("connecting to %s...", RedactURL(dbURL))
	c.DB, err = gorm.Open(dialector, &gorm.Config{Logger: newGormLogger()})
	if err != nil {
		logger.Warnf("unable to open database: %v", err)
		return nil, err
	}

	c.sqlDB, err = c.DB.DB()
	if err != nil {
		return nil, fmt.Errorf("error getting underlying connection: %w", err)
	}
	// One connection, serialized by the session worker
	c.sqlDB.SetMaxOpenConns(1)
	c.sqlDB.SetMaxIdleConns(1)
	c.sqlDB.SetConnMaxLifetime(0)

	if err := c.migrate(); err != nil {
		c.sqlDB.Close()
		return nil, err
	}
	logger.Info("database connection successful")
	return c, nil
}

func newGormLogger() logger.Interface {
	return logger.New(
		zap.NewStdLog(log.GetZapLogger()),
		logger.Config{
			SlowThreshold:             time.Second, // Slow SQL threshold
			LogLevel:                  logger.Warn, // Log level
			IgnoreRecordNotFoundError: true,        // Ignore ErrRecordNotFound error for logger
			Colorful:                  false,
		},
	)
}

func (c *Client) dialector() (gorm.Dialector, error) {
	u := c.url
	switch {
	case strings.HasPrefix(u, "postgres://"), strings.HasPrefix(u, "postgresql://"):
		return postgres.Open(u), nil
	case u == ":memory:", u == "sqlite::memory:", u == "sqlite://:memory:":
		return c.openSQLite(":memory:")
	case strings.HasPrefix(u, "sqlite://"):
		return c.openSQLite(strings.TrimPrefix(u, "sqlite://"))
	case strings.HasPrefix(u, "sqlite:"):
		return c.openSQLite(strings.TrimPrefix(u, "sqlite:"))
	case strings.Contains(u, "://"):
		return nil, fmt.Errorf("unsupported database URL scheme: %s", RedactURL(u))
	case u == "":
		return nil, fmt.Errorf("empty database URL")
	default:
		return c.openSQLite(u)
	}
}

func (c *Client) openSQLite(path string) (gorm.Dialector, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening sqlite database %s: %w", path, err)
	}
	return sqlite.New(sqlite.Config{DriverName: "sqlite", DSN: path, Conn: conn}), nil
}

func (c *Client) migrate() error {
	if err := c.DB.AutoMigrate(&StationModel{}, &StationDataModel{}, &DataModel{}); err != nil {
		return fmt.Errorf("error migrating schema: %w", err)
	}
	for _, table := range []string{dataAttrsTable, stationDataAttrsTable} {
		if err := c.DB.Table(table).AutoMigrate(&AttrModel{}); err != nil {
			return fmt.Errorf("error migrating %s: %w", table, err)
		}
	}

	applied, err := migrate.NewMigrator(c.DB, migrate.NewFSProvider(migrations, "migrations"), "provami_schema_migrations").MigrateUp()
	if err != nil {
		return fmt.Errorf("error applying schema migrations: %w", err)
	}
	if applied > 0 {
		c.logger.Infof("applied %d schema migrations", applied)
	}
	return nil
}

// URL returns the URL the client was opened with
func (c *Client) URL() string {
	return c.url
}

// Ping checks that the connection is alive
func (c *Client) Ping(ctx context.Context) error {
	return c.sqlDB.PingContext(ctx)
}

// Close releases the connection
func (c *Client) Close() error {
	return c.sqlDB.Close()
}

// Transaction runs fn in a database transaction
func (c *Client) Transaction(ctx context.Context, fn func(dballe.Transaction) error) error {
	return c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&transaction{tx: tx, logger: c.logger})
	})
}

// RedactURL hides the password of a connection URL
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
