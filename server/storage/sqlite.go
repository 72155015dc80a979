package storage

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Database holds the host's own records: local accounts and follow requests.
type Database interface {
	Accounts
	Follows
	Open() error
	Close()
	// DB is the underlying connection, shared with the entity store.
	DB() *gorm.DB
}

// sqliteDatabase is backed by a single sqlite connection
type sqliteDatabase struct {
	connection string
	db         *gorm.DB
	sqldb      *sql.DB
}

func (s *sqliteDatabase) Open() error {
	if s.db != nil {
		s.Close()
	}
	newLogger := logger.New(
		log.New(os.Stdout, "", log.LstdFlags), // io writer
		logger.Config{
			SlowThreshold:             time.Second,  // Slow SQL threshold
			LogLevel:                  logger.Error, // Log level
			IgnoreRecordNotFoundError: true,         // Ignore ErrRecordNotFound error for logger
			Colorful:                  false,        // Disable color
		},
	)
	db, err := gorm.Open(sqlite.Open(s.connection), &gorm.Config{
		Logger: newLogger,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return err
	}
	s.sqldb, err = db.DB()
	if err != nil {
		return err
	}
	// sqlite wants one writer, and :memory: is per connection
	s.sqldb.SetMaxOpenConns(1)
	s.db = db
	// create tables
	if err := s.db.Migrator().AutoMigrate(&Account{}, &Follow{}); err != nil {
		s.Close()
		return fmt.Errorf("creating tables in %s: %w", s.connection, err)
	}
	return nil
}

func (s *sqliteDatabase) Close() {
	if s.db != nil {
		s.sqldb.Close()
		s.sqldb = nil
		s.db = nil
	}
}

func (s *sqliteDatabase) DB() *gorm.DB {
	return s.db
}

func NewDatabase(connection string) Database {
	return &sqliteDatabase{
		connection: connection,
	}
}
