package data

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/tkrehbiel/activitycore/server/activity"
	"gorm.io/gorm"
)

// Store is the durable home of every entity we know about, local or remote.
// Writes are keyed by id and overwrite, so repeating one is harmless.
type Store interface {
	StoreEntity(ctx context.Context, e activity.Entity) error
	// RetrieveEntity returns nil without an error when nothing has that id.
	RetrieveEntity(ctx context.Context, id string) (activity.Entity, error)
	// Update runs fn on the current value (nil if absent) and stores what it returns.
	// Returning nil stores nothing.
	Update(ctx context.Context, id string, fn func(activity.Entity) (activity.Entity, error)) error
	BelongsToCurrentInstance(uri string) bool
}

// sqliteStore keeps entities as JSON documents in a sqlite table
type sqliteStore struct {
	name string // mainly for error messages
	base *url.URL
	db   *gorm.DB
}

// NewSQLiteStore creates the entity table in db if needed.
// baseURL is this server's public URL, used to tell local ids from remote ones.
func NewSQLiteStore(db *gorm.DB, baseURL string) (Store, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base url %s: %w", baseURL, err)
	}
	if err := db.Migrator().AutoMigrate(&activityObject{}); err != nil {
		return nil, fmt.Errorf("creating entity table: %w", err)
	}
	return &sqliteStore{name: "entities", base: base, db: db}, nil
}

func (s *sqliteStore) StoreEntity(ctx context.Context, e activity.Entity) error {
	return upsert(s.db.WithContext(ctx), e)
}

func (s *sqliteStore) RetrieveEntity(ctx context.Context, id string) (activity.Entity, error) {
	return find(s.db.WithContext(ctx), id)
}

func (s *sqliteStore) Update(ctx context.Context, id string, fn func(activity.Entity) (activity.Entity, error)) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := find(tx, id)
		if err != nil {
			return err
		}
		next, err := fn(current)
		if err != nil || next == nil {
			return err
		}
		if next.Properties().ID != id {
			return fmt.Errorf("update of %s returned %s", id, next.Properties().ID)
		}
		return upsert(tx, next)
	})
}

func (s *sqliteStore) BelongsToCurrentInstance(uri string) bool {
	u, err := url.Parse(uri)
	if err != nil {
		return false
	}
	return SameOrigin(s.base, u)
}

func find(db *gorm.DB, id string) (activity.Entity, error) {
	var row activityObject
	tx := db.Where(&activityObject{ActivityID: id}).First(&row)
	if errors.Is(tx.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	} else if tx.Error != nil {
		return nil, fmt.Errorf("error finding object ID %s: %w", id, tx.Error)
	}
	return row.entity()
}

func upsert(db *gorm.DB, e activity.Entity) error {
	next, err := newActivityObject(e)
	if err != nil {
		return err
	}
	var row activityObject
	tx := db.Where(&activityObject{ActivityID: next.ActivityID}).First(&row)
	if tx.Error == nil {
		// found, update the row
		row.ActivityType = next.ActivityType
		row.ActivityTime = next.ActivityTime
		row.ActivityJSON = next.ActivityJSON
		if tx := db.Save(&row); tx.Error != nil {
			return fmt.Errorf("error updating object ID %s: %w", row.ActivityID, tx.Error)
		}
		return nil
	} else if errors.Is(tx.Error, gorm.ErrRecordNotFound) {
		if tx := db.Create(next); tx.Error != nil {
			return fmt.Errorf("error creating object ID %s: %w", next.ActivityID, tx.Error)
		}
		return nil
	}
	return fmt.Errorf("error finding object ID %s: %w", next.ActivityID, tx.Error)
}

// SameOrigin compares scheme, host and port.
// A missing port counts as 80 on both sides.
func SameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) &&
		strings.EqualFold(a.Hostname(), b.Hostname()) &&
		normalizedPort(a) == normalizedPort(b)
}

func normalizedPort(u *url.URL) string {
	p := u.Port()
	if p == "" || p == "-1" {
		return "80"
	}
	return p
}
