package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// Follow statuses
const (
	FollowPending  = "pending"
	FollowAccepted = "accepted"
	FollowRejected = "rejected"
)

// Follow is a follow request received by a local account.
// Requests held for manual approval wait here until someone decides.
type Follow struct {
	ID         string `gorm:"primaryKey"` // the Follow activity id
	FollowerID string
	Username   string `gorm:"index"`
	Status     string
	UpdatedAt  time.Time
}

type Follows interface {
	FindFollow(ctx context.Context, id string) (*Follow, error)
	SaveFollow(ctx context.Context, f *Follow) error
	PendingFollows(ctx context.Context, username string) ([]Follow, error)
}

func (s *sqliteDatabase) FindFollow(ctx context.Context, id string) (*Follow, error) {
	var follow Follow
	tx := s.db.WithContext(ctx).First(&follow, &Follow{ID: id})
	if errors.Is(tx.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	} else if tx.Error != nil {
		return nil, tx.Error
	}
	return &follow, nil
}

func (s *sqliteDatabase) SaveFollow(ctx context.Context, f *Follow) error {
	tx := s.db.WithContext(ctx).Save(f)
	return tx.Error
}

func (s *sqliteDatabase) PendingFollows(ctx context.Context, username string) (follows []Follow, err error) {
	tx := s.db.WithContext(ctx).Where(&Follow{Username: username, Status: FollowPending}).Find(&follows)
	if tx.Error != nil {
		return nil, tx.Error
	}
	return follows, nil
}
