package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// Account is a user hosted on this server.
// The matching ActivityPub actor is built from it on first use.
type Account struct {
	Name          string `gorm:"primaryKey"`
	DisplayName   string
	Type          string // Person, Service...
	Summary       string
	Token         string // bearer token for posting to the outbox
	PrivateKeyPEM string
	PublicKeyPEM  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Accounts interface {
	// FindAccount returns nil without an error if there's no such account.
	FindAccount(ctx context.Context, name string) (*Account, error)
	SaveAccount(ctx context.Context, a *Account) error
	ListAccounts(ctx context.Context) ([]Account, error)
}

func (s *sqliteDatabase) FindAccount(ctx context.Context, name string) (*Account, error) {
	var account Account
	tx := s.db.WithContext(ctx).First(&account, &Account{Name: name})
	if errors.Is(tx.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	} else if tx.Error != nil {
		return nil, tx.Error
	}
	return &account, nil
}

func (s *sqliteDatabase) SaveAccount(ctx context.Context, a *Account) error {
	tx := s.db.WithContext(ctx).Save(a)
	return tx.Error
}

func (s *sqliteDatabase) ListAccounts(ctx context.Context) (accounts []Account, err error) {
	tx := s.db.WithContext(ctx).Order("name").Find(&accounts)
	if tx.Error != nil {
		return nil, tx.Error
	}
	return accounts, nil
}
