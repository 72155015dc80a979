package data

import (
	"fmt"
	"time"

	"github.com/tkrehbiel/activitycore/server/activity"
)

// activityObject is the gorm model for a stored entity
type activityObject struct {
	ID           uint
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ActivityID   string `gorm:"index;unique"`
	ActivityType string
	ActivityTime time.Time
	ActivityJSON string
}

func newActivityObject(e activity.Entity) (*activityObject, error) {
	p := e.Properties()
	if p.ID == "" {
		return nil, fmt.Errorf("can't store a %s without an id: %w", e.Type(), activity.ErrValidation)
	}
	b, err := activity.Encode(e)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", p.ID, err)
	}
	return &activityObject{
		ActivityID:   p.ID,
		ActivityType: e.Type(),
		ActivityTime: p.Published,
		ActivityJSON: string(b),
	}, nil
}

func (o activityObject) entity() (activity.Entity, error) {
	e, err := activity.Decode([]byte(o.ActivityJSON))
	if err != nil {
		return nil, fmt.Errorf("decoding stored object ID %s: %w", o.ActivityID, err)
	}
	return e, nil
}
