package server

import (
	"context"

	"github.com/tkrehbiel/activitycore/server/activity"
	"github.com/tkrehbiel/activitycore/server/telemetry"
)

// Notifier tells a local account that something happened to it.
type Notifier interface {
	Notify(ctx context.Context, recipient *activity.Actor, act *activity.Activity)
}

// LogNotifier writes notifications to the log.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, recipient *activity.Actor, act *activity.Activity) {
	telemetry.Increment("notifications", 1)
	telemetry.Log("notify %s: %s %s from %s", recipient.PreferredUsername, act.Type(), act.Object.URI(), act.Actor.URI())
}
