package server

import (
	"strings"

	"github.com/tkrehbiel/activitycore/server/telemetry"
)

// FollowPolicy decides what happens to incoming follow requests
type FollowPolicy int

const (
	// FollowReject is first so the zero value is the safe one
	FollowReject FollowPolicy = iota
	FollowAccept
	FollowManual
)

func (p FollowPolicy) String() string {
	switch p {
	case FollowAccept:
		return "ACCEPT"
	case FollowManual:
		return "MANUAL"
	}
	return "REJECT"
}

// ParseFollowPolicy reads ACCEPT, REJECT or MANUAL in any case.
// Anything else is a configuration mistake and means REJECT.
func ParseFollowPolicy(s string) FollowPolicy {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ACCEPT":
		return FollowAccept
	case "MANUAL":
		return FollowManual
	case "REJECT":
		return FollowReject
	}
	telemetry.Warn("unknown follow policy [%s], rejecting follow requests", s)
	telemetry.Increment("config_errors", 1)
	return FollowReject
}
