package server

import (
	"context"
	"fmt"

	"github.com/tkrehbiel/activitycore/server/activity"
	"github.com/tkrehbiel/activitycore/server/telemetry"
)

// inboxHandler applies the effect of an activity arriving in a local inbox
// and returns the status to answer with.
type inboxHandler func(ctx context.Context, act *activity.Activity, recipient *activity.Actor) (int, error)

// outboxHandler applies the effect of a local actor posting an activity.
type outboxHandler func(ctx context.Context, act *activity.Activity, sender *activity.Actor) error

type handler struct {
	inbox  inboxHandler
	outbox outboxHandler
}

func (f *Federation) registerHandlers() map[string]handler {
	return map[string]handler{
		activity.CreateType:   {inbox: f.inboxCreate, outbox: f.outboxCreate},
		activity.UpdateType:   {inbox: f.inboxUpdate, outbox: f.outboxUpdate},
		activity.DeleteType:   {inbox: f.inboxDelete, outbox: f.outboxDelete},
		activity.FollowType:   {inbox: f.inboxFollow, outbox: f.outboxFollow},
		activity.AcceptType:   {inbox: f.inboxAccept, outbox: f.outboxAccept},
		activity.RejectType:   {inbox: f.inboxReject, outbox: f.outboxReject},
		activity.UndoType:     {inbox: f.inboxUndo, outbox: f.outboxUndo},
		activity.AnnounceType: {inbox: f.inboxAnnounce, outbox: noEffect},
		activity.LikeType:     {inbox: f.inboxLike, outbox: noEffect},
	}
}

func noEffect(ctx context.Context, act *activity.Activity, sender *activity.Actor) error {
	return nil
}

func (f *Federation) handlerFor(act *activity.Activity) (handler, bool) {
	kind, _, _ := activity.LookupKind(act.Type())
	h, ok := f.handlers[kind]
	return h, ok
}

// localDelivery hands an activity to a local inbox without going over the network
type localDelivery struct {
	f   *Federation
	act *activity.Activity
	to  string
}

func (d *localDelivery) String() string {
	return fmt.Sprintf("%s %s to %s", d.act.Type(), d.act.ID, d.to)
}

func (d *localDelivery) Deliver(ctx context.Context) error {
	recipient, err := d.f.actors.resolveURI(ctx, d.to)
	if err != nil {
		return err
	}
	// a private copy, as if it had come over the wire
	b, err := activity.Encode(d.act)
	if err != nil {
		return err
	}
	act, err := activity.DecodeAs[*activity.Activity](b)
	if err != nil {
		return err
	}
	ctx = withVerifiedSender(ctx, act.Actor.URI())
	status, err := d.f.HandleInboxRequest(ctx, act, recipient)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return &DeliveryError{URI: recipient.Inbox.URI(), Status: status}
	}
	return nil
}

// remoteDelivery posts an activity to a remote actor's inbox, signed by the sender
type remoteDelivery struct {
	f      *Federation
	sender *activity.Actor
	act    *activity.Activity
	to     string
}

func (d *remoteDelivery) String() string {
	return fmt.Sprintf("%s %s to %s", d.act.Type(), d.act.ID, d.to)
}

func (d *remoteDelivery) Deliver(ctx context.Context) error {
	ctx = withSigner(ctx, d.sender.PreferredUsername)
	recipient, err := d.f.actors.ResolveActor(ctx, d.to)
	if err != nil {
		return err
	}
	inbox := recipient.Inbox.URI()
	if inbox == "" {
		return fmt.Errorf("%w: %s has no inbox", ErrResolution, recipient.ID)
	}
	creds, err := d.f.credentials(ctx, d.sender)
	if err != nil {
		return err
	}
	return d.f.client.deliver(ctx, creds, inbox, d.act)
}

// deliver queues one delivery per recipient
func (f *Federation) deliver(sender *activity.Actor, act *activity.Activity, recipients []string) {
	for _, to := range recipients {
		if f.store.BelongsToCurrentInstance(to) {
			f.pipeline.Queue(&localDelivery{f: f, act: act, to: to})
		} else {
			f.pipeline.Queue(&remoteDelivery{f: f, sender: sender, act: act, to: to})
		}
	}
}

// publish records an activity in the sender's outbox and sends it out
func (f *Federation) publish(ctx context.Context, sender *activity.Actor, act *activity.Activity, recipients []string) error {
	if err := f.store.StoreEntity(ctx, act); err != nil {
		return err
	}
	if err := f.addToBox(ctx, sender.Outbox.URI(), act); err != nil {
		return err
	}
	f.deliver(sender, act, recipients)
	return nil
}

// recipients works out who an outgoing activity goes to: to and cc,
// plus the other party of a follow exchange. The sender's followers
// collection is expanded; the public address and the sender are skipped.
func (f *Federation) recipients(ctx context.Context, act *activity.Activity, sender *activity.Actor) []string {
	seen := map[string]bool{sender.ID: true, "": true}
	var out []string
	add := func(uri string) {
		if !seen[uri] {
			seen[uri] = true
			out = append(out, uri)
		}
	}
	followers := sender.Followers.URI()
	for _, r := range act.Recipients() {
		switch {
		case r.IsPublic():
		case r.URI() == followers:
			c, err := f.collection(ctx, followers)
			if err != nil {
				telemetry.Error(err, "reading followers %s", followers)
				continue
			}
			for _, uri := range c.URIs() {
				add(uri)
			}
		default:
			add(r.URI())
		}
	}
	if other := f.counterpart(act); other != "" {
		add(other)
	}
	return out
}

// counterpart is the actor on the other side of a Follow, Undo(Follow), Accept or Reject
func (f *Federation) counterpart(act *activity.Activity) string {
	switch {
	case act.Is(activity.FollowType):
		return act.Object.URI()
	case act.Is(activity.UndoType), act.Is(activity.AcceptType), act.Is(activity.RejectType):
		inner, ok := act.Object.Value()
		if !ok {
			return ""
		}
		follow, ok := inner.(*activity.Activity)
		if !ok || !follow.Is(activity.FollowType) {
			return ""
		}
		if act.Is(activity.UndoType) {
			return follow.Object.URI()
		}
		return follow.Actor.URI()
	}
	return ""
}
