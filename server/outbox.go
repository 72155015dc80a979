package server

import (
	"context"
	"fmt"
	"time"

	"github.com/tkrehbiel/activitycore/server/activity"
	"github.com/tkrehbiel/activitycore/server/storage"
	"github.com/tkrehbiel/activitycore/server/telemetry"
)

// ActivityRequest is an activity a local account posts to its outbox.
type ActivityRequest struct {
	Username string // whose outbox
	Activity *activity.Activity
}

// HandleOutboxRequest accepts an activity from the logged-in account,
// records it and queues it for delivery. Whether the deliveries succeed
// doesn't change the result.
func (f *Federation) HandleOutboxRequest(ctx context.Context, req ActivityRequest) (*activity.Activity, error) {
	telemetry.Increment("outbox_activities", 1)
	act := req.Activity
	if act == nil {
		return nil, fmt.Errorf("%w: no activity", ErrValidation)
	}
	sender, err := f.actors.CurrentActor(ctx)
	if err != nil {
		return nil, err
	}
	if sender.PreferredUsername != req.Username {
		return nil, fmt.Errorf("%w: %s can't post to the outbox of %s", ErrForbidden, sender.PreferredUsername, req.Username)
	}
	if act.Actor.IsZero() {
		act.Actor = activity.Link[*activity.Actor](sender.ID)
	} else if act.Actor.URI() != sender.ID {
		return nil, fmt.Errorf("%w: %s can't post as %s", ErrForbidden, sender.ID, act.Actor.URI())
	}
	if act.ID == "" {
		act.ID = f.newObjectID()
	} else if !f.store.BelongsToCurrentInstance(act.ID) {
		return nil, fmt.Errorf("%w: %s is not a local id", ErrValidation, act.ID)
	}
	if act.Published.IsZero() {
		act.Published = time.Now().UTC().Truncate(time.Second)
	}

	h, ok := f.handlerFor(act)
	if !ok || h.outbox == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, act.Type())
	}
	if err := h.outbox(ctx, act, sender); err != nil {
		return nil, err
	}

	recipients := f.recipients(ctx, act, sender)
	if err := f.publish(ctx, sender, act, recipients); err != nil {
		return nil, err
	}
	telemetry.Log("%s %s by %s to %d recipients", act.Type(), act.ID, sender.PreferredUsername, len(recipients))
	return act, nil
}

func (f *Federation) outboxCreate(ctx context.Context, act *activity.Activity, sender *activity.Actor) error {
	obj, ok := act.Object.Value()
	if !ok {
		// a link has to be to something we already have
		var err error
		if obj, err = Resolve[activity.Entity](ctx, f.resolver, act.Object); err != nil {
			return err
		}
	}
	if _, isActivity := obj.(*activity.Activity); isActivity {
		return fmt.Errorf("%w: can't create an activity", ErrValidation)
	}
	p := obj.Properties()
	if p.ID == "" {
		p.ID = f.newObjectID()
	} else if !f.store.BelongsToCurrentInstance(p.ID) {
		return fmt.Errorf("%w: %s is not a local id", ErrValidation, p.ID)
	}
	if len(p.AttributedTo) == 0 {
		p.AttributedTo = []activity.Reference[*activity.Actor]{activity.Link[*activity.Actor](sender.ID)}
	}
	if p.Published.IsZero() {
		p.Published = act.Published
	}
	if len(act.To)+len(act.CC) == 0 {
		act.To = append(act.To, p.To...)
		act.CC = append(act.CC, p.CC...)
	} else if len(p.To)+len(p.CC) == 0 {
		p.To = append(p.To, act.To...)
		p.CC = append(p.CC, act.CC...)
	}
	if _, isObject := obj.(*activity.Object); isObject {
		if p.Shares.IsZero() {
			p.Shares = activity.Link[*activity.Collection](p.ID + "/shares")
		}
		if shares := p.Shares.URI(); f.store.BelongsToCurrentInstance(shares) {
			// stores an empty collection the first time
			err := f.updateCollection(ctx, shares, func(c *activity.Collection) (bool, error) {
				return c.Len() == 0, nil
			})
			if err != nil {
				return err
			}
		}
	}
	if err := f.store.StoreEntity(ctx, obj); err != nil {
		return err
	}
	act.Object = activity.Inline(obj)
	return nil
}

func (f *Federation) outboxUpdate(ctx context.Context, act *activity.Activity, sender *activity.Actor) error {
	obj, ok := act.Object.Value()
	if !ok {
		return fmt.Errorf("%w: update needs the new object inline", ErrValidation)
	}
	p := obj.Properties()
	if !f.store.BelongsToCurrentInstance(p.ID) {
		return fmt.Errorf("%w: %s can't update %s", ErrForbidden, sender.ID, p.ID)
	}
	existing, err := f.store.RetrieveEntity(ctx, p.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, p.ID)
	}
	if !authored(sender.ID, existing) || existing.Type() == activity.TombstoneType {
		return fmt.Errorf("%w: %s can't update %s", ErrForbidden, sender.ID, p.ID)
	}
	if len(p.AttributedTo) == 0 {
		p.AttributedTo = existing.Properties().AttributedTo
	}
	if p.Shares.IsZero() {
		p.Shares = existing.Properties().Shares
	}
	return f.store.StoreEntity(ctx, obj)
}

func (f *Federation) outboxDelete(ctx context.Context, act *activity.Activity, sender *activity.Actor) error {
	id := act.Object.URI()
	existing, err := f.store.RetrieveEntity(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !authored(sender.ID, existing) {
		return fmt.Errorf("%w: %s can't delete %s", ErrForbidden, sender.ID, id)
	}
	act.Object = activity.Link[activity.Entity](id)
	return f.store.StoreEntity(ctx, activity.NewTombstone(id))
}

// authored is the stricter owns for local accounts, who all share one origin
func authored(actorID string, obj activity.Entity) bool {
	p := obj.Properties()
	if p.ID == actorID {
		return true
	}
	for _, a := range p.AttributedTo {
		if a.URI() == actorID {
			return true
		}
	}
	return false
}

func (f *Federation) outboxFollow(ctx context.Context, act *activity.Activity, sender *activity.Actor) error {
	target := act.Object.URI()
	if target == "" || target == sender.ID {
		return fmt.Errorf("%w: follow of [%s]", ErrValidation, target)
	}
	act.Object = activity.Link[activity.Entity](target)
	if len(act.To) == 0 {
		act.To = []activity.ProxyActor{activity.ProxyActor(target)}
	}
	return nil
}

func (f *Federation) outboxUndo(ctx context.Context, act *activity.Activity, sender *activity.Actor) error {
	inner, err := f.innerActivity(ctx, act)
	if err != nil {
		return err
	}
	if inner.Actor.URI() != sender.ID {
		return fmt.Errorf("%w: %s can't undo %s", ErrForbidden, sender.ID, inner.ID)
	}
	if inner.Is(activity.FollowType) {
		if err := f.removeLink(ctx, sender.Following.URI(), inner.Object.URI()); err != nil {
			return err
		}
	}
	if len(act.To)+len(act.CC) == 0 {
		act.To = append(act.To, inner.To...)
		act.CC = append(act.CC, inner.CC...)
	}
	act.Object = activity.Inline[activity.Entity](inner)
	return nil
}

// followOf checks that an outgoing Accept or Reject answers a follow of the sender
func (f *Federation) followOf(ctx context.Context, act *activity.Activity, sender *activity.Actor) (*activity.Activity, error) {
	follow, err := f.innerActivity(ctx, act)
	if err != nil {
		return nil, err
	}
	if !follow.Is(activity.FollowType) || follow.Object.URI() != sender.ID {
		return nil, fmt.Errorf("%w: %s doesn't answer a follow of %s", ErrValidation, act.ID, sender.ID)
	}
	act.Object = activity.Inline[activity.Entity](follow)
	return follow, nil
}

func (f *Federation) outboxAccept(ctx context.Context, act *activity.Activity, sender *activity.Actor) error {
	follow, err := f.followOf(ctx, act, sender)
	if err != nil {
		return err
	}
	if err := f.addLink(ctx, sender.Followers.URI(), follow.Actor.URI()); err != nil {
		return err
	}
	f.setFollowStatus(ctx, follow, sender, storage.FollowAccepted)
	return nil
}

func (f *Federation) outboxReject(ctx context.Context, act *activity.Activity, sender *activity.Actor) error {
	follow, err := f.followOf(ctx, act, sender)
	if err != nil {
		return err
	}
	if err := f.removeLink(ctx, sender.Followers.URI(), follow.Actor.URI()); err != nil {
		return err
	}
	f.setFollowStatus(ctx, follow, sender, storage.FollowRejected)
	return nil
}

// setFollowStatus records the outcome of a follow request
func (f *Federation) setFollowStatus(ctx context.Context, follow *activity.Activity, local *activity.Actor, status string) {
	if follow.ID == "" {
		return
	}
	record := &storage.Follow{
		ID:         follow.ID,
		FollowerID: follow.Actor.URI(),
		Username:   local.PreferredUsername,
	}
	if existing, err := f.accounts.FindFollow(ctx, follow.ID); err != nil {
		telemetry.Error(err, "database error")
	} else if existing != nil {
		record = existing
	}
	record.Status = status
	if err := f.accounts.SaveFollow(ctx, record); err != nil {
		telemetry.Error(err, "saving follow %s", follow.ID)
	}
}
