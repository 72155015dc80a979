package server

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/tkrehbiel/activitycore/server/activity"
	"github.com/tkrehbiel/activitycore/server/data"
	"github.com/tkrehbiel/activitycore/server/storage"
	"github.com/tkrehbiel/activitycore/server/telemetry"
)

// HandleInboxRequest processes an activity delivered to a local actor's inbox.
// The returned status is what the sender should be told.
// This is where the bulk of handling communications from remote federated servers happens.
func (f *Federation) HandleInboxRequest(ctx context.Context, act *activity.Activity, recipient *activity.Actor) (int, error) {
	telemetry.Increment("inbox_activities", 1)
	if act == nil || act.ID == "" {
		// the id is how the sender knows what we're answering
		return http.StatusBadRequest, fmt.Errorf("%w: activity has no id", ErrValidation)
	}
	sender := act.Actor.URI()
	if sender == "" {
		return http.StatusBadRequest, fmt.Errorf("%w: activity %s has no actor", ErrValidation, act.ID)
	}
	if signer, ok := verifiedSender(ctx); ok && signer != sender {
		return http.StatusUnauthorized, fmt.Errorf("%w: activity by %s signed by %s", ErrAuthentication, sender, signer)
	}
	if !sameOrigin(sender, act.ID) {
		return http.StatusForbidden, fmt.Errorf("%w: %s can't use id %s", ErrForbidden, sender, act.ID)
	}
	h, ok := f.handlerFor(act)
	if !ok || h.inbox == nil {
		telemetry.Trace("unrecognized activity type [%s] %s", act.Type(), act.ID)
		return http.StatusMethodNotAllowed, fmt.Errorf("%w: %s", ErrUnsupported, act.Type())
	}

	ctx = withSigner(ctx, recipient.PreferredUsername)
	status, err := h.inbox(ctx, act, recipient)
	if err != nil {
		telemetry.Error(err, "%s %s for %s", act.Type(), act.ID, recipient.ID)
		return statusFor(err), err
	}
	if err := f.store.StoreEntity(ctx, act); err != nil {
		return http.StatusInternalServerError, err
	}
	if err := f.addToBox(ctx, recipient.Inbox.URI(), act); err != nil {
		return http.StatusInternalServerError, err
	}
	return status, nil
}

func (f *Federation) inboxFollow(ctx context.Context, act *activity.Activity, recipient *activity.Actor) (int, error) {
	telemetry.Increment("follow_requests", 1)
	follower := act.Actor.URI()

	var message = fmt.Sprintf("follow [%s] by [%s]", recipient.ID, follower)
	defer func() {
		telemetry.Log(message)
	}()

	if act.Object.URI() != recipient.ID {
		// Trying to follow someone other than the owner of this inbox
		message += " - rejected, wrong inbox"
		return 0, fmt.Errorf("%w: follow of %s delivered to %s", ErrValidation, act.Object.URI(), recipient.ID)
	}

	policy := f.policy
	if max := f.config.Server.MaxFollowers; policy == FollowAccept && max > 0 {
		followers, err := f.collection(ctx, recipient.Followers.URI())
		if err != nil {
			message += " - database read error"
			return 0, err
		}
		if followers.Len() >= max && !followers.Contains(follower) {
			message += " - too many followers"
			policy = FollowReject
		}
	}

	record := &storage.Follow{
		ID:         act.ID,
		FollowerID: follower,
		Username:   recipient.PreferredUsername,
		Status:     storage.FollowPending,
	}
	if err := f.accounts.SaveFollow(ctx, record); err != nil {
		message += " - database write error"
		return 0, err
	}

	switch policy {
	case FollowManual:
		f.notifier.Notify(ctx, recipient, act)
		message += " - waiting for approval"
		return http.StatusAccepted, nil
	case FollowAccept:
		if _, err := f.answerFollow(ctx, recipient, act, activity.AcceptType); err != nil {
			message += " - accept failed"
			return 0, err
		}
		f.notifier.Notify(ctx, recipient, act)
		message += " - accepted"
		return http.StatusOK, nil
	}
	if _, err := f.answerFollow(ctx, recipient, act, activity.RejectType); err != nil {
		message += " - reject failed"
		return 0, err
	}
	message += " - rejected"
	return http.StatusForbidden, nil
}

// answerFollow posts an Accept or Reject of a follow to the local actor's outbox
func (f *Federation) answerFollow(ctx context.Context, local *activity.Actor, follow *activity.Activity, kind string) (*activity.Activity, error) {
	var reply *activity.Activity
	if kind == activity.AcceptType {
		reply = activity.NewAccept(local.ID, follow)
	} else {
		reply = activity.NewReject(local.ID, follow)
	}
	ctx = WithSession(ctx, local.PreferredUsername)
	return f.HandleOutboxRequest(ctx, ActivityRequest{Username: local.PreferredUsername, Activity: reply})
}

func (f *Federation) inboxCreate(ctx context.Context, act *activity.Activity, recipient *activity.Actor) (int, error) {
	sender := act.Actor.URI()
	id := act.Object.URI()
	local := id != "" && f.store.BelongsToCurrentInstance(id)
	if local && !f.store.BelongsToCurrentInstance(sender) {
		return 0, fmt.Errorf("%w: %s can't create local object %s", ErrForbidden, sender, id)
	}
	ref := act.Object
	if id != "" && !local && !sameOrigin(sender, id) {
		// only the object's own server is believed about it
		ref = activity.Link[activity.Entity](id)
	}
	obj, err := Resolve[activity.Entity](ctx, f.resolver, ref)
	if err != nil {
		return 0, err
	}
	// remote actors are only ever cached, never stored
	if _, isActor := obj.(*activity.Actor); !isActor && id != "" && !local {
		if err := f.store.StoreEntity(ctx, obj); err != nil {
			return 0, err
		}
	}
	f.notifier.Notify(ctx, recipient, act)
	return http.StatusOK, nil
}

// innerActivity resolves the activity an Accept, Reject or Undo is about
func (f *Federation) innerActivity(ctx context.Context, act *activity.Activity) (*activity.Activity, error) {
	e, err := Resolve[activity.Entity](ctx, f.resolver, act.Object)
	if err != nil {
		return nil, err
	}
	inner, ok := e.(*activity.Activity)
	if !ok {
		return nil, fmt.Errorf("%w: %s of a %s", ErrValidation, act.Type(), e.Type())
	}
	return inner, nil
}

// ourFollow checks that an Accept or Reject answers a follow the recipient sent to its actor
func (f *Federation) ourFollow(ctx context.Context, act *activity.Activity, recipient *activity.Actor) (*activity.Activity, error) {
	follow, err := f.innerActivity(ctx, act)
	if err != nil {
		return nil, err
	}
	if !follow.Is(activity.FollowType) || follow.Actor.URI() != recipient.ID || follow.Object.URI() != act.Actor.URI() {
		return nil, fmt.Errorf("%w: %s doesn't answer a follow by %s", ErrValidation, act.ID, recipient.ID)
	}
	return follow, nil
}

func (f *Federation) inboxAccept(ctx context.Context, act *activity.Activity, recipient *activity.Actor) (int, error) {
	if _, err := f.ourFollow(ctx, act, recipient); err != nil {
		return 0, err
	}
	if err := f.addLink(ctx, recipient.Following.URI(), act.Actor.URI()); err != nil {
		return 0, err
	}
	telemetry.Log("%s accepted follow by %s", act.Actor.URI(), recipient.ID)
	f.notifier.Notify(ctx, recipient, act)
	return http.StatusOK, nil
}

func (f *Federation) inboxReject(ctx context.Context, act *activity.Activity, recipient *activity.Actor) (int, error) {
	if _, err := f.ourFollow(ctx, act, recipient); err != nil {
		return 0, err
	}
	if err := f.removeLink(ctx, recipient.Following.URI(), act.Actor.URI()); err != nil {
		return 0, err
	}
	telemetry.Log("%s rejected follow by %s", act.Actor.URI(), recipient.ID)
	f.notifier.Notify(ctx, recipient, act)
	return http.StatusOK, nil
}

func (f *Federation) inboxUndo(ctx context.Context, act *activity.Activity, recipient *activity.Actor) (int, error) {
	telemetry.Increment("undo_requests", 1)
	inner, err := f.innerActivity(ctx, act)
	if err != nil {
		// nothing to take back, but the undo itself is still recorded
		telemetry.Error(err, "undo %s of %s", act.ID, act.Object.URI())
		return http.StatusOK, nil
	}
	if inner.Actor.URI() != act.Actor.URI() {
		return 0, fmt.Errorf("%w: %s can't undo %s", ErrForbidden, act.Actor.URI(), inner.ID)
	}
	switch {
	case inner.Is(activity.FollowType):
		if inner.Object.URI() != recipient.ID {
			return 0, fmt.Errorf("%w: unfollow of %s delivered to %s", ErrValidation, inner.Object.URI(), recipient.ID)
		}
		if err := f.removeLink(ctx, recipient.Followers.URI(), act.Actor.URI()); err != nil {
			return 0, err
		}
		if inner.ID != "" {
			f.setFollowStatus(ctx, inner, recipient, storage.FollowRejected)
		}
		telemetry.Log("unfollow [%s] by [%s]", recipient.ID, act.Actor.URI())
	case inner.Is(activity.AnnounceType):
		if shares := f.sharesOf(ctx, inner.Object.URI()); shares != "" {
			if err := f.removeLink(ctx, shares, inner.ID); err != nil {
				return 0, err
			}
		}
	}
	return http.StatusOK, nil
}

// sharesOf is the shares collection of a local object, if it has one
func (f *Federation) sharesOf(ctx context.Context, id string) string {
	if id == "" || !f.store.BelongsToCurrentInstance(id) {
		return ""
	}
	e, err := f.store.RetrieveEntity(ctx, id)
	if err != nil {
		telemetry.Error(err, "looking up %s", id)
		return ""
	}
	if e == nil {
		return ""
	}
	return e.Properties().Shares.URI()
}

func (f *Federation) inboxAnnounce(ctx context.Context, act *activity.Activity, recipient *activity.Actor) (int, error) {
	if shares := f.sharesOf(ctx, act.Object.URI()); shares != "" {
		if err := f.addLink(ctx, shares, act.ID); err != nil {
			return 0, err
		}
	}
	f.notifier.Notify(ctx, recipient, act)
	return http.StatusOK, nil
}

func (f *Federation) inboxLike(ctx context.Context, act *activity.Activity, recipient *activity.Actor) (int, error) {
	f.notifier.Notify(ctx, recipient, act)
	return http.StatusOK, nil
}

// sameOrigin reports whether two ids live on the same server
func sameOrigin(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil || ua.Host == "" {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil || ub.Host == "" {
		return false
	}
	return data.SameOrigin(ua, ub)
}

// mayChange reports whether a remote actor may change what we hold for an object.
// The object has to live on the actor's server and be written by the actor.
func mayChange(actorID string, stored activity.Entity) bool {
	return sameOrigin(actorID, stored.Properties().ID) && authored(actorID, stored)
}

// remoteTarget checks the object of a remote Update or Delete.
// done means a local sender's outbox has already applied it.
func (f *Federation) remoteTarget(act *activity.Activity, id string) (done bool, err error) {
	sender := act.Actor.URI()
	if id == "" {
		return false, fmt.Errorf("%w: %s of nothing", ErrValidation, act.Type())
	}
	if f.store.BelongsToCurrentInstance(id) {
		if f.store.BelongsToCurrentInstance(sender) {
			return true, nil
		}
		return false, fmt.Errorf("%w: %s can't change local object %s", ErrForbidden, sender, id)
	}
	if !sameOrigin(sender, id) {
		return false, fmt.Errorf("%w: %s can't change %s", ErrForbidden, sender, id)
	}
	return false, nil
}

func (f *Federation) inboxUpdate(ctx context.Context, act *activity.Activity, recipient *activity.Actor) (int, error) {
	id := act.Object.URI()
	done, err := f.remoteTarget(act, id)
	if err != nil {
		return 0, err
	}
	if done {
		return http.StatusOK, nil
	}
	obj, err := Resolve[activity.Entity](ctx, f.resolver, act.Object)
	if err != nil {
		return 0, err
	}
	if _, ok := obj.(*activity.Actor); ok {
		// remote actors are only ever cached
		f.actors.InvalidateActor(id)
		return http.StatusOK, nil
	}
	existing, err := f.store.RetrieveEntity(ctx, id)
	if err != nil {
		return 0, err
	}
	if existing == nil {
		telemetry.Trace("update of unknown object %s ignored", id)
		return http.StatusOK, nil
	}
	sender := act.Actor.URI()
	if existing.Type() == activity.TombstoneType || !mayChange(sender, existing) {
		return 0, fmt.Errorf("%w: %s can't update %s", ErrForbidden, sender, id)
	}
	p := obj.Properties()
	if len(p.AttributedTo) == 0 {
		p.AttributedTo = existing.Properties().AttributedTo
	}
	if err := f.store.StoreEntity(ctx, obj); err != nil {
		return 0, err
	}
	return http.StatusOK, nil
}

func (f *Federation) inboxDelete(ctx context.Context, act *activity.Activity, recipient *activity.Actor) (int, error) {
	id := act.Object.URI()
	done, err := f.remoteTarget(act, id)
	if err != nil {
		return 0, err
	}
	if done {
		return http.StatusOK, nil
	}
	f.actors.InvalidateActor(id)
	sender := act.Actor.URI()
	if id == sender {
		return http.StatusOK, nil
	}
	existing, err := f.store.RetrieveEntity(ctx, id)
	if err != nil {
		return 0, err
	}
	if existing == nil || existing.Type() == activity.TombstoneType {
		return http.StatusOK, nil
	}
	if !mayChange(sender, existing) {
		return 0, fmt.Errorf("%w: %s can't delete %s", ErrForbidden, sender, id)
	}
	if err := f.store.StoreEntity(ctx, activity.NewTombstone(id)); err != nil {
		return 0, err
	}
	return http.StatusOK, nil
}
