package server

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tkrehbiel/activitycore/server/activity"
	"github.com/tkrehbiel/activitycore/server/feed"
	"github.com/tkrehbiel/activitycore/server/page"
	"github.com/tkrehbiel/activitycore/server/storage"
	"github.com/tkrehbiel/activitycore/server/telemetry"
)

// Publishing targets besides actor identifiers
const (
	TargetFollowers = "followers"
	TargetPublic    = "public"
)

// Command is something the host asks a local account to do.
type Command interface {
	execute(ctx context.Context, f *Federation) (*activity.Activity, error)
}

// Submit runs a command as the account it names and returns the activity it posted.
func (f *Federation) Submit(ctx context.Context, cmd Command) (*activity.Activity, error) {
	act, err := cmd.execute(ctx, f)
	if err != nil {
		telemetry.Error(err, "command %T", cmd)
	}
	return act, err
}

// PublishNote posts a note. The same Key always gives the same ids,
// so publishing an unchanged note again does nothing and a changed one
// goes out as an Update.
type PublishNote struct {
	Username  string
	Key       string
	Name      string
	Content   string
	URL       string
	Published time.Time
	Targets   []string // followers, public or actor identifiers
}

func (c PublishNote) execute(ctx context.Context, f *Federation) (*activity.Activity, error) {
	ctx = WithSession(ctx, c.Username)
	sender, err := f.actors.LocalActor(ctx, c.Username)
	if err != nil {
		return nil, err
	}

	note := activity.NewNote(c.Content)
	note.Name = c.Name
	note.Published = c.Published.UTC().Truncate(time.Second)
	if c.URL != "" {
		note.URL = []string{c.URL}
	}
	note.AttributedTo = []activity.Reference[*activity.Actor]{activity.Link[*activity.Actor](sender.ID)}
	createID := ""
	if c.Key != "" {
		key := uuid.NewSHA1(uuid.NameSpaceURL, []byte(sender.ID+"\n"+c.Key))
		note.ID = f.meta.ObjectURL(key.String())
		note.Shares = activity.Link[*activity.Collection](note.ID + "/shares")
		createID = note.ID + "/create"
	}
	if err := f.address(ctx, &note.Base, sender, c.Targets); err != nil {
		return nil, err
	}

	var act *activity.Activity
	if createID != "" {
		existing, err := f.store.RetrieveEntity(ctx, createID)
		if err != nil {
			return nil, err
		}
		if previous, ok := existing.(*activity.Activity); ok {
			if v, ok := previous.Object.Value(); ok && sameNote(v, note) {
				telemetry.Trace("note %s hasn't changed", note.ID)
				return previous, nil
			}
			act, _ = activity.NewActivity(activity.UpdateType, sender.ID, activity.Inline[activity.Entity](note))
			act.To, act.CC = note.To, note.CC
			act.ID = fmt.Sprintf("%s/update/%d", note.ID, time.Now().UnixNano())
			if _, err := f.HandleOutboxRequest(ctx, ActivityRequest{Username: c.Username, Activity: act}); err != nil {
				return nil, err
			}
			// the create carries the latest version too
			created := activity.NewCreate(sender.ID, note)
			created.ID = createID
			created.Actor = previous.Actor
			created.Published = previous.Published
			return act, f.store.StoreEntity(ctx, created)
		}
	}

	act = activity.NewCreate(sender.ID, note)
	act.ID = createID
	return f.HandleOutboxRequest(ctx, ActivityRequest{Username: c.Username, Activity: act})
}

func sameNote(e activity.Entity, note *activity.Object) bool {
	p := e.Properties()
	return p.Name == note.Name && p.Content == note.Content &&
		strings.Join(p.URL, " ") == strings.Join(note.URL, " ")
}

// address fills in to and cc from publishing targets.
// A public post goes to everyone with the followers in cc.
func (f *Federation) address(ctx context.Context, b *activity.Base, sender *activity.Actor, targets []string) error {
	if len(targets) == 0 {
		targets = []string{TargetFollowers, TargetPublic}
	}
	public, followers := false, false
	var direct []activity.ProxyActor
	for _, t := range targets {
		switch strings.ToLower(strings.TrimSpace(t)) {
		case TargetPublic:
			public = true
		case TargetFollowers:
			followers = true
		default:
			actor, err := f.actors.ResolveActor(ctx, t)
			if err != nil {
				return fmt.Errorf("target [%s]: %w", t, err)
			}
			direct = append(direct, activity.ProxyActor(actor.ID))
		}
	}
	followersURI := activity.ProxyActor(sender.Followers.URI())
	switch {
	case public:
		b.To = append([]activity.ProxyActor{activity.PublicActor}, direct...)
		if followers {
			b.CC = []activity.ProxyActor{followersURI}
		}
	case followers:
		b.To = append([]activity.ProxyActor{followersURI}, direct...)
	default:
		b.To = direct
	}
	return nil
}

// FollowActor has a local account follow someone.
type FollowActor struct {
	Username string
	Target   string // any actor identifier
}

func (c FollowActor) execute(ctx context.Context, f *Federation) (*activity.Activity, error) {
	ctx = WithSession(ctx, c.Username)
	sender, err := f.actors.LocalActor(ctx, c.Username)
	if err != nil {
		return nil, err
	}
	target, err := f.actors.ResolveActor(ctx, c.Target)
	if err != nil {
		return nil, err
	}
	return f.HandleOutboxRequest(ctx, ActivityRequest{
		Username: c.Username,
		Activity: activity.NewFollow(sender.ID, target.ID),
	})
}

// AcceptFollow approves a follow request held for manual approval.
type AcceptFollow struct {
	Username string
	FollowID string
}

func (c AcceptFollow) execute(ctx context.Context, f *Federation) (*activity.Activity, error) {
	return f.decideFollow(ctx, c.Username, c.FollowID, activity.AcceptType)
}

// RejectFollow turns down a follow request held for manual approval.
type RejectFollow struct {
	Username string
	FollowID string
}

func (c RejectFollow) execute(ctx context.Context, f *Federation) (*activity.Activity, error) {
	return f.decideFollow(ctx, c.Username, c.FollowID, activity.RejectType)
}

func (f *Federation) decideFollow(ctx context.Context, username, followID, kind string) (*activity.Activity, error) {
	record, err := f.accounts.FindFollow(ctx, followID)
	if err != nil {
		return nil, err
	}
	if record == nil || record.Username != username {
		return nil, fmt.Errorf("%w: no follow request %s for %s", ErrNotFound, followID, username)
	}
	if record.Status != storage.FollowPending {
		return nil, fmt.Errorf("%w: follow request %s is already %s", ErrValidation, followID, record.Status)
	}
	local, err := f.actors.LocalActor(ctx, username)
	if err != nil {
		return nil, err
	}
	var follow *activity.Activity
	e, err := f.store.RetrieveEntity(ctx, followID)
	if err != nil {
		return nil, err
	}
	if stored, ok := e.(*activity.Activity); ok && stored.Is(activity.FollowType) {
		follow = stored
	} else {
		follow = activity.NewFollow(record.FollowerID, local.ID)
		follow.ID = followID
	}
	return f.answerFollow(ctx, local, follow, kind)
}

// PendingFollows lists follow requests waiting for a decision.
func (f *Federation) PendingFollows(ctx context.Context, username string) ([]storage.Follow, error) {
	return f.accounts.PendingFollows(ctx, username)
}

// Profile collects what the HTML profile page shows.
func (f *Federation) Profile(ctx context.Context, name string) (*page.Profile, error) {
	account, err := f.accounts.FindAccount(ctx, name)
	if err != nil || account == nil {
		return nil, err
	}
	meta := f.meta.NewUserMetaData(name)
	meta.UserDisplayName = account.DisplayName
	meta.UserSummary = account.Summary
	meta.UserType = account.Type
	profile := &page.Profile{UserMetaData: meta}

	outbox, err := f.collection(ctx, meta.OutboxURL())
	if err != nil {
		return nil, err
	}
	acts := activity.NewOutbox(outbox).Activities()
	for i := len(acts) - 1; i >= 0 && len(profile.LatestNotes) < 10; i-- {
		if !acts[i].Is(activity.CreateType) {
			continue
		}
		obj, ok := acts[i].Object.Value()
		if !ok {
			continue
		}
		p := obj.Properties()
		note := page.ProfileNote{URL: p.ID, Name: p.Name, Content: p.Content, Published: p.Published}
		if len(p.URL) > 0 {
			note.URL = p.URL[0]
		}
		profile.LatestNotes = append(profile.LatestNotes, note)
	}
	return profile, nil
}

// FeedPublisher publishes a feed's items as notes from one account.
type FeedPublisher struct {
	Federation *Federation
	Username   string
	Targets    []string
}

func (p FeedPublisher) StatusCode(code int) {
	telemetry.Trace("feed for %s returned [%d]", p.Username, code)
	telemetry.Increment("feed_fetches", 1)
}

func (p FeedPublisher) NewItem(ctx context.Context, item feed.Item) error {
	telemetry.Trace("new item [%s]", item.Title)
	telemetry.Increment("feed_newitems", 1)
	content := item.Content
	if content == "" {
		content = fmt.Sprintf(`<p><a href="%s">%s</a></p>`, html.EscapeString(item.URL), html.EscapeString(item.Title))
	}
	_, err := p.Federation.Submit(ctx, PublishNote{
		Username:  p.Username,
		Key:       item.ID,
		Name:      item.Title,
		Content:   content,
		URL:       item.URL,
		Published: item.Published,
		Targets:   p.Targets,
	})
	return err
}
