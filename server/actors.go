package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/karlseguin/ccache/v3"
	"github.com/tkrehbiel/activitycore/server/activity"
	"github.com/tkrehbiel/activitycore/server/data"
	"github.com/tkrehbiel/activitycore/server/page"
	"github.com/tkrehbiel/activitycore/server/storage"
	"github.com/tkrehbiel/activitycore/server/telemetry"
	"github.com/tkrehbiel/activitycore/server/webfinger"
)

// ActorResolver finds actors by username, URI or user@host handle.
// Remote actors are cached by URI; local ones are built from their account
// the first time they're asked for and stored from then on.
type ActorResolver struct {
	store    data.Store
	accounts storage.Accounts
	resolver *Resolver
	client   *Client
	finger   *webfinger.Client
	meta     page.MetaData
	policy   FollowPolicy
	cache    *ccache.Cache[*activity.Actor]
	ttl      time.Duration
}

func NewActorResolver(store data.Store, accounts storage.Accounts, resolver *Resolver, client *Client,
	finger *webfinger.Client, meta page.MetaData, policy FollowPolicy, ttl time.Duration) *ActorResolver {
	return &ActorResolver{
		store:    store,
		accounts: accounts,
		resolver: resolver,
		client:   client,
		finger:   finger,
		meta:     meta,
		policy:   policy,
		cache:    ccache.New(ccache.Configure[*activity.Actor]().MaxSize(5000)),
		ttl:      ttl,
	}
}

func (r *ActorResolver) Stop() {
	r.cache.Stop()
}

// ResolveActor works out what an identifier means:
//   - blank is whoever is logged in
//   - anything with an @ is tried as a WebFinger handle first
//   - a URL is fetched directly, falling back to treating it as a profile page
//   - anything else is a local username
func (r *ActorResolver) ResolveActor(ctx context.Context, identifier string) (*activity.Actor, error) {
	id := strings.TrimSpace(identifier)
	if id == "" {
		return r.CurrentActor(ctx)
	}

	isURL := hasWebScheme(id)
	if strings.Contains(id, "@") && !isURL {
		actor, err := r.resolveHandle(ctx, id)
		if err == nil {
			return actor, nil
		}
		telemetry.Trace("webfinger for [%s] failed: %v", id, err)
	}

	if isURL {
		actor, err := r.resolveURI(ctx, id)
		if err == nil {
			return actor, nil
		}
		telemetry.Trace("direct fetch of [%s] failed, trying it as a profile page: %v", id, err)
		actor, profileErr := r.resolveProfile(ctx, id)
		if profileErr == nil {
			return actor, nil
		}
		telemetry.Error(profileErr, "resolving actor [%s]", id)
		if errors.Is(err, ErrResolution) {
			return nil, fmt.Errorf("actor %s: %w", id, err)
		}
		return nil, fmt.Errorf("%w: actor %s: %v", ErrResolution, id, err)
	}

	return r.LocalActor(ctx, id)
}

func hasWebScheme(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// resolveHandle goes through WebFinger, except for handles on this server
func (r *ActorResolver) resolveHandle(ctx context.Context, handle string) (*activity.Actor, error) {
	user, host, ok := webfinger.SplitHandle(handle)
	if !ok {
		return nil, fmt.Errorf("%w: [%s] is not a handle", ErrValidation, handle)
	}
	if strings.EqualFold(host, r.meta.HostName) || strings.EqualFold(host, r.localHost()) {
		return r.LocalActor(ctx, user)
	}
	telemetry.Increment("webfinger_lookups", 1)
	res, err := r.finger.Lookup(ctx, handle)
	if err != nil {
		return nil, err
	}
	href, ok := res.SelfLink()
	if !ok {
		return nil, fmt.Errorf("%w: no self link for %s", ErrResolution, handle)
	}
	return r.resolveURI(ctx, href)
}

func (r *ActorResolver) localHost() string {
	u, err := url.Parse(r.meta.URL)
	if err != nil {
		return ""
	}
	return u.Host
}

// resolveURI finds an actor by id with no fallback
func (r *ActorResolver) resolveURI(ctx context.Context, uri string) (*activity.Actor, error) {
	if item := r.cache.Get(uri); item != nil && !item.Expired() {
		telemetry.Increment("actor_cache_hits", 1)
		return item.Value(), nil
	}
	if r.store.BelongsToCurrentInstance(uri) {
		if name, ok := r.localName(uri); ok {
			return r.LocalActor(ctx, name)
		}
		return Resolve[*activity.Actor](ctx, r.resolver, activity.Link[*activity.Actor](uri))
	}
	telemetry.Increment("actor_fetches", 1)
	// a remote actor is only believed when its own server says so
	actor, err := fetchRemote[*activity.Actor](ctx, r.resolver, uri)
	if err != nil {
		return nil, err
	}
	r.cache.Set(uri, actor, r.ttl)
	return actor, nil
}

// localName pulls the username out of a local actor id like /a/alice
func (r *ActorResolver) localName(uri string) (string, bool) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", false
	}
	base, err := url.Parse(r.meta.URL)
	if err != nil {
		return "", false
	}
	prefix := strings.TrimSuffix(base.Path, "/") + "/" + page.SubPath + "/"
	name := strings.TrimPrefix(u.Path, prefix)
	if name == u.Path || name == "" || strings.Contains(name, "/") || u.Fragment != "" {
		return "", false
	}
	return name, true
}

// resolveProfile reads the actor marker from an HTML profile page and
// fetches the actor endpoint it names on the same host.
func (r *ActorResolver) resolveProfile(ctx context.Context, profileURL string) (*activity.Actor, error) {
	u, err := url.Parse(profileURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	resp, err := r.client.GetPage(ctx, profileURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := CheckAnswer(resp); err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrResolution, profileURL, err)
	}
	name, ok := doc.Find("html").First().Attr(page.ActorMarker)
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return nil, fmt.Errorf("%w: %s is not a profile page", ErrResolution, profileURL)
	}
	endpoint := url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/" + page.SubPath + "/" + name}
	return r.resolveURI(ctx, endpoint.String())
}

// resolveKeyOwner finds the actor that published a signing key
func (r *ActorResolver) resolveKeyOwner(ctx context.Context, keyID string, refresh bool) (*activity.Actor, error) {
	u, err := url.Parse(keyID)
	if err != nil {
		return nil, fmt.Errorf("%w: key id [%s]", ErrValidation, keyID)
	}
	u.Fragment = ""
	uri := u.String()
	if refresh {
		r.InvalidateActor(uri)
	}
	actor, err := r.resolveURI(ctx, uri)
	if err != nil {
		return nil, err
	}
	if actor.PublicKey == nil || actor.PublicKey.ID != keyID {
		return nil, fmt.Errorf("%s doesn't publish key %s", actor.ID, keyID)
	}
	if actor.PublicKey.Owner != "" && actor.PublicKey.Owner != actor.ID {
		return nil, fmt.Errorf("key %s belongs to %s, not %s", keyID, actor.PublicKey.Owner, actor.ID)
	}
	return actor, nil
}

// CurrentActor is the local actor of the logged-in account.
func (r *ActorResolver) CurrentActor(ctx context.Context) (*activity.Actor, error) {
	name, ok := SessionUsername(ctx)
	if !ok {
		return nil, fmt.Errorf("%w: nobody is logged in", ErrAuthentication)
	}
	return r.LocalActor(ctx, name)
}

// LocalActor returns the actor for a local account, creating and storing
// it and its collections the first time.
func (r *ActorResolver) LocalActor(ctx context.Context, username string) (*activity.Actor, error) {
	account, err := r.accounts.FindAccount(ctx, username)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("%w: no local account [%s]", ErrNotFound, username)
	}
	meta := r.meta.NewUserMetaData(username)
	e, err := r.store.RetrieveEntity(ctx, meta.UserID)
	if err != nil {
		return nil, err
	}
	if actor, ok := e.(*activity.Actor); ok {
		return actor, nil
	}

	for _, id := range []string{meta.InboxURL(), meta.OutboxURL(), meta.FollowersURL(), meta.FollowingURL()} {
		id := id
		err := r.store.Update(ctx, id, func(current activity.Entity) (activity.Entity, error) {
			if current != nil {
				return nil, nil
			}
			return activity.NewOrderedCollection(id), nil
		})
		if err != nil {
			return nil, fmt.Errorf("creating %s: %w", id, err)
		}
	}

	fresh := r.newLocalActor(account)
	var stored *activity.Actor
	err = r.store.Update(ctx, fresh.ID, func(current activity.Entity) (activity.Entity, error) {
		if a, ok := current.(*activity.Actor); ok {
			stored = a
			return nil, nil
		}
		stored = fresh
		return fresh, nil
	})
	if err != nil {
		return nil, fmt.Errorf("storing actor %s: %w", fresh.ID, err)
	}
	telemetry.Log("created local actor %s", stored.ID)
	return stored, nil
}

func (r *ActorResolver) newLocalActor(account *storage.Account) *activity.Actor {
	meta := r.meta.NewUserMetaData(account.Name)
	kind := account.Type
	if kind == "" {
		kind = activity.PersonType
	}
	actor, err := activity.NewActor(kind)
	if err != nil {
		telemetry.Warn("account %s has type [%s], using Person", account.Name, kind)
		actor = activity.NewPerson("")
	}
	actor.ID = meta.UserID
	actor.PreferredUsername = account.Name
	actor.Name = account.DisplayName
	actor.Summary = account.Summary
	actor.URL = []string{meta.UserProfileURL}
	actor.Inbox = activity.Link[*activity.Collection](meta.InboxURL())
	actor.Outbox = activity.Link[*activity.Collection](meta.OutboxURL())
	actor.Followers = activity.Link[*activity.Collection](meta.FollowersURL())
	actor.Following = activity.Link[*activity.Collection](meta.FollowingURL())
	actor.PublicKey = &activity.PublicKey{
		ID:           meta.PublicKeyID(),
		Owner:        meta.UserID,
		PublicKeyPem: account.PublicKeyPEM,
	}
	actor.ManuallyApprovesFollowers = r.policy != FollowAccept
	if !account.CreatedAt.IsZero() {
		actor.Published = account.CreatedAt.UTC().Truncate(time.Second)
	}
	return actor
}

// refreshLocalActor rewrites a stored local actor after its account changed.
func (r *ActorResolver) refreshLocalActor(ctx context.Context, account *storage.Account) error {
	fresh := r.newLocalActor(account)
	return r.store.Update(ctx, fresh.ID, func(current activity.Entity) (activity.Entity, error) {
		if _, ok := current.(*activity.Actor); !ok {
			return nil, nil
		}
		return fresh, nil
	})
}

// IsLocalActor reports whether an actor lives on this server.
// Without an id, a local account with its username is enough.
func (r *ActorResolver) IsLocalActor(ctx context.Context, actor *activity.Actor) bool {
	if actor == nil {
		return false
	}
	if actor.ID != "" {
		return r.store.BelongsToCurrentInstance(actor.ID)
	}
	if actor.PreferredUsername == "" {
		return false
	}
	account, err := r.accounts.FindAccount(ctx, actor.PreferredUsername)
	if err != nil {
		telemetry.Error(err, "looking up account %s", actor.PreferredUsername)
		return false
	}
	return account != nil
}

// InvalidateActor drops a cached remote actor.
func (r *ActorResolver) InvalidateActor(uri string) {
	if r.cache.Delete(uri) {
		telemetry.Trace("dropped cached actor %s", uri)
	}
}
