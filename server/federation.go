package server

import (
	"context"
	"fmt"
	"net/url"

	"github.com/google/uuid"
	"github.com/tkrehbiel/activitycore/server/activity"
	"github.com/tkrehbiel/activitycore/server/data"
	"github.com/tkrehbiel/activitycore/server/page"
	"github.com/tkrehbiel/activitycore/server/storage"
	"github.com/tkrehbiel/activitycore/server/telemetry"
	"github.com/tkrehbiel/activitycore/server/webfinger"
)

// AccountStore is the account side of the database
type AccountStore interface {
	storage.Accounts
	storage.Follows
}

// Federation ties the local accounts to the rest of the fediverse:
// it handles what arrives in inboxes, what is posted to outboxes,
// and delivers the results.
type Federation struct {
	config   Config
	meta     page.MetaData
	store    data.Store
	accounts AccountStore
	keys     *Keyring
	client   *Client
	resolver *Resolver
	actors   *ActorResolver
	pipeline *OutputPipeline
	notifier Notifier
	policy   FollowPolicy
	handlers map[string]handler
}

func NewFederation(cfg Config, accounts AccountStore, store data.Store, notifier Notifier) (*Federation, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing url [%s]: %w", cfg.URL, err)
	}
	if notifier == nil {
		notifier = LogNotifier{}
	}
	meta := page.NewMetaData(u)
	meta.Users = len(cfg.Users)

	f := &Federation{
		config:   cfg,
		meta:     meta,
		store:    store,
		accounts: accounts,
		keys:     NewKeyring(accounts),
		client:   NewClient(cfg.Server.timeout(), cfg.Server.SendUnsigned),
		pipeline: NewPipeline(cfg.Server.workers()),
		notifier: notifier,
		policy:   cfg.Server.policy(),
	}
	f.resolver = NewResolver(store, &signedFetcher{client: f.client, keys: f.keys, meta: meta})
	f.actors = NewActorResolver(store, accounts, f.resolver, f.client,
		webfinger.NewClient(cfg.Server.timeout()), meta, f.policy, cfg.Server.cacheTTL())
	f.handlers = f.registerHandlers()
	telemetry.Log("follow policy is %s", f.policy)
	return f, nil
}

// Actors is the actor resolver
func (f *Federation) Actors() *ActorResolver {
	return f.actors
}

func (f *Federation) Meta() page.MetaData {
	return f.meta
}

// Run delivers queued activities until the context ends.
func (f *Federation) Run(ctx context.Context) error {
	return f.pipeline.Run(ctx)
}

// Flush waits for queued deliveries to finish
func (f *Federation) Flush() {
	f.pipeline.Flush()
}

func (f *Federation) Stop() {
	f.pipeline.Stop()
	f.actors.Stop()
}

// SyncAccounts creates or updates an account for every configured user,
// making sure each has a key pair.
func (f *Federation) SyncAccounts(ctx context.Context) error {
	for _, user := range f.config.Users {
		account, err := f.accounts.FindAccount(ctx, user.Name)
		if err != nil {
			return err
		}
		if account == nil {
			account = &storage.Account{Name: user.Name}
		}
		account.DisplayName = user.DisplayName
		account.Type = user.Type
		account.Summary = user.Summary
		account.Token = user.Token
		if err := f.keys.EnsureKeys(account, user.PrivKeyFile, user.PubKeyFile); err != nil {
			return fmt.Errorf("keys for %s: %w", user.Name, err)
		}
		if err := f.accounts.SaveAccount(ctx, account); err != nil {
			return fmt.Errorf("saving account %s: %w", user.Name, err)
		}
		if err := f.actors.refreshLocalActor(ctx, account); err != nil {
			telemetry.Error(err, "refreshing actor for %s", user.Name)
		}
	}
	return nil
}

func (f *Federation) newObjectID() string {
	return f.meta.ObjectURL(uuid.NewString())
}

// credentials signs as a local actor
func (f *Federation) credentials(ctx context.Context, actor *activity.Actor) (*Credentials, error) {
	keyID := actor.ID + "#main-key"
	if actor.PublicKey != nil && actor.PublicKey.ID != "" {
		keyID = actor.PublicKey.ID
	}
	return f.keys.Credentials(ctx, actor.PreferredUsername, keyID)
}

// collection reads a stored collection, empty if it doesn't exist yet
func (f *Federation) collection(ctx context.Context, uri string) (*activity.Collection, error) {
	e, err := f.store.RetrieveEntity(ctx, uri)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return activity.NewOrderedCollection(uri), nil
	}
	c, ok := e.(*activity.Collection)
	if !ok {
		return nil, fmt.Errorf("%w: %s is a %s, not a collection", ErrValidation, uri, e.Type())
	}
	return c, nil
}

// updateCollection changes a stored collection inside a store transaction.
// fn reports whether it changed anything.
func (f *Federation) updateCollection(ctx context.Context, uri string, fn func(c *activity.Collection) (bool, error)) error {
	if uri == "" {
		return fmt.Errorf("%w: no collection", ErrValidation)
	}
	return f.store.Update(ctx, uri, func(current activity.Entity) (activity.Entity, error) {
		c, ok := current.(*activity.Collection)
		if !ok {
			if current != nil {
				return nil, fmt.Errorf("%w: %s is a %s, not a collection", ErrValidation, uri, current.Type())
			}
			c = activity.NewOrderedCollection(uri)
		}
		changed, err := fn(c)
		if err != nil || !changed {
			return nil, err
		}
		return c, nil
	})
}

// addToBox puts an activity in an inbox or outbox, replacing one with the same id
func (f *Federation) addToBox(ctx context.Context, uri string, act *activity.Activity) error {
	return f.updateCollection(ctx, uri, func(c *activity.Collection) (bool, error) {
		return true, activity.NewOutbox(c).AddActivity(act)
	})
}

func (f *Federation) addLink(ctx context.Context, uri, item string) error {
	return f.updateCollection(ctx, uri, func(c *activity.Collection) (bool, error) {
		return c.AddLink(item), nil
	})
}

func (f *Federation) removeLink(ctx context.Context, uri, item string) error {
	return f.updateCollection(ctx, uri, func(c *activity.Collection) (bool, error) {
		return c.Remove(item), nil
	})
}

// Followers lists the actor ids following a local account.
func (f *Federation) Followers(ctx context.Context, username string) ([]string, error) {
	actor, err := f.actors.LocalActor(ctx, username)
	if err != nil {
		return nil, err
	}
	c, err := f.collection(ctx, actor.Followers.URI())
	if err != nil {
		return nil, err
	}
	return c.URIs(), nil
}

// Following lists the actor ids a local account follows.
func (f *Federation) Following(ctx context.Context, username string) ([]string, error) {
	actor, err := f.actors.LocalActor(ctx, username)
	if err != nil {
		return nil, err
	}
	c, err := f.collection(ctx, actor.Following.URI())
	if err != nil {
		return nil, err
	}
	return c.URIs(), nil
}
