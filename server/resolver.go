package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/tkrehbiel/activitycore/server/activity"
	"github.com/tkrehbiel/activitycore/server/data"
	"github.com/tkrehbiel/activitycore/server/page"
)

// Fetcher gets remote documents.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// Resolver turns references into values: first from the store, then from the network.
type Resolver struct {
	store   data.Store
	fetcher Fetcher
}

func NewResolver(store data.Store, fetcher Fetcher) *Resolver {
	return &Resolver{store: store, fetcher: fetcher}
}

// Resolve returns the value behind a reference, one hop deep.
// Links inside the result are left as links.
func Resolve[T activity.Entity](ctx context.Context, r *Resolver, ref activity.Reference[T]) (T, error) {
	var zero T
	if v, ok := ref.Value(); ok {
		return v, nil
	}
	uri := ref.URI()
	if uri == "" {
		return zero, fmt.Errorf("%w: empty reference", ErrNotFound)
	}

	e, err := r.store.RetrieveEntity(ctx, uri)
	if err != nil {
		return zero, fmt.Errorf("looking up %s: %w", uri, err)
	}
	if e != nil {
		v, ok := e.(T)
		if !ok {
			return zero, fmt.Errorf("%w: %s is a %s", ErrResolution, uri, e.Type())
		}
		return v, nil
	}

	if r.store.BelongsToCurrentInstance(uri) {
		// nobody else is going to know about our ids
		return zero, fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	return fetchRemote[T](ctx, r, uri)
}

// fetchRemote gets a document from the server that owns it, skipping the store.
func fetchRemote[T activity.Entity](ctx context.Context, r *Resolver, uri string) (T, error) {
	var zero T
	if r.fetcher == nil {
		return zero, fmt.Errorf("%w: can't fetch %s", ErrResolution, uri)
	}
	b, err := r.fetcher.Fetch(ctx, uri)
	if err != nil {
		var de *DeliveryError
		if errors.As(err, &de) && (de.Status == http.StatusNotFound || de.Status == http.StatusGone) {
			return zero, fmt.Errorf("%w: %s answered %d", ErrNotFound, uri, de.Status)
		}
		return zero, fmt.Errorf("%w: fetching %s: %v", ErrResolution, uri, err)
	}
	v, err := activity.DecodeAs[T](b)
	if err != nil {
		return zero, fmt.Errorf("%w: %s: %v", ErrResolution, uri, err)
	}
	if got := v.Properties().ID; got != uri {
		return zero, fmt.Errorf("%w: asked for %s, got %s", ErrResolution, uri, got)
	}
	return v, nil
}

// signedFetcher signs its GETs as whichever local account is acting.
type signedFetcher struct {
	client *Client
	keys   *Keyring
	meta   page.MetaData
}

func (f *signedFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	var creds *Credentials
	if name, ok := signerUsername(ctx); ok {
		var err error
		creds, err = f.keys.Credentials(ctx, name, f.meta.NewUserMetaData(name).PublicKeyID())
		if err != nil {
			return nil, err
		}
	}
	return f.client.fetch(ctx, creds, uri)
}
