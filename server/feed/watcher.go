// Package feed watches a blog's RSS, Atom or JSON feed for new posts.
package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/tkrehbiel/activitycore/server/telemetry"
)

// Item is our internal, minimalist representation of a blog post
type Item struct {
	ID        string
	Title     string
	Published time.Time
	Updated   time.Time
	Content   string
	URL       string
	Hashtags  []string
}

// ItemHandler is an interface that defines what to do when new feed items are discovered
type ItemHandler interface {
	// StatusCode is called after any fetch, normally either 200 (OK) or 304 (NotModified)
	StatusCode(code int)
	// NewItem is called when a new or edited feed item is discovered
	NewItem(ctx context.Context, item Item) error
}

// Watcher implements a small service to watch a feed and discover new activity
type Watcher struct {
	URL     string
	Client  *http.Client
	Handler ItemHandler

	itemParser   ItemParser
	etag         string
	lastModified string

	knownLock sync.Mutex
	known     map[string]time.Time // known guids to track new and updated items
}

type ItemParser interface {
	Parse(r io.Reader) ([]Item, error)
}

type gofeedParser struct {
	parser *gofeed.Parser // helper to parse rss, atom, json
}

// Parse an HTTP body as an RSS feed (or Atom or JSON, it turns out)
func (p gofeedParser) Parse(reader io.Reader) ([]Item, error) {
	feed, err := p.parser.Parse(reader)
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(feed.Items))
	for _, item := range feed.Items {
		parsedItem := Item{
			ID:       item.GUID,
			Title:    item.Title,
			Content:  item.Description,
			URL:      item.Link,
			Hashtags: item.Categories,
		}
		if parsedItem.ID == "" {
			parsedItem.ID = item.Link
		}
		if parsedItem.Content == "" {
			parsedItem.Content = item.Content
		}
		if item.PublishedParsed != nil {
			parsedItem.Published = item.PublishedParsed.UTC()
		} else {
			// Some feeds have mangled dates
			// e.g. CNN "Sat, 26 Nov 2022 11:04:03 GMT"
			telemetry.Warn("feed item [%s] has unparseable date [%s]", parsedItem.ID, item.Published)
			parsedItem.Published = time.Now().UTC()
		}
		if item.UpdatedParsed != nil {
			parsedItem.Updated = item.UpdatedParsed.UTC()
		} else {
			parsedItem.Updated = parsedItem.Published
		}
		items = append(items, parsedItem)
	}
	return items, nil
}

// Check remote feed for changes
func (c *Watcher) Check(ctx context.Context) error {
	r, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return err
	}
	if c.lastModified != "" {
		r.Header.Set("If-Modified-Since", c.lastModified)
	}
	if c.etag != "" {
		r.Header.Set("If-None-Match", c.etag)
	}

	resp, err := c.Client.Do(r)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	c.Handler.StatusCode(resp.StatusCode)
	if resp.StatusCode == http.StatusNotModified {
		// Feed not modified, nothing to do
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("feed %s: response code %d", c.URL, resp.StatusCode)
	}

	newItems, err := c.parseItems(resp.Body)
	if err != nil {
		return fmt.Errorf("feed %s: %w", c.URL, err)
	}

	for _, item := range newItems {
		if err := c.Handler.NewItem(ctx, item); err != nil {
			// forget it so the next check tries again
			c.forget(item)
			telemetry.Error(err, "handling feed item [%s]", item.ID)
		}
	}

	c.etag = resp.Header.Get("ETag")
	c.lastModified = resp.Header.Get("Last-Modified")
	return nil
}

// AddKnown marks an item as already handled
func (c *Watcher) AddKnown(item Item) {
	c.knownLock.Lock()
	defer c.knownLock.Unlock()
	c.known[item.ID] = item.Updated
}

func (c *Watcher) forget(item Item) {
	c.knownLock.Lock()
	defer c.knownLock.Unlock()
	delete(c.known, item.ID)
}

// parseItems returns items never seen before, or seen with an older update time
func (c *Watcher) parseItems(body io.Reader) ([]Item, error) {
	allItems, err := c.itemParser.Parse(body)
	if err != nil {
		return nil, err
	}

	c.knownLock.Lock()
	newItems := make([]Item, 0)
	for _, item := range allItems {
		if updated, ok := c.known[item.ID]; !ok || item.Updated.After(updated) {
			c.known[item.ID] = item.Updated
			newItems = append(newItems, item)
		}
	}
	c.knownLock.Unlock()

	// sort from oldest to newest
	sort.Slice(newItems, func(i int, j int) bool {
		return newItems[i].Published.Before(newItems[j].Published)
	})

	return newItems, nil
}

// Watch checks the feed every period until the context ends.
func (c *Watcher) Watch(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	if err := c.Check(ctx); err != nil {
		telemetry.Error(err, "checking feed [%s]", c.URL)
	}
	for {
		select {
		case <-ctx.Done():
			telemetry.Log("stopped watching %s: %s", c.URL, ctx.Err())
			return
		case <-ticker.C:
			if err := c.Check(ctx); err != nil {
				telemetry.Error(err, "checking feed [%s]", c.URL)
			}
		}
	}
}

func NewWatcher(url string, timeout time.Duration, handler ItemHandler) *Watcher {
	return &Watcher{
		URL:     url,
		Client:  &http.Client{Timeout: timeout},
		Handler: handler,
		itemParser: gofeedParser{
			parser: gofeed.NewParser(),
		},
		known: make(map[string]time.Time),
	}
}
