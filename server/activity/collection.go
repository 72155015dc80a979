package activity

import (
	"encoding/json"
	"strings"
)

// Collection is a Collection or OrderedCollection (or a page of one).
// Items keep their insertion order either way.
type Collection struct {
	Base
	Items      []Reference[Entity]
	TotalItems int
	First      Reference[*Collection]
	Next       Reference[*Collection]
}

func NewCollection(id string) *Collection {
	c := &Collection{Base: newBase(CollectionType)}
	c.ID = id
	return c
}

func NewOrderedCollection(id string) *Collection {
	c := &Collection{Base: newBase(OrderedCollectionType)}
	c.ID = id
	return c
}

// Ordered reports whether items serialize as orderedItems.
func (c *Collection) Ordered() bool {
	return strings.HasPrefix(c.kind, "Ordered")
}

func (c *Collection) Len() int {
	return len(c.Items)
}

func (c *Collection) indexOf(uri string) int {
	if uri == "" {
		return -1
	}
	for i, item := range c.Items {
		if item.URI() == uri {
			return i
		}
	}
	return -1
}

func (c *Collection) Contains(uri string) bool {
	return c.indexOf(uri) >= 0
}

// Add appends an item unless one with the same URI is already present.
func (c *Collection) Add(item Reference[Entity]) bool {
	if item.IsZero() || c.Contains(item.URI()) {
		return false
	}
	c.Items = append(c.Items, item)
	c.TotalItems = len(c.Items)
	return true
}

// AddLink is Add for an item known only by URI.
func (c *Collection) AddLink(uri string) bool {
	if uri == "" {
		return false
	}
	return c.Add(Link[Entity](uri))
}

func (c *Collection) Remove(uri string) bool {
	i := c.indexOf(uri)
	if i < 0 {
		return false
	}
	c.Items = append(c.Items[:i], c.Items[i+1:]...)
	c.TotalItems = len(c.Items)
	return true
}

// URIs lists the ids of every item that has one.
func (c *Collection) URIs() []string {
	out := make([]string, 0, len(c.Items))
	for _, item := range c.Items {
		if uri := item.URI(); uri != "" {
			out = append(out, uri)
		}
	}
	return out
}

type collectionWire struct {
	baseWire
	TotalItems   *int                    `json:"totalItems,omitempty"`
	Items        *[]Reference[Entity]    `json:"items,omitempty"`
	OrderedItems *[]Reference[Entity]    `json:"orderedItems,omitempty"`
	First        *Reference[*Collection] `json:"first,omitempty"`
	Next         *Reference[*Collection] `json:"next,omitempty"`
}

func (c Collection) MarshalJSON() ([]byte, error) {
	total := c.TotalItems
	if total < len(c.Items) {
		total = len(c.Items)
	}
	w := collectionWire{
		baseWire:   c.Base.toWire(),
		TotalItems: &total,
		First:      refPtr(c.First),
		Next:       refPtr(c.Next),
	}
	// paged collections carry no items of their own
	if len(c.Items) > 0 || c.First.IsZero() {
		items := c.Items
		if items == nil {
			items = []Reference[Entity]{}
		}
		if c.Ordered() {
			w.OrderedItems = &items
		} else {
			w.Items = &items
		}
	}
	return json.Marshal(w)
}

func (c *Collection) UnmarshalJSON(b []byte) error {
	var w collectionWire
	if err := json.Unmarshal(b, &w); err != nil {
		return asValidation(err)
	}
	if err := c.Base.fromWire(&w.baseWire, CollectionFamily); err != nil {
		return err
	}
	c.Items = nil
	if w.OrderedItems != nil {
		c.Items = append(c.Items, *w.OrderedItems...)
	}
	if w.Items != nil {
		c.Items = append(c.Items, *w.Items...)
	}
	c.TotalItems = len(c.Items)
	if w.TotalItems != nil && *w.TotalItems > c.TotalItems {
		c.TotalItems = *w.TotalItems
	}
	c.First = refVal(w.First)
	c.Next = refVal(w.Next)
	return nil
}

// Outbox is a collection of activities keyed by activity id.
// Adding an activity whose id is already present replaces it in place.
// Inboxes behave exactly the same way.
type Outbox struct {
	*Collection
	index map[string]int
}

type Inbox = Outbox

// NewOutbox indexes an existing collection.
func NewOutbox(c *Collection) *Outbox {
	o := &Outbox{Collection: c, index: map[string]int{}}
	for i, item := range c.Items {
		if uri := item.URI(); uri != "" {
			o.index[uri] = i
		}
	}
	return o
}

// AddActivity stores an activity, overwriting any earlier one with the same id.
func (o *Outbox) AddActivity(a *Activity) error {
	if a == nil || a.ID == "" {
		return invalid("activity without an id can't be added to %s", o.ID)
	}
	ref := Inline[Entity](a)
	if i, ok := o.index[a.ID]; ok {
		o.Items[i] = ref
		return nil
	}
	o.index[a.ID] = len(o.Items)
	o.Items = append(o.Items, ref)
	o.TotalItems = len(o.Items)
	return nil
}

// Activity returns the stored activity with the given id, if it is held inline.
func (o *Outbox) Activity(id string) (*Activity, bool) {
	i, ok := o.index[id]
	if !ok {
		return nil, false
	}
	v, _ := o.Items[i].Value()
	a, ok := v.(*Activity)
	return a, ok
}

// Activities lists the inline activities in insertion order.
func (o *Outbox) Activities() []*Activity {
	var out []*Activity
	for _, item := range o.Items {
		if v, ok := item.Value(); ok {
			if a, ok := v.(*Activity); ok {
				out = append(out, a)
			}
		}
	}
	return out
}
