package activity

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/tkrehbiel/activitycore/server/telemetry"
)

// Entity is any ActivityStreams object we model.
// The set of variants is closed: *Object, *Actor, *Activity, *Collection.
type Entity interface {
	Type() string
	Properties() *Base
}

// Base holds the properties every object shares.
// The type isn't a field; it comes from the constructor or the decoder
// and can't be changed afterwards.
type Base struct {
	kind string

	Context      LDContext
	ID           string
	Name         string
	Summary      string
	Content      string
	MediaType    string
	Published    time.Time
	To           []ProxyActor
	CC           []ProxyActor
	AttributedTo []Reference[*Actor]
	URL          []string
	Shares       Reference[*Collection] // collection of Announce activities
}

func (b *Base) Type() string {
	return b.kind
}

func (b *Base) Properties() *Base {
	return b
}

// Recipients is To followed by CC.
func (b *Base) Recipients() []ProxyActor {
	out := make([]ProxyActor, 0, len(b.To)+len(b.CC))
	out = append(out, b.To...)
	return append(out, b.CC...)
}

// checkKind enforces that a declared type fits the variant being decoded.
func (b *Base) checkKind(declared string, family Family) error {
	if declared == "" {
		if b.kind == "" {
			b.kind = defaultKind(family)
		}
		return nil
	}
	name, fam, known := LookupKind(declared)
	if b.kind != "" {
		if !strings.EqualFold(b.kind, name) {
			return invalid("illegal type [%s] for %s", declared, b.kind)
		}
		return nil
	}
	if known && fam != family {
		return invalid("illegal type [%s] for an %s", declared, family)
	}
	if !known && family != ObjectFamily {
		return invalid("unknown %s type [%s]", family, declared)
	}
	b.kind = name
	return nil
}

type baseWire struct {
	Context      LDContext                    `json:"@context,omitempty"`
	Type         kindField                    `json:"type"`
	ID           string                       `json:"id,omitempty"`
	Name         string                       `json:"name,omitempty"`
	Summary      string                       `json:"summary,omitempty"`
	Content      string                       `json:"content,omitempty"`
	MediaType    string                       `json:"mediaType,omitempty"`
	Published    string                       `json:"published,omitempty"`
	To           oneOrMany[ProxyActor]        `json:"to,omitempty"`
	CC           oneOrMany[ProxyActor]        `json:"cc,omitempty"`
	AttributedTo oneOrMany[Reference[*Actor]] `json:"attributedTo,omitempty"`
	URL          urlList                      `json:"url,omitempty"`
	Shares       *Reference[*Collection]      `json:"shares,omitempty"`
}

func (b *Base) toWire() baseWire {
	w := baseWire{
		Context:      b.Context,
		Type:         kindField(b.kind),
		ID:           b.ID,
		Name:         b.Name,
		Summary:      b.Summary,
		Content:      b.Content,
		MediaType:    b.MediaType,
		To:           b.To,
		CC:           b.CC,
		AttributedTo: b.AttributedTo,
		URL:          b.URL,
		Shares:       refPtr(b.Shares),
	}
	if !b.Published.IsZero() {
		w.Published = b.Published.UTC().Format(time.RFC3339Nano)
	}
	return w
}

func (b *Base) fromWire(w *baseWire, family Family) error {
	if err := b.checkKind(string(w.Type), family); err != nil {
		return err
	}
	if err := checkURI(w.ID); err != nil {
		return err
	}
	b.Context = w.Context
	b.ID = w.ID
	b.Name = w.Name
	b.Summary = w.Summary
	b.Content = w.Content
	b.MediaType = w.MediaType
	b.To = w.To
	b.CC = w.CC
	b.AttributedTo = w.AttributedTo
	b.URL = w.URL
	b.Shares = refVal(w.Shares)
	b.Published = time.Time{}
	if w.Published != "" {
		t, err := time.Parse(time.RFC3339, w.Published)
		if err != nil {
			// some servers send odd dates, not worth rejecting the object for
			telemetry.Warn("unparseable published date [%s] on [%s]", w.Published, w.ID)
		} else {
			b.Published = t.UTC()
		}
	}
	return nil
}

// Object is a plain content object: Note, Document, Article, Tombstone...
// Types we don't know about also decode as Objects.
type Object struct {
	Base
}

func newBase(kind string) Base {
	return Base{
		kind:    kind,
		Context: LDContext{Context},
	}
}

// NewObject creates an empty object of one of the object kinds.
func NewObject(kind string) (*Object, error) {
	name, fam, known := LookupKind(kind)
	if known && fam != ObjectFamily {
		return nil, invalid("[%s] is not an object type", kind)
	}
	return &Object{Base: newBase(name)}, nil
}

func NewNote(content string) *Object {
	o := &Object{Base: newBase(NoteType)}
	o.Content = content
	return o
}

func NewDocument(name string) *Object {
	o := &Object{Base: newBase(DocumentType)}
	o.Name = name
	return o
}

// NewTombstone replaces a deleted object.
func NewTombstone(id string) *Object {
	o := &Object{Base: newBase(TombstoneType)}
	o.ID = id
	return o
}

func (o Object) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.Base.toWire())
}

func (o *Object) UnmarshalJSON(b []byte) error {
	var w baseWire
	if err := json.Unmarshal(b, &w); err != nil {
		return asValidation(err)
	}
	return o.Base.fromWire(&w, ObjectFamily)
}
