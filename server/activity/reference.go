package activity

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Reference points at an entity that is either embedded inline or only known
// by its URI. T is one of the Entity variants (*Object, *Actor, *Activity,
// *Collection) or Entity itself.
//
// References are never resolved implicitly. Callers resolve a link one hop
// at a time, which keeps cyclic graphs (an actor and its own outbox) finite.
type Reference[T any] struct {
	value  T
	link   string
	inline bool
}

// Inline wraps an embedded value.
func Inline[T any](v T) Reference[T] {
	return Reference[T]{value: v, inline: true}
}

// Link refers to an entity by URI.
func Link[T any](uri string) Reference[T] {
	return Reference[T]{link: uri}
}

// IsZero reports whether the reference holds nothing at all.
func (r Reference[T]) IsZero() bool {
	return !r.inline && r.link == ""
}

func (r Reference[T]) IsInline() bool {
	return r.inline
}

func (r Reference[T]) IsLink() bool {
	return !r.inline && r.link != ""
}

// Value returns the embedded value, if there is one.
func (r Reference[T]) Value() (T, bool) {
	return r.value, r.inline
}

// URI is the link, or the id of the embedded value.
func (r Reference[T]) URI() string {
	if !r.inline {
		return r.link
	}
	if e, ok := any(r.value).(Entity); ok && e != nil {
		return e.Properties().ID
	}
	return ""
}

// AsLink drops the embedded value and keeps only its id.
func (r Reference[T]) AsLink() Reference[T] {
	return Link[T](r.URI())
}

func (r Reference[T]) String() string {
	if r.inline {
		return fmt.Sprintf("inline[%s]", r.URI())
	}
	return r.link
}

func (r Reference[T]) MarshalJSON() ([]byte, error) {
	if r.inline {
		return json.Marshal(r.value)
	}
	if r.link != "" {
		return json.Marshal(r.link)
	}
	return []byte("null"), nil
}

func (r *Reference[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*r = Reference[T]{}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return invalid("%s", err)
		}
		if err := checkURI(s); err != nil {
			return err
		}
		*r = Link[T](s)
		return nil
	}
	v, err := DecodeAs[T](b)
	if err != nil {
		return err
	}
	*r = Inline(v)
	return nil
}

func refPtr[T any](r Reference[T]) *Reference[T] {
	if r.IsZero() {
		return nil
	}
	return &r
}

func refVal[T any](r *Reference[T]) Reference[T] {
	if r == nil {
		return Reference[T]{}
	}
	return *r
}
