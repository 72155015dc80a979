package activity

import (
	"bytes"
	"encoding/json"

	"github.com/tkrehbiel/activitycore/server/telemetry"
)

// JSON-LD properties can be a simple string, an array, or an expansive map,
// so these helper types soak up the variations without a full JSON-LD processor.

// LDContext is the @context of an object, kept as an opaque list of URIs.
// Inline term definitions (maps) are dropped and logged.
type LDContext []string

func (c *LDContext) UnmarshalJSON(b []byte) error {
	var raw interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return invalid("@context: %s", err)
	}
	var out LDContext
	switch v := raw.(type) {
	case nil:
	case string:
		out = append(out, v)
	case []interface{}:
		for _, entry := range v {
			if s, ok := entry.(string); ok {
				out = append(out, s)
			} else {
				ignoreContext(entry)
			}
		}
	default:
		ignoreContext(v)
	}
	*c = out
	return nil
}

func (c LDContext) MarshalJSON() ([]byte, error) {
	if len(c) == 1 {
		return json.Marshal(c[0])
	}
	return json.Marshal([]string(c))
}

func ignoreContext(v interface{}) {
	b, _ := json.Marshal(v)
	telemetry.Log("@context entry %s has been ignored", string(b))
	telemetry.Increment("context_ignored", 1)
}

// ProxyActor is a recipient known only by its URI, resolved at delivery time.
// It may also be the public collection or someone's followers collection.
type ProxyActor string

// PublicActor addresses everyone.
const PublicActor ProxyActor = PublicAddress

func (p ProxyActor) URI() string {
	return string(p)
}

func (p ProxyActor) IsPublic() bool {
	switch string(p) {
	case PublicAddress, "as:Public", "Public":
		return true
	}
	return false
}

func (p *ProxyActor) UnmarshalJSON(b []byte) error {
	id, err := parseID(b)
	if err != nil {
		return err
	}
	*p = ProxyActor(id)
	return nil
}

// parseID reads either a bare string or the "id" of a map.
func parseID(b []byte) (string, error) {
	b = bytes.TrimSpace(b)
	var id string
	if len(b) > 0 && b[0] == '{' {
		var obj struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return "", invalid("%s", err)
		}
		id = obj.ID
	} else if err := json.Unmarshal(b, &id); err != nil {
		return "", invalid("%s", err)
	}
	if err := checkURI(id); err != nil {
		return "", err
	}
	return id, nil
}

// oneOrMany accepts a single value wherever an array is expected.
type oneOrMany[T any] []T

func (l *oneOrMany[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*l = nil
		return nil
	}
	if b[0] == '[' {
		var many []T
		if err := json.Unmarshal(b, &many); err != nil {
			return err
		}
		*l = many
		return nil
	}
	var one T
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*l = oneOrMany[T]{one}
	return nil
}

// urlList is the "url" property: strings or Link objects.
type urlList []string

func (l *urlList) UnmarshalJSON(b []byte) error {
	var entries oneOrMany[json.RawMessage]
	if err := json.Unmarshal(b, &entries); err != nil {
		return invalid("url: %s", err)
	}
	var out urlList
	for _, raw := range entries {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			var link struct {
				Href string `json:"href"`
			}
			if err := json.Unmarshal(raw, &link); err != nil {
				return invalid("url: %s", err)
			}
			s = link.Href
		}
		if err := checkURI(s); err != nil {
			return err
		}
		if s != "" {
			out = append(out, s)
		}
	}
	*l = out
	return nil
}

// kindField is the "type" property. Some servers send an array of types,
// in which case the first one we know about wins.
type kindField string

func (k *kindField) UnmarshalJSON(b []byte) error {
	var types oneOrMany[string]
	if err := json.Unmarshal(b, &types); err != nil {
		return invalid("type: %s", err)
	}
	*k = ""
	for _, t := range types {
		if _, _, known := LookupKind(t); known {
			*k = kindField(t)
			return nil
		}
	}
	if len(types) > 0 {
		*k = kindField(types[0])
	}
	return nil
}
