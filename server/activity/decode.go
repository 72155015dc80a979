package activity

import (
	"encoding/json"
	"fmt"
)

// Decode parses any ActivityStreams document into the variant its type names.
// Types we don't recognize come back as an *Object that keeps the declared type.
func Decode(b []byte) (Entity, error) {
	var head struct {
		Type kindField `json:"type"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return nil, asValidation(err)
	}
	_, family, _ := LookupKind(string(head.Type))
	var e Entity
	switch family {
	case ActorFamily:
		e = &Actor{}
	case ActivityFamily:
		e = &Activity{}
	case CollectionFamily:
		e = &Collection{}
	default:
		e = &Object{}
	}
	if err := json.Unmarshal(b, e); err != nil {
		return nil, asValidation(err)
	}
	return e, nil
}

// DecodeAs parses a document into a specific variant, or into whatever
// variant fits when T is Entity. A declared type from another family fails.
func DecodeAs[T any](b []byte) (T, error) {
	var out T
	var err error
	switch p := any(&out).(type) {
	case **Object:
		*p = &Object{}
		err = json.Unmarshal(b, *p)
	case **Actor:
		*p = &Actor{}
		err = json.Unmarshal(b, *p)
	case **Activity:
		*p = &Activity{}
		err = json.Unmarshal(b, *p)
	case **Collection:
		*p = &Collection{}
		err = json.Unmarshal(b, *p)
	case *Entity:
		*p, err = Decode(b)
	default:
		return out, fmt.Errorf("can't decode into %T", out)
	}
	if err != nil {
		var zero T
		return zero, asValidation(err)
	}
	return out, nil
}

// Encode is json.Marshal for an entity.
func Encode(e Entity) ([]byte, error) {
	return json.Marshal(e)
}
