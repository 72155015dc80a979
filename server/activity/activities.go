package activity

import (
	"encoding/json"
	"strings"
)

// Activity is something an actor does to an object.
type Activity struct {
	Base
	Actor  Reference[*Actor]
	Object Reference[Entity]
	Target Reference[Entity]
}

// NewActivity creates an activity of one of the activity kinds.
func NewActivity(kind string, actor string, object Reference[Entity]) (*Activity, error) {
	name, fam, known := LookupKind(kind)
	if !known || fam != ActivityFamily {
		return nil, invalid("[%s] is not an activity type", kind)
	}
	a := &Activity{Base: newBase(name), Object: object}
	if actor != "" {
		a.Actor = Link[*Actor](actor)
	}
	return a, nil
}

func mustActivity(kind string, actor string, object Reference[Entity]) *Activity {
	a, err := NewActivity(kind, actor, object)
	if err != nil {
		panic(err)
	}
	return a
}

// NewCreate wraps an object in a Create. The activity inherits the object's recipients.
func NewCreate(actor string, object Entity) *Activity {
	a := mustActivity(CreateType, actor, Inline(object))
	p := object.Properties()
	a.To = append(a.To, p.To...)
	a.CC = append(a.CC, p.CC...)
	a.Published = p.Published
	return a
}

func NewFollow(actor, target string) *Activity {
	a := mustActivity(FollowType, actor, Link[Entity](target))
	a.To = []ProxyActor{ProxyActor(target)}
	return a
}

// NewAccept answers a Follow, addressed back to whoever sent it.
func NewAccept(actor string, follow *Activity) *Activity {
	return answer(AcceptType, actor, follow)
}

func NewReject(actor string, follow *Activity) *Activity {
	return answer(RejectType, actor, follow)
}

func answer(kind string, actor string, follow *Activity) *Activity {
	a := mustActivity(kind, actor, Inline[Entity](follow))
	if who := follow.Actor.URI(); who != "" {
		a.To = []ProxyActor{ProxyActor(who)}
	}
	return a
}

// NewUndo retracts an earlier activity, with the same audience.
func NewUndo(actor string, undone *Activity) *Activity {
	a := mustActivity(UndoType, actor, Inline[Entity](undone))
	a.To = append(a.To, undone.To...)
	a.CC = append(a.CC, undone.CC...)
	return a
}

func NewAnnounce(actor, object string) *Activity {
	return mustActivity(AnnounceType, actor, Link[Entity](object))
}

func NewLike(actor, object string) *Activity {
	return mustActivity(LikeType, actor, Link[Entity](object))
}

// Is reports whether the activity is of the given kind.
func (a *Activity) Is(kind string) bool {
	return strings.EqualFold(a.kind, kind)
}

type activityWire struct {
	baseWire
	Actor  *Reference[*Actor] `json:"actor,omitempty"`
	Object *Reference[Entity] `json:"object,omitempty"`
	Target *Reference[Entity] `json:"target,omitempty"`
}

func (a Activity) MarshalJSON() ([]byte, error) {
	return json.Marshal(activityWire{
		baseWire: a.Base.toWire(),
		Actor:    refPtr(a.Actor),
		Object:   refPtr(a.Object),
		Target:   refPtr(a.Target),
	})
}

func (a *Activity) UnmarshalJSON(b []byte) error {
	var w activityWire
	if err := json.Unmarshal(b, &w); err != nil {
		return asValidation(err)
	}
	if err := a.Base.fromWire(&w.baseWire, ActivityFamily); err != nil {
		return err
	}
	a.Actor = refVal(w.Actor)
	a.Object = refVal(w.Object)
	a.Target = refVal(w.Target)
	return nil
}
