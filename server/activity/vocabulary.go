package activity

import "strings"

// ActivityPub and ActivityStreams vocabulary

const (
	IDProperty        = "id"
	TypeProperty      = "type"
	PublishedProperty = "published"
)

const (
	Context         = "https://www.w3.org/ns/activitystreams"
	SecurityContext = "https://w3id.org/security/v1"
	ContentType     = `application/activity+json`
	ContentTypeLD   = `application/ld+json; profile="https://www.w3.org/ns/activitystreams"`

	// PublicAddress is the special collection meaning "everyone"
	PublicAddress = "https://www.w3.org/ns/activitystreams#Public"
)

// ActivityPub object types
const (
	ObjectType    = "Object"
	NoteType      = "Note"
	DocumentType  = "Document"
	ArticleType   = "Article"
	PageType      = "Page"
	ImageType     = "Image"
	EventType     = "Event"
	TombstoneType = "Tombstone"
)

// ActivityPub actor types
const (
	PersonType       = "Person"
	ServiceType      = "Service"
	ApplicationType  = "Application"
	GroupType        = "Group"
	OrganizationType = "Organization"
)

// ActivityPub activity types
const (
	ActivityType = "Activity"
	CreateType   = "Create"
	UpdateType   = "Update"
	DeleteType   = "Delete"
	FollowType   = "Follow"
	AcceptType   = "Accept"
	RejectType   = "Reject"
	UndoType     = "Undo"
	AnnounceType = "Announce"
	LikeType     = "Like"
	AddType      = "Add"
	RemoveType   = "Remove"
	BlockType    = "Block"
)

// ActivityPub collection types
const (
	CollectionType            = "Collection"
	OrderedCollectionType     = "OrderedCollection"
	CollectionPageType        = "CollectionPage"
	OrderedCollectionPageType = "OrderedCollectionPage"
)

const (
	// ActivityPub time format string
	TimeFormat = "2006-01-02T15:04:05Z"
)

// Family is the Go variant a kind decodes into.
type Family int

const (
	ObjectFamily Family = iota
	ActorFamily
	ActivityFamily
	CollectionFamily
)

func (f Family) String() string {
	switch f {
	case ActorFamily:
		return "actor"
	case ActivityFamily:
		return "activity"
	case CollectionFamily:
		return "collection"
	}
	return "object"
}

type kindEntry struct {
	name   string
	family Family
}

// registry maps lowercased type names to the canonical name and its family.
var registry = map[string]kindEntry{}

func register(family Family, names ...string) {
	for _, n := range names {
		registry[strings.ToLower(n)] = kindEntry{name: n, family: family}
	}
}

func init() {
	register(ObjectFamily, ObjectType, NoteType, DocumentType, ArticleType, PageType, ImageType, EventType, TombstoneType)
	register(ActorFamily, PersonType, ServiceType, ApplicationType, GroupType, OrganizationType)
	register(ActivityFamily, ActivityType, CreateType, UpdateType, DeleteType, FollowType, AcceptType, RejectType,
		UndoType, AnnounceType, LikeType, AddType, RemoveType, BlockType)
	register(CollectionFamily, CollectionType, OrderedCollectionType, CollectionPageType, OrderedCollectionPageType)
}

// LookupKind returns the canonical spelling and family of a type name.
// Type names are matched case-insensitively.
func LookupKind(kind string) (string, Family, bool) {
	e, ok := registry[strings.ToLower(kind)]
	if !ok {
		return kind, ObjectFamily, false
	}
	return e.name, e.family, true
}

// defaultKind is the kind given to an object that didn't declare one.
func defaultKind(f Family) string {
	switch f {
	case ActorFamily:
		return PersonType
	case ActivityFamily:
		return ActivityType
	case CollectionFamily:
		return CollectionType
	}
	return ObjectType
}
