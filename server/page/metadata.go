package page

import (
	"fmt"
	"net/url"
)

// SubPath is where actor endpoints live, e.g. /a/alice
const SubPath = "a"

// MetaData contains server information typically used in templates
type MetaData struct {
	URL      string // full server URL with scheme, host, port
	Scheme   string // http or https
	HostName string // server hostname
	Port     int    // server port
	Users    int    // number of local accounts, for nodeinfo
}

// These functions set the base paths for endpoints

// WebFingerAccount gets a webfinger user account name
func (m MetaData) WebFingerAccount(name string) string {
	return fmt.Sprintf("acct:%s@%s", name, m.HostName)
}

// ActorURL gets an ActivtyPub Actor ID and endpoint URL
func (m MetaData) ActorURL(name string) string {
	s, _ := url.JoinPath(m.URL, SubPath, name)
	return s
}

// ProfileURL gets an HTML profile page for a user name
func (m MetaData) ProfileURL(name string) string {
	s, _ := url.JoinPath(m.URL, "profile", name)
	return s
}

// ObjectURL is where a stored object with the given local id is served
func (m MetaData) ObjectURL(id string) string {
	s, _ := url.JoinPath(m.URL, "objects", id)
	return s
}

func (m MetaData) NewUserMetaData(name string) UserMetaData {
	return UserMetaData{
		MetaData:       m,
		UserName:       name,
		UserID:         m.ActorURL(name),
		UserProfileURL: m.ProfileURL(name),
	}
}

func NewMetaData(u *url.URL) MetaData {
	m := MetaData{
		URL:      u.String(),
		Scheme:   u.Scheme,
		HostName: u.Hostname(),
	}
	fmt.Sscan(u.Port(), &m.Port)
	return m
}

// UserMetaData contains user information typically used in templates
type UserMetaData struct {
	MetaData
	UserName        string // Plain undecorated username
	UserID          string // ActivityPub user ID (an URL for application/json+activity)
	UserProfileURL  string // HTML user profile page (an URL)
	UserDisplayName string
	UserSummary     string
	UserType        string // ActivityPub Actor type (Person, Organization, etc.)
}

func (m UserMetaData) InboxURL() string {
	return m.UserID + "/inbox"
}

func (m UserMetaData) OutboxURL() string {
	return m.UserID + "/outbox"
}

func (m UserMetaData) FollowersURL() string {
	return m.UserID + "/followers"
}

func (m UserMetaData) FollowingURL() string {
	return m.UserID + "/following"
}

// PublicKeyID is the keyId other servers see in our signatures
func (m UserMetaData) PublicKeyID() string {
	return m.UserID + "#main-key"
}
