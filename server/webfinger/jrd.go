// Package webfinger discovers actors from user@host handles (RFC 7033),
// and answers the same questions about our own accounts.
package webfinger

import "strings"

const (
	Path        = "/.well-known/webfinger"
	ContentType = "application/jrd+json"

	SelfRel        = "self"
	ProfilePageRel = "http://webfinger.net/rel/profile-page"
)

// Resource is a JSON Resource Descriptor
type Resource struct {
	Subject string   `json:"subject"`
	Aliases []string `json:"aliases,omitempty"`
	Links   []Link   `json:"links"`
}

type Link struct {
	Rel      string `json:"rel"`
	Type     string `json:"type,omitempty"`
	Href     string `json:"href,omitempty"`
	Template string `json:"template,omitempty"`
}

// SelfLink finds the ActivityPub actor link.
// An activity+json or ld+json type is preferred over any other self link.
func (r *Resource) SelfLink() (string, bool) {
	var fallback string
	for _, link := range r.Links {
		if link.Rel != SelfRel || link.Href == "" {
			continue
		}
		if strings.Contains(link.Type, "activity+json") || strings.Contains(link.Type, "ld+json") {
			return link.Href, true
		}
		if fallback == "" {
			fallback = link.Href
		}
	}
	return fallback, fallback != ""
}

// SplitHandle turns "@user@host", "acct:user@host" or "user@host" into its parts.
func SplitHandle(handle string) (user, host string, ok bool) {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "acct:")
	handle = strings.TrimPrefix(handle, "@")
	i := strings.LastIndex(handle, "@")
	if i <= 0 || i == len(handle)-1 {
		return "", "", false
	}
	return handle[:i], handle[i+1:], true
}
