package webfinger

import (
	"encoding/json"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/tkrehbiel/activitycore/server/page"
	"github.com/tkrehbiel/activitycore/server/storage"
	"github.com/tkrehbiel/activitycore/server/telemetry"
)

var acctRegex = regexp.MustCompile(`^acct:(.+)@(.+)$`)

// Handler answers webfinger queries for local accounts.
// Both acct: handles and actor urls are accepted as the resource.
type Handler struct {
	Meta     page.MetaData
	Accounts storage.Accounts
}

func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	telemetry.Request(r, "webfinger")
	resource := r.URL.Query().Get("resource")
	if resource == "" {
		telemetry.Warn("webfinger request without resource param")
		telemetry.Increment("webfinger_missing", 1)
		http.Error(w, "missing resource", http.StatusBadRequest)
		return
	}

	username := h.username(resource)
	if username == "" {
		telemetry.Warn("unrecognized webfinger resource request for [%s]", resource)
		telemetry.Increment("webfinger_unrecognized", 1)
		w.WriteHeader(http.StatusNotFound)
		return
	}
	account, err := h.Accounts.FindAccount(r.Context(), username)
	if err != nil {
		telemetry.Error(err, "finding account for webfinger [%s]", resource)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if account == nil {
		telemetry.Increment("webfinger_unknown", 1)
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", ContentType)
	json.NewEncoder(w).Encode(h.resource(account.Name))
}

// username pulls a local username out of the resource, "" if it isn't ours
func (h Handler) username(resource string) string {
	if m := acctRegex.FindStringSubmatch(resource); m != nil {
		if strings.EqualFold(m[2], h.Meta.HostName) || strings.EqualFold(m[2], h.hostPort()) {
			return m[1]
		}
		return ""
	}
	prefix := strings.TrimSuffix(h.Meta.URL, "/") + "/" + page.SubPath + "/"
	if name := strings.TrimPrefix(resource, prefix); name != resource && !strings.Contains(name, "/") {
		return name
	}
	return ""
}

// hostPort is the host with any explicit port, as it appears in handles
func (h Handler) hostPort() string {
	u, err := url.Parse(h.Meta.URL)
	if err != nil {
		return ""
	}
	return u.Host
}

func (h Handler) resource(name string) Resource {
	meta := h.Meta.NewUserMetaData(name)
	return Resource{
		Subject: h.Meta.WebFingerAccount(name),
		Aliases: []string{meta.UserID, meta.UserProfileURL},
		Links: []Link{
			{Rel: SelfRel, Type: "application/activity+json", Href: meta.UserID},
			{Rel: ProfilePageRel, Type: "text/html", Href: meta.UserProfileURL},
		},
	}
}
