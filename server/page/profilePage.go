package page

import (
	"context"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/tkrehbiel/activitycore/server/telemetry"
)

// ActorMarker is the attribute on the profile page's root element that
// names the local account, so a profile URL can be turned back into an actor.
const ActorMarker = "data-activitypub-actor"

var profileTemplate = template.Must(template.New("profile").Parse(strings.TrimSpace(`
<html data-activitypub-actor="{{ .UserName }}">
<head>
<title>{{ .UserDisplayName }}</title>
<link rel="alternate" type="application/activity+json" href="{{ .UserID }}">
</head>
<body>
<h1>{{ .UserDisplayName }}</h1>
<p>{{ .UserSummary }}</p>
<p>Latest activity from this account</p>
<ul>
	{{ range .LatestNotes }}
	<li><a href="{{ .URL }}">{{ if .Name }}{{ .Name }}{{ else }}{{ .Content }}{{ end }}</a></li>
	{{ end }}
</ul>
</body>
</html>`)))

// Profile is what the profile page shows about an account
type Profile struct {
	UserMetaData
	LatestNotes []ProfileNote
}

type ProfileNote struct {
	URL       string
	Name      string
	Content   string
	Published time.Time
}

// ProfileSource looks up a local account's profile, nil if there isn't one.
type ProfileSource interface {
	Profile(ctx context.Context, name string) (*Profile, error)
}

// ProfilePage renders the HTML profile for the {name} in the route.
type ProfilePage struct {
	Source ProfileSource
}

func (p ProfilePage) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	telemetry.Request(r, "ProfilePage.ServeHTTP")
	name := mux.Vars(r)["name"]
	profile, err := p.Source.Profile(r.Context(), name)
	if err != nil {
		telemetry.Error(err, "loading profile for [%s]", name)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if profile == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := profileTemplate.Execute(w, profile); err != nil {
		telemetry.Error(err, "rendering profile for [%s]", name)
	}
}
