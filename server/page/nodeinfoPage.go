package page

// Serving /.well-known/nodeinfo

var WellKnownNodeInfo = StaticPage{
	Path:        "/.well-known/nodeinfo",
	Accept:      "*/*",
	ContentType: "application/json",
	Template: `
{
	"links": [
		{
			"rel": "http://nodeinfo.diaspora.software/ns/schema/2.1",
			"href": "{{ .URL }}/nodeinfo/2.1"
		}
	]
}`,
}

var NodeInfo = StaticPage{
	Path:        "/nodeinfo/2.1",
	Accept:      "*/*",
	ContentType: `application/json; profile="http://nodeinfo.diaspora.software/ns/schema/2.1#"`,
	Template: `
{
	"version": "2.1",
	"software": {
		"name": "activitycore",
		"version": "0.1",
		"repository": "https://github.com/tkrehbiel/activitycore/"
	},
	"protocols": ["activitypub"],
	"services": {"inbound": [], "outbound": ["rss2.0", "atom1.0"]},
	"openRegistrations": false,
	"usage": {"users": {"total": {{ .Users }}}},
	"metadata": {}
}`,
}
