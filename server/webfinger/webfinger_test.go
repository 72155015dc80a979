package webfinger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tkrehbiel/activitycore/server/page"
	"github.com/tkrehbiel/activitycore/server/storage"
)

type accountMap map[string]*storage.Account

func (m accountMap) FindAccount(ctx context.Context, name string) (*storage.Account, error) {
	return m[name], nil
}

func (m accountMap) SaveAccount(ctx context.Context, a *storage.Account) error {
	m[a.Name] = a
	return nil
}

func (m accountMap) ListAccounts(ctx context.Context) ([]storage.Account, error) {
	var out []storage.Account
	for _, a := range m {
		out = append(out, *a)
	}
	return out, nil
}

func TestSplitHandle(t *testing.T) {
	cases := map[string][2]string{
		"alice@example.org":      {"alice", "example.org"},
		"@alice@example.org":     {"alice", "example.org"},
		"acct:alice@example.org": {"alice", "example.org"},
		"alice@localhost:8080":   {"alice", "localhost:8080"},
	}
	for handle, want := range cases {
		user, host, ok := SplitHandle(handle)
		assert.True(t, ok, handle)
		assert.Equal(t, want[0], user)
		assert.Equal(t, want[1], host)
	}
	for _, bad := range []string{"alice", "@alice", "alice@", ""} {
		_, _, ok := SplitHandle(bad)
		assert.False(t, ok, bad)
	}
}

func TestSelfLink(t *testing.T) {
	res := Resource{Links: []Link{
		{Rel: ProfilePageRel, Type: "text/html", Href: "https://example.org/@alice"},
		{Rel: SelfRel, Type: "text/html", Href: "https://example.org/html/alice"},
		{Rel: SelfRel, Type: "application/activity+json", Href: "https://example.org/users/alice"},
	}}
	href, ok := res.SelfLink()
	assert.True(t, ok)
	assert.Equal(t, "https://example.org/users/alice", href)

	_, ok = (&Resource{}).SelfLink()
	assert.False(t, ok)
}

func TestHandler_UserPage(t *testing.T) {
	const (
		testScheme = "ftp"
		testHost   = "testhost"
		testUser   = "testuser"
	)

	u, err := url.Parse(fmt.Sprintf("%s://%s", testScheme, testHost))
	require.NoError(t, err)

	var (
		testAccount     = fmt.Sprintf("acct:%s@%s", testUser, testHost)
		testUserID      = fmt.Sprintf("%s://%s/a/%s", testScheme, testHost, testUser)
		testUserProfile = fmt.Sprintf("%s://%s/profile/%s", testScheme, testHost, testUser)
	)

	h := Handler{Meta: page.NewMetaData(u), Accounts: accountMap{testUser: {Name: testUser}}}

	for _, resource := range []string{testAccount, testUserID} {
		r := httptest.NewRequest("GET", fmt.Sprintf("/anything?resource=%s", resource), nil)
		recorder := httptest.NewRecorder()

		h.ServeHTTP(recorder, r)
		response := recorder.Result()
		body, _ := io.ReadAll(response.Body)

		require.Equal(t, http.StatusOK, response.StatusCode)
		assert.Equal(t, ContentType, response.Header.Get("Content-Type"))

		var data Resource
		require.NoError(t, json.Unmarshal(body, &data))
		assert.Equal(t, testAccount, data.Subject)
		href, ok := data.SelfLink()
		assert.True(t, ok)
		assert.Equal(t, testUserID, href)
		assert.Equal(t, testUserProfile, data.Links[1].Href)
	}
}

func TestHandler_Unknown(t *testing.T) {
	u, _ := url.Parse("https://testhost")
	h := Handler{Meta: page.NewMetaData(u), Accounts: accountMap{"alice": {Name: "alice"}}}

	for _, resource := range []string{"acct:bob@testhost", "acct:alice@otherhost", "https://otherhost/a/alice", "nonsense"} {
		r := httptest.NewRequest("GET", "/.well-known/webfinger?resource="+url.QueryEscape(resource), nil)
		recorder := httptest.NewRecorder()
		h.ServeHTTP(recorder, r)
		assert.Equal(t, http.StatusNotFound, recorder.Code, resource)
	}

	r := httptest.NewRequest("GET", "/.well-known/webfinger", nil)
	recorder := httptest.NewRecorder()
	h.ServeHTTP(recorder, r)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestClient_Lookup(t *testing.T) {
	var asked string
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, Path, r.URL.Path)
		asked = r.URL.Query().Get("resource")
		if !strings.HasPrefix(asked, "acct:alice@") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", ContentType)
		fmt.Fprint(w, `{"subject":"acct:alice@example.org","links":[{"rel":"self","type":"application/activity+json","href":"https://example.org/users/alice"}]}`)
	}))
	defer remote.Close()

	host := strings.TrimPrefix(remote.URL, "http://")
	c := &Client{HTTP: remote.Client(), Scheme: "http"}

	res, err := c.Lookup(context.Background(), "@alice@"+host)
	require.NoError(t, err)
	assert.Equal(t, "acct:alice@"+host, asked)
	href, ok := res.SelfLink()
	assert.True(t, ok)
	assert.Equal(t, "https://example.org/users/alice", href)

	_, err = c.Lookup(context.Background(), "bob@"+host)
	assert.Error(t, err)

	_, err = c.Lookup(context.Background(), "nohost")
	assert.Error(t, err)
}
