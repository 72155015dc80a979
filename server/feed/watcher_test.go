package feed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const firstRSS = `
<?xml version="1.0" encoding="utf-8" ?>
<rss version="2.0" xmlns:atom="http://www.w3.org/2005/Atom" xmlns:itunes="http://www.itunes.com/dtds/podcast-1.0.dtd">
  <channel>
    <title>Endgame Viable</title>
    <link>https://endgameviable.com/</link>
    <item>
      <title>ActivityPub And Me, Part 1 of ?</title>
      <link>https://endgameviable.com/dev/2022/11/activitypub-and-me-part-1/</link>
      <pubDate>Fri, 18 Nov 2022 13:25:34 -0500</pubDate>
      <guid>https://endgameviable.com/dev/2022/11/activitypub-and-me-part-1/</guid>
      <enclosure url="https://media.endgameviable.com/img/2019/08/html-header-image.jpg" length="0" type="image/jpeg" />
      <description>&lt;p&gt;I&amp;rsquo;ve been on a learning rampage on the topic of &lt;a href=&#34;https://en.wikipedia.org/wiki/Fediverse&#34;&gt;the fediverse&lt;/a&gt; lately, and there&amp;rsquo;s plenty of material for writing blog posts.&lt;/p&gt;
&lt;p&gt;With everyone &lt;a href=&#34;https://twitterisgoinggreat.com/#just-setting-up-their-quitters&#34;&gt;freaking out about Twitter again today&lt;/a&gt;, it seems like I good time to publish this draft. However, I&amp;rsquo;m specifically &lt;em&gt;not&lt;/em&gt; going to:&lt;/p&gt;
&lt;p&gt;Anyhoo, those are some of my ActivityPub interests and the obstacles I need to overcome to make it happen.&lt;/p&gt;</description>
    </item>
	<item>
	  <title>PC Gaming Wasteland</title>
	  <link>https://endgameviable.com/gaming/2022/10/pc-gaming-wasteland/</link>
	  <pubDate>Sun, 16 Oct 2022 10:11:36 -0400</pubDate>
	  <guid>https://endgameviable.com/gaming/2022/10/pc-gaming-wasteland/</guid>
	  <description>&lt;p&gt;I guess this is the inevitable effect of the pandemic.&lt;/p&gt;</description>
    </item>
  </channel>
</rss>`

const secondRSS = `<?xml version="1.0" encoding="utf-8" ?>
<rss version="2.0" xmlns:atom="http://www.w3.org/2005/Atom" xmlns:itunes="http://www.itunes.com/dtds/podcast-1.0.dtd">
  <channel>
    <title>Endgame Viable</title>
    <link>https://endgameviable.com/</link>
    <item>
      <title>Twitter Firestorm, Part 2</title>
      <link>https://endgameviable.com/post/2022/11/twitter-firestorm-part-2/</link>
      <pubDate>Sun, 20 Nov 2022 16:43:30 -0500</pubDate>
      <guid>https://endgameviable.com/post/2022/11/twitter-firestorm-part-2/</guid>
      <description>twitter firestorm body</description>
    </item>
    <item>
      <title>ActivityPub And Me, Part 1 of ?</title>
      <link>https://endgameviable.com/dev/2022/11/activitypub-and-me-part-1/</link>
      <pubDate>Fri, 18 Nov 2022 13:25:34 -0500</pubDate>
      <guid>https://endgameviable.com/dev/2022/11/activitypub-and-me-part-1/</guid>
      <description>&lt;p&gt;&lt;img src=&#34;https://media.endgameviable.com/img/2019/08/html-header-image.jpg&#34; /&gt;&lt;/p&gt;&lt;p&gt;I&amp;rsquo;ve been on a learning rampage on the topic of &lt;a href=&#34;https://en.wikipedia.org/wiki/Fediverse&#34;&gt;the fediverse&lt;/a&gt; lately, and there&amp;rsquo;s plenty of material for writing blog posts.&lt;/p&gt;
&lt;p&gt;With everyone &lt;a href=&#34;https://twitterisgoinggreat.com/#just-setting-up-their-quitters&#34;&gt;freaking out about Twitter again today&lt;/a&gt;, it seems like I good time to publish this draft. However, I&amp;rsquo;m specifically &lt;em&gt;not&lt;/em&gt; going to:&lt;/p&gt;
&lt;p&gt;Anyhoo, those are some of my ActivityPub interests and the obstacles I need to overcome to make it happen.&lt;/p&gt;</description>
    </item>
	<item>
	  <title>PC Gaming Wasteland</title>
	  <link>https://endgameviable.com/gaming/2022/10/pc-gaming-wasteland/</link>
	  <pubDate>Sun, 16 Oct 2022 10:11:36 -0400</pubDate>
	  <guid>https://endgameviable.com/gaming/2022/10/pc-gaming-wasteland/</guid>
	  <description>&lt;p&gt;I guess this is the inevitable effect of the pandemic.&lt;/p&gt;</description>
    </item>
  </channel>
</rss>`

func newTestWatcher(url string, handler ItemHandler) *Watcher {
	return NewWatcher(url, time.Second, handler)
}

func TestWatcher_ParseItems(t *testing.T) {
	w := newTestWatcher("", nil)
	r := bytes.NewBufferString(firstRSS)
	newItems, err := w.parseItems(r)
	require.NoError(t, err)
	require.Equal(t, 2, len(newItems))

	// oldest first
	assert.Equal(t, "PC Gaming Wasteland", newItems[0].Title)
	assert.Equal(t, "https://endgameviable.com/dev/2022/11/activitypub-and-me-part-1/", newItems[1].ID)
	assert.Equal(t, time.UTC, newItems[1].Published.Location())

	// nothing new the second time
	newItems, err = w.parseItems(bytes.NewBufferString(firstRSS))
	require.NoError(t, err)
	assert.Empty(t, newItems)
}

const atomFeed = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Example</title>
  <entry>
    <title>Edited post</title>
    <link href="https://example.org/posts/1"/>
    <id>tag:example.org,2022:1</id>
    <published>2022-11-20T10:00:00Z</published>
    <updated>%s</updated>
    <category term="golang"/>
    <summary>hello</summary>
  </entry>
</feed>`

func TestWatcher_UpdatedItem(t *testing.T) {
	w := newTestWatcher("", nil)

	items, err := w.parseItems(bytes.NewBufferString(fmt.Sprintf(atomFeed, "2022-11-20T10:00:00Z")))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "tag:example.org,2022:1", items[0].ID)
	assert.Equal(t, "https://example.org/posts/1", items[0].URL)
	assert.Equal(t, []string{"golang"}, items[0].Hashtags)

	items, err = w.parseItems(bytes.NewBufferString(fmt.Sprintf(atomFeed, "2022-11-20T10:00:00Z")))
	require.NoError(t, err)
	assert.Empty(t, items)

	items, err = w.parseItems(bytes.NewBufferString(fmt.Sprintf(atomFeed, "2022-11-21T08:00:00Z")))
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

type mockNewItem struct {
	mock.Mock
}

func (m *mockNewItem) NewItem(ctx context.Context, item Item) error {
	args := m.Called(item)
	return args.Error(0)
}

func (m *mockNewItem) StatusCode(code int) {
	m.Called(code)
}

func TestWatcher_CheckModified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Primitive Last-Modified handling
		if r.Header.Get("If-None-Match") == "ABC" && r.Header.Get("If-Modified-Since") == "123" {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Add("ETag", "ABC")
		w.Header().Add("Last-Modified", "123")
		fmt.Fprint(w, firstRSS)
	}))
	defer srv.Close()

	mockHandler := &mockNewItem{}
	mockHandler.On("StatusCode", 200).Once()
	mockHandler.On("NewItem", mock.Anything).Return(nil).Times(2) // 2 items in the first rss feed
	mockHandler.On("StatusCode", 304).Once()

	w := newTestWatcher(srv.URL, mockHandler)

	assert.NoError(t, w.Check(context.Background()))

	// Second time should get unmodified
	assert.NoError(t, w.Check(context.Background()))

	mockHandler.AssertExpectations(t)
}

func TestWatcher_CheckNewItem(t *testing.T) {
	srv1 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, firstRSS)
	}))
	defer srv1.Close()

	srv2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, secondRSS)
	}))
	defer srv2.Close()

	mockHandler := &mockNewItem{}
	mockHandler.On("StatusCode", 200).Twice()
	mockHandler.On("NewItem", mock.Anything).Return(nil).Times(3) // 2 items in the first feed, 1 new in the second

	w := newTestWatcher(srv1.URL, mockHandler)

	assert.NoError(t, w.Check(context.Background()))

	w.URL = srv2.URL

	// Second time should get only 1 new item
	assert.NoError(t, w.Check(context.Background()))

	mockHandler.AssertExpectations(t)
}

func TestWatcher_FailedItemIsRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, atomFeed, "2022-11-20T10:00:00Z")
	}))
	defer srv.Close()

	mockHandler := &mockNewItem{}
	mockHandler.On("StatusCode", 200).Twice()
	mockHandler.On("NewItem", mock.Anything).Return(errors.New("nope")).Once()
	mockHandler.On("NewItem", mock.Anything).Return(nil).Once()

	w := newTestWatcher(srv.URL, mockHandler)
	assert.NoError(t, w.Check(context.Background()))
	assert.NoError(t, w.Check(context.Background()))

	mockHandler.AssertExpectations(t)
}

func TestWatcher_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	mockHandler := &mockNewItem{}
	mockHandler.On("StatusCode", http.StatusGone).Once()

	w := newTestWatcher(srv.URL, mockHandler)
	assert.Error(t, w.Check(context.Background()))
	mockHandler.AssertExpectations(t)
}
