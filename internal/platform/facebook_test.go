package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	config "github.com/maheshrc27/crosspost/configs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePage struct {
	recorder
	uploads atomic.Int32
}

func (p *fakePage) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req := p.capture(r)
	switch req.Path {
	case "/page1/feed":
		fmt.Fprint(w, `{"id":"page1_100"}`)
	case "/page1/photos", "/page1/videos":
		n := p.uploads.Add(1)
		if req.Form["published"] == "true" {
			fmt.Fprintf(w, `{"id":"%d","post_id":"page1_%d"}`, n, n)
			return
		}
		fmt.Fprintf(w, `{"id":"%d"}`, n)
	case "/page1":
		fmt.Fprint(w, `{"id":"page1","name":"Page"}`)
	default:
		http.NotFound(w, r)
	}
}

func newFacebookFixture(t *testing.T) (*fixture, *fakePage, Adapter) {
	t.Helper()
	f := newFixture(t)
	page := &fakePage{}
	srv := httptest.NewServer(page)
	t.Cleanup(srv.Close)
	return f, page, NewFacebook(config.Facebook{GraphURL: srv.URL}, testClient(), f.resolver)
}

var fbCred = Credential{AccessToken: "tok", AccountID: "page1"}

func TestFacebookTextOnly(t *testing.T) {
	_, page, adapter := newFacebookFixture(t)

	res, err := adapter.Publish(context.Background(), newPost("Launch", "hello"), fbCred)
	require.NoError(t, err)
	require.True(t, res.Success, res.Error())
	assert.Equal(t, "page1_100", res.ExternalID)
	assert.Equal(t, "https://www.facebook.com/page1_100", res.PlatformURL)

	feed := page.byPath("/page1/feed")
	require.Len(t, feed, 1)
	assert.Equal(t, "Launch\n\nhello", feed[0].Form["message"])
	assert.Equal(t, "tok", feed[0].Form["access_token"])
}

func TestFacebookSinglePhoto(t *testing.T) {
	f, page, adapter := newFacebookFixture(t)
	img := pngBytes(t, 50, 50)
	f.put(t, "posts/a.png", img)
	post := newPost("Launch", "hello")
	post.Photos = []string{"posts/a.png"}

	res, err := adapter.Publish(context.Background(), post, fbCred)
	require.NoError(t, err)
	require.True(t, res.Success, res.Error())
	assert.Equal(t, "page1_1", res.ExternalID)

	photos := page.byPath("/page1/photos")
	require.Len(t, photos, 1)
	assert.Equal(t, "true", photos[0].Form["published"])
	assert.Equal(t, "Launch\n\nhello", photos[0].Form["caption"])
	assert.Equal(t, img, photos[0].Files["source"])
	assert.Empty(t, page.byPath("/page1/feed"))
}

func TestFacebookAlbum(t *testing.T) {
	f, page, adapter := newFacebookFixture(t)
	f.put(t, "posts/a.png", pngBytes(t, 50, 50))
	f.put(t, "posts/b.png", pngBytes(t, 60, 50))
	post := newPost("Launch", "hello")
	post.Photos = []string{"posts/a.png", "posts/b.png"}

	res, err := adapter.Publish(context.Background(), post, fbCred)
	require.NoError(t, err)
	require.True(t, res.Success, res.Error())
	assert.Equal(t, "page1_100", res.ExternalID)

	photos := page.byPath("/page1/photos")
	require.Len(t, photos, 2)
	for _, p := range photos {
		assert.Equal(t, "false", p.Form["published"])
	}

	feed := page.byPath("/page1/feed")
	require.Len(t, feed, 1)
	var attached []map[string]string
	require.NoError(t, json.Unmarshal([]byte(feed[0].Form["attached_media"]), &attached))
	assert.Equal(t, []map[string]string{{"media_fbid": "1"}, {"media_fbid": "2"}}, attached)
	assert.Equal(t, "Launch\n\nhello", feed[0].Form["message"])
}

func TestFacebookRejectsOversizedImage(t *testing.T) {
	f, page, adapter := newFacebookFixture(t)
	big := append(pngBytes(t, 10, 10), make([]byte, 4_000_001)...)
	f.put(t, "posts/big.png", big)
	post := newPost("Launch", "")
	post.Photos = []string{"posts/big.png"}

	res, err := adapter.Publish(context.Background(), post, fbCred)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, KindValidation, Kind(res.Err))
	assert.Empty(t, page.all())
}

func TestFacebookMissingMedia(t *testing.T) {
	_, _, adapter := newFacebookFixture(t)
	post := newPost("Launch", "")
	post.Photos = []string{"posts/nowhere.png"}

	res, err := adapter.Publish(context.Background(), post, fbCred)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error(), "not found")
}

func TestFacebookPing(t *testing.T) {
	_, page, adapter := newFacebookFixture(t)
	require.NoError(t, adapter.Ping(context.Background(), fbCred))
	assert.Equal(t, "id,name", page.byPath("/page1")[0].Form["fields"])

	assert.Equal(t, KindConfiguration, Kind(adapter.Ping(context.Background(), Credential{})))
}
