package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/content"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGraph mimics the Instagram content publishing endpoints for user ig1.
type fakeGraph struct {
	recorder
	containers  atomic.Int32
	videoStatus string
}

func (g *fakeGraph) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req := g.capture(r)
	switch {
	case r.Method == http.MethodPost && req.Path == "/ig1/media":
		if req.Form["media_type"] == "CAROUSEL" {
			fmt.Fprint(w, `{"id":"parent"}`)
			return
		}
		fmt.Fprintf(w, `{"id":"c%d"}`, g.containers.Add(1))
	case r.Method == http.MethodPost && req.Path == "/ig1/media_publish":
		fmt.Fprint(w, `{"id":"m1"}`)
	case r.Method == http.MethodGet && req.Path == "/m1":
		fmt.Fprint(w, `{"permalink":"https://www.instagram.com/p/abc/","id":"m1"}`)
	case r.Method == http.MethodGet && strings.HasPrefix(req.Path, "/c"):
		fmt.Fprintf(w, `{"status_code":%q}`, g.videoStatus)
	default:
		http.NotFound(w, r)
	}
}

func newInstagramFixture(t *testing.T) (*fixture, *fakeGraph, Adapter) {
	t.Helper()
	f := newFixture(t)
	graph := &fakeGraph{videoStatus: "FINISHED"}
	srv := httptest.NewServer(graph)
	t.Cleanup(srv.Close)
	adapter := NewInstagram(config.Instagram{
		GraphURL:     srv.URL,
		PollInterval: time.Millisecond,
		PollTimeout:  time.Second,
	}, testClient(), f.resolver)
	return f, graph, adapter
}

var igCred = Credential{AccessToken: "tok", AccountID: "ig1"}

func TestInstagramRequiresMedia(t *testing.T) {
	_, graph, adapter := newInstagramFixture(t)

	res, err := adapter.Publish(context.Background(), newPost("Launch", "hello"), igCred)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error(), "requires at least one image or video")
	assert.Equal(t, KindValidation, Kind(res.Err))
	assert.Empty(t, graph.all())
}

func TestInstagramMissingCredentials(t *testing.T) {
	_, _, adapter := newInstagramFixture(t)
	post := newPost("Launch", "hello")
	post.Photos = []string{"posts/a.png"}

	res, err := adapter.Publish(context.Background(), post, Credential{AccountID: "ig1"})
	assert.Nil(t, res)
	assert.Equal(t, KindConfiguration, Kind(err))
}

func TestInstagramSinglePhoto(t *testing.T) {
	f, graph, adapter := newInstagramFixture(t)
	f.put(t, "posts/a.png", pngBytes(t, 100, 100))
	post := newPost("Launch", "hello")
	post.Photos = []string{"/storage/posts/a.png"}

	res, err := adapter.Publish(context.Background(), post, igCred)
	require.NoError(t, err)
	require.True(t, res.Success, res.Error())
	assert.Equal(t, "m1", res.ExternalID)
	assert.Equal(t, "https://www.instagram.com/p/abc/", res.PlatformURL)

	containers := graph.byPath("/ig1/media")
	require.Len(t, containers, 1)
	assert.Equal(t, "Launch\n\nhello", containers[0].Form["caption"])
	assert.True(t, strings.HasPrefix(containers[0].Form["image_url"], "https://cdn.example.com/tmp/instagram/images/"))
	assert.Empty(t, containers[0].Form["is_carousel_item"])

	publish := graph.byPath("/ig1/media_publish")
	require.Len(t, publish, 1)
	assert.Equal(t, "c1", publish[0].Form["creation_id"])

	var response map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(res.ResponseData, &response))
	assert.Contains(t, response, "containers")
	assert.Contains(t, response, "publish")

	assert.Zero(t, f.tmpFiles(t), "temporary copies are released")
}

func TestInstagramCarousel(t *testing.T) {
	f, graph, adapter := newInstagramFixture(t)
	f.put(t, "posts/a.png", pngBytes(t, 100, 100))
	f.put(t, "posts/b.png", pngBytes(t, 120, 100))
	f.put(t, "posts/c.mp4", []byte("not really a video"))
	post := newPost("Launch", "hello")
	post.Photos = []string{"posts/a.png", "posts/b.png"}
	post.Videos = []string{"posts/c.mp4"}

	res, err := adapter.Publish(context.Background(), post, igCred)
	require.NoError(t, err)
	require.True(t, res.Success, res.Error())

	containers := graph.byPath("/ig1/media")
	require.Len(t, containers, 4)
	for _, child := range containers[:3] {
		assert.Equal(t, "true", child.Form["is_carousel_item"])
		assert.Empty(t, child.Form["caption"])
	}
	assert.NotEmpty(t, containers[0].Form["image_url"])
	assert.NotEmpty(t, containers[1].Form["image_url"])
	assert.Equal(t, "VIDEO", containers[2].Form["media_type"])
	assert.Contains(t, containers[2].Form["video_url"], "/tmp/instagram/carousel/")

	parent := containers[3]
	assert.Equal(t, "CAROUSEL", parent.Form["media_type"])
	assert.Equal(t, "c1,c2,c3", parent.Form["children"])
	assert.Equal(t, "Launch\n\nhello", parent.Form["caption"])

	assert.NotEmpty(t, graph.byPath("/c3"), "video child is polled")
	assert.Equal(t, "parent", graph.byPath("/ig1/media_publish")[0].Form["creation_id"])
	assert.Zero(t, f.tmpFiles(t))
}

func TestInstagramSingleVideoWaitsForProcessing(t *testing.T) {
	f, graph, adapter := newInstagramFixture(t)
	f.put(t, "posts/v.mp4", []byte("video"))
	post := newPost("", "clip")
	post.Videos = []string{"posts/v.mp4"}

	res, err := adapter.Publish(context.Background(), post, igCred)
	require.NoError(t, err)
	require.True(t, res.Success, res.Error())

	containers := graph.byPath("/ig1/media")
	require.Len(t, containers, 1)
	assert.Equal(t, "REELS", containers[0].Form["media_type"])
	assert.Equal(t, "status_code,status", graph.byPath("/c1")[0].Form["fields"])
}

func TestInstagramVideoProcessingError(t *testing.T) {
	f, graph, adapter := newInstagramFixture(t)
	graph.videoStatus = "ERROR"
	f.put(t, "posts/v.mp4", []byte("video"))
	post := newPost("", "clip")
	post.Videos = []string{"posts/v.mp4"}

	res, err := adapter.Publish(context.Background(), post, igCred)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error(), "failed")
	assert.Empty(t, graph.byPath("/ig1/media_publish"))
	assert.Zero(t, f.tmpFiles(t))
}

func TestInstagramVideoProcessingTimeout(t *testing.T) {
	f := newFixture(t)
	graph := &fakeGraph{videoStatus: "IN_PROGRESS"}
	srv := httptest.NewServer(graph)
	defer srv.Close()
	adapter := NewInstagram(config.Instagram{
		GraphURL:     srv.URL,
		PollInterval: 5 * time.Millisecond,
		PollTimeout:  50 * time.Millisecond,
	}, testClient(), f.resolver)
	f.put(t, "posts/v.mp4", []byte("video"))
	post := newPost("", "clip")
	post.Videos = []string{"posts/v.mp4"}

	res, err := adapter.Publish(context.Background(), post, igCred)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, KindTransient, Kind(res.Err))
	assert.Empty(t, graph.byPath("/ig1/media_publish"))
}

func TestInstagramCropsWideImage(t *testing.T) {
	f, graph, adapter := newInstagramFixture(t)
	f.put(t, "posts/wide.png", pngBytes(t, 400, 100))
	post := newPost("Wide", "")
	post.Photos = []string{"posts/wide.png"}

	res, err := adapter.Publish(context.Background(), post, igCred)
	require.NoError(t, err)
	require.True(t, res.Success, res.Error())
	assert.True(t, strings.HasSuffix(graph.byPath("/ig1/media")[0].Form["image_url"], "_wide.jpg"))
}

func TestInstagramRejectionKeepsBody(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"Media ID is not available","code":9007}}`)
	}))
	defer srv.Close()
	adapter := NewInstagram(config.Instagram{GraphURL: srv.URL}, testClient(), f.resolver)
	f.put(t, "posts/a.png", pngBytes(t, 100, 100))
	post := newPost("Launch", "")
	post.Photos = []string{"posts/a.png"}

	res, err := adapter.Publish(context.Background(), post, igCred)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, KindRejection, Kind(res.Err))
	assert.Contains(t, res.Error(), `"code":9007`)
}

func TestInstagramCaptionTruncation(t *testing.T) {
	long := newPost("", strings.Repeat("a", 3000))
	caption := InstagramCaption(long)
	assert.LessOrEqual(t, utf8.RuneCountInString(caption), InstagramCaptionLimit)
	assert.True(t, strings.HasSuffix(caption, "…"))

	short := newPost("", strings.Repeat("b", 2000))
	assert.Equal(t, strings.Repeat("b", 2000), InstagramCaption(short))
}

func TestInstagramCaptionSentTruncated(t *testing.T) {
	f, graph, adapter := newInstagramFixture(t)
	f.put(t, "posts/a.png", pngBytes(t, 100, 100))
	post := newPost("", "")
	post.Body = content.NewDocument(strings.Repeat("x", 3000))
	post.Photos = []string{"posts/a.png"}

	_, err := adapter.Publish(context.Background(), post, igCred)
	require.NoError(t, err)
	caption := graph.byPath("/ig1/media")[0].Form["caption"]
	assert.Equal(t, InstagramCaptionLimit, utf8.RuneCountInString(caption))
}
