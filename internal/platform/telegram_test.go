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
	"unicode/utf8"

	config "github.com/maheshrc27/crosspost/configs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBot struct {
	recorder
	messages atomic.Int64
}

func (b *fakeBot) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req := b.capture(r)
	method := req.Path[strings.LastIndex(req.Path, "/")+1:]
	chat := `{"id":-1001234,"username":"news"}`
	switch method {
	case "sendMessage", "sendPhoto", "sendVideo":
		fmt.Fprintf(w, `{"ok":true,"result":{"message_id":%d,"chat":%s}}`, b.messages.Add(1), chat)
	case "sendMediaGroup":
		var items []inputMedia
		_ = json.Unmarshal([]byte(req.Form["media"]), &items)
		parts := make([]string, len(items))
		for i := range items {
			parts[i] = fmt.Sprintf(`{"message_id":%d,"chat":%s}`, b.messages.Add(1), chat)
		}
		fmt.Fprintf(w, `{"ok":true,"result":[%s]}`, strings.Join(parts, ","))
	case "getMe":
		fmt.Fprint(w, `{"ok":true,"result":{"id":1,"is_bot":true}}`)
	default:
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`)
	}
}

func newTelegramFixture(t *testing.T) (*fixture, *fakeBot, Adapter) {
	t.Helper()
	f := newFixture(t)
	bot := &fakeBot{}
	srv := httptest.NewServer(bot)
	t.Cleanup(srv.Close)
	return f, bot, NewTelegram(config.Telegram{APIURL: srv.URL}, testClient(), f.resolver)
}

var tgCred = Credential{AccessToken: "123:abc", AccountID: "@news"}

func TestTelegramTextMessage(t *testing.T) {
	_, bot, adapter := newTelegramFixture(t)

	res, err := adapter.Publish(context.Background(), newPost("Launch <1>", "a & b"), tgCred)
	require.NoError(t, err)
	require.True(t, res.Success, res.Error())
	assert.Equal(t, "1", res.ExternalID)
	assert.Equal(t, "https://t.me/news/1", res.PlatformURL)

	sent := bot.byPath("/bot123:abc/sendMessage")
	require.Len(t, sent, 1)
	assert.Equal(t, "Launch &lt;1&gt;\n\na &amp; b", sent[0].Form["text"])
	assert.Equal(t, "HTML", sent[0].Form["parse_mode"])
	assert.Equal(t, "@news", sent[0].Form["chat_id"])
}

func TestTelegramLongTextIsCut(t *testing.T) {
	_, bot, adapter := newTelegramFixture(t)

	_, err := adapter.Publish(context.Background(), newPost("", strings.Repeat("z", 5000)), tgCred)
	require.NoError(t, err)
	text := bot.byPath("/bot123:abc/sendMessage")[0].Form["text"]
	assert.Equal(t, TelegramTextLimit, utf8.RuneCountInString(text))
}

func TestTelegramSinglePhotoUpload(t *testing.T) {
	f, bot, adapter := newTelegramFixture(t)
	img := pngBytes(t, 20, 20)
	f.put(t, "posts/a.png", img)
	post := newPost("Launch", strings.Repeat("c", 2000))
	post.Photos = []string{"posts/a.png"}

	res, err := adapter.Publish(context.Background(), post, tgCred)
	require.NoError(t, err)
	require.True(t, res.Success, res.Error())

	sent := bot.byPath("/bot123:abc/sendPhoto")
	require.Len(t, sent, 1)
	assert.Equal(t, img, sent[0].Files["photo"])
	assert.Equal(t, TelegramCaptionLimit, utf8.RuneCountInString(sent[0].Form["caption"]))
}

func TestTelegramMediaGroupBatches(t *testing.T) {
	f, bot, adapter := newTelegramFixture(t)
	var photos []string
	for i := 0; i < 12; i++ {
		key := fmt.Sprintf("posts/%d.png", i)
		f.put(t, key, pngBytes(t, 10, 10))
		photos = append(photos, key)
	}
	post := newPost("Launch", "hello")
	post.Photos = photos

	res, err := adapter.Publish(context.Background(), post, tgCred)
	require.NoError(t, err)
	require.True(t, res.Success, res.Error())
	assert.Equal(t, "1", res.ExternalID)

	groups := bot.byPath("/bot123:abc/sendMediaGroup")
	require.Len(t, groups, 2)

	var first, second []inputMedia
	require.NoError(t, json.Unmarshal([]byte(groups[0].Form["media"]), &first))
	require.NoError(t, json.Unmarshal([]byte(groups[1].Form["media"]), &second))
	require.Len(t, first, 10)
	require.Len(t, second, 2)

	assert.Equal(t, "Launch\n\nhello", first[0].Caption)
	for _, item := range append(first[1:], second...) {
		assert.Empty(t, item.Caption)
	}
	assert.Equal(t, "attach://file0", first[0].Media)
	assert.Len(t, groups[0].Files, 10)
}

func TestTelegramTrailingSingleItem(t *testing.T) {
	f, bot, adapter := newTelegramFixture(t)
	var photos []string
	for i := 0; i < 11; i++ {
		key := fmt.Sprintf("posts/%d.png", i)
		f.put(t, key, pngBytes(t, 10, 10))
		photos = append(photos, key)
	}
	post := newPost("Launch", "")
	post.Photos = photos

	res, err := adapter.Publish(context.Background(), post, tgCred)
	require.NoError(t, err)
	require.True(t, res.Success, res.Error())
	assert.Len(t, bot.byPath("/bot123:abc/sendMediaGroup"), 1)
	single := bot.byPath("/bot123:abc/sendPhoto")
	require.Len(t, single, 1)
	assert.Empty(t, single[0].Form["caption"])
}

func TestTelegramRejection(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`)
	}))
	defer srv.Close()
	adapter := NewTelegram(config.Telegram{APIURL: srv.URL}, testClient(), f.resolver)

	res, err := adapter.Publish(context.Background(), newPost("Launch", ""), tgCred)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, KindRejection, Kind(res.Err))
	assert.Contains(t, res.Error(), "chat not found")
}

func TestTelegramMessageURL(t *testing.T) {
	assert.Equal(t, "https://t.me/news/5", TelegramMessageURL(Credential{AccountID: "@news"}, "", 5))
	assert.Equal(t, "https://t.me/c/1234/5", TelegramMessageURL(Credential{AccountID: "-1001234"}, "", 5))
	assert.Equal(t, "https://t.me/chan/5", TelegramMessageURL(Credential{AccountID: "-1001234"}, "chan", 5))
	assert.Equal(t, "", TelegramMessageURL(Credential{AccountID: "42"}, "", 5))
}

func TestTelegramPing(t *testing.T) {
	_, _, adapter := newTelegramFixture(t)
	require.NoError(t, adapter.Ping(context.Background(), tgCred))
	assert.Equal(t, KindConfiguration, Kind(adapter.Ping(context.Background(), Credential{})))
}
