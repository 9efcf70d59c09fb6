package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/url"
	"strconv"
	"strings"

	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/content"
	"github.com/maheshrc27/crosspost/internal/media"
	"github.com/maheshrc27/crosspost/internal/models"
)

const (
	TelegramTextLimit    = 4096
	TelegramCaptionLimit = 1024
	// TelegramGroupSize is the most items sendMediaGroup accepts.
	TelegramGroupSize = 10
)

type telegramAdapter struct {
	apiURL   string
	client   *Client
	resolver *media.Resolver
}

// NewTelegram posts to a chat or channel through the Bot API. The
// credential's access token is the bot token and AccountID the chat id.
func NewTelegram(cfg config.Telegram, client *Client, resolver *media.Resolver) Adapter {
	return &telegramAdapter{
		apiURL:   strings.TrimRight(cfg.APIURL, "/"),
		client:   client,
		resolver: resolver,
	}
}

func (t *telegramAdapter) Platform() string { return Telegram }

type telegramChat struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type telegramMessage struct {
	MessageID int64        `json:"message_id"`
	Chat      telegramChat `json:"chat"`
}

type telegramResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

func (t *telegramAdapter) method(cred Credential, name string) string {
	return fmt.Sprintf("%s/bot%s/%s", t.apiURL, cred.AccessToken, name)
}

func (t *telegramAdapter) Publish(ctx context.Context, post *models.Post, cred Credential) (*PublishResult, error) {
	if cred.AccessToken == "" || cred.AccountID == "" {
		return nil, notConfigured(Telegram, "bot token or chat id missing")
	}

	assets, err := t.resolver.LoadAll(ctx, post.Photos, post.Videos)
	if err != nil {
		return failed(err, nil), nil
	}
	for _, a := range assets {
		if err := t.resolver.Validate(ctx, a, media.TelegramConstraints); err != nil {
			return failed(err, nil), nil
		}
	}

	text := post.Text()
	switch len(assets) {
	case 0:
		return t.sendMessage(ctx, cred, text), nil
	case 1:
		return t.sendSingle(ctx, cred, assets[0], text), nil
	}
	return t.sendGroups(ctx, cred, assets, text), nil
}

// escape truncates to limit before HTML escaping; Telegram counts the
// parsed text.
func escape(s string, limit int) string {
	return html.EscapeString(content.Truncate(s, limit))
}

func (t *telegramAdapter) sendMessage(ctx context.Context, cred Credential, text string) *PublishResult {
	form := url.Values{}
	form.Set("chat_id", cred.AccountID)
	form.Set("text", escape(text, TelegramTextLimit))
	form.Set("parse_mode", "HTML")

	body, err := t.client.PostForm(ctx, t.method(cred, "sendMessage"), form)
	msgs, err := parseTelegram(body, err)
	if err != nil {
		return failed(err, body)
	}
	return t.result(cred, msgs, body)
}

func (t *telegramAdapter) sendSingle(ctx context.Context, cred Credential, a *media.Asset, text string) *PublishResult {
	methodName, field := "sendPhoto", "photo"
	if a.IsVideo() {
		methodName, field = "sendVideo", "video"
	}
	fields := map[string]string{
		"chat_id":    cred.AccountID,
		"parse_mode": "HTML",
	}
	if text != "" {
		fields["caption"] = escape(text, TelegramCaptionLimit)
	}
	if a.IsVideo() {
		fields["supports_streaming"] = "true"
	}

	var (
		body []byte
		err  error
	)
	if a.Remote {
		form := url.Values{}
		for k, v := range fields {
			form.Set(k, v)
		}
		form.Set(field, a.Ref)
		body, err = t.client.PostForm(ctx, t.method(cred, methodName), form)
	} else {
		body, err = t.client.PostMultipart(ctx, t.method(cred, methodName), fields,
			[]File{{Field: field, Name: a.Name, Data: a.Data}})
	}
	msgs, err := parseTelegram(body, err)
	if err != nil {
		return failed(err, body)
	}
	return t.result(cred, msgs, body)
}

type inputMedia struct {
	Type      string `json:"type"`
	Media     string `json:"media"`
	Caption   string `json:"caption,omitempty"`
	ParseMode string `json:"parse_mode,omitempty"`
}

// sendGroups sends the assets as media groups of up to TelegramGroupSize.
// Only the first item of the first group carries the caption. A trailing
// group of one item is sent on its own since groups need two.
func (t *telegramAdapter) sendGroups(ctx context.Context, cred Credential, assets []*media.Asset, text string) *PublishResult {
	var (
		messages  []telegramMessage
		responses []json.RawMessage
	)
	for start := 0; start < len(assets); start += TelegramGroupSize {
		end := min(start+TelegramGroupSize, len(assets))
		batch := assets[start:end]
		caption := ""
		if start == 0 {
			caption = text
		}

		if len(batch) == 1 {
			res := t.sendSingle(ctx, cred, batch[0], caption)
			responses = append(responses, res.ResponseData)
			if !res.Success {
				return failed(res.Err, map[string]any{"batches": responses})
			}
			continue
		}

		body, err := t.sendGroup(ctx, cred, batch, caption)
		responses = append(responses, encodeResponse(body))
		msgs, err := parseTelegram(body, err)
		if err != nil {
			return failed(fmt.Errorf("media group %d: %w", start/TelegramGroupSize+1, err), map[string]any{"batches": responses})
		}
		messages = append(messages, msgs...)
	}

	return t.result(cred, messages, map[string]any{"batches": responses})
}

func (t *telegramAdapter) sendGroup(ctx context.Context, cred Credential, batch []*media.Asset, caption string) ([]byte, error) {
	items := make([]inputMedia, 0, len(batch))
	var files []File
	for i, a := range batch {
		item := inputMedia{Type: "photo"}
		if a.IsVideo() {
			item.Type = "video"
		}
		if a.Remote {
			item.Media = a.Ref
		} else {
			name := "file" + strconv.Itoa(i)
			item.Media = "attach://" + name
			files = append(files, File{Field: name, Name: a.Name, Data: a.Data})
		}
		if i == 0 && caption != "" {
			item.Caption = escape(caption, TelegramCaptionLimit)
			item.ParseMode = "HTML"
		}
		items = append(items, item)
	}
	mediaJSON, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	fields := map[string]string{
		"chat_id": cred.AccountID,
		"media":   string(mediaJSON),
	}
	return t.client.PostMultipart(ctx, t.method(cred, "sendMediaGroup"), fields, files)
}

// parseTelegram unwraps the Bot API envelope. result is a message or, for
// media groups, a list of messages.
func parseTelegram(body []byte, err error) ([]telegramMessage, error) {
	if err != nil {
		return nil, err
	}
	var env telegramResponse
	if err := decode(body, &env); err != nil {
		return nil, err
	}
	if !env.OK {
		return nil, &RejectionError{Status: 200, Body: string(body)}
	}
	if strings.HasPrefix(strings.TrimSpace(string(env.Result)), "[") {
		var msgs []telegramMessage
		if err := decode(env.Result, &msgs); err != nil {
			return nil, err
		}
		return msgs, nil
	}
	var msg telegramMessage
	if err := decode(env.Result, &msg); err != nil {
		return nil, err
	}
	return []telegramMessage{msg}, nil
}

func (t *telegramAdapter) result(cred Credential, msgs []telegramMessage, response any) *PublishResult {
	if len(msgs) == 0 {
		return failed(fmt.Errorf("telegram returned no message"), response)
	}
	first := msgs[0]
	id := strconv.FormatInt(first.MessageID, 10)
	return succeeded(id, TelegramMessageURL(cred, first.Chat.Username, first.MessageID), response)
}

// TelegramMessageURL builds the public link of a message. Public channels
// use t.me/<username>/<id>; private supergroups use t.me/c/<id>/<id>.
func TelegramMessageURL(cred Credential, chatUsername string, messageID int64) string {
	username := chatUsername
	if username == "" {
		username = strings.TrimPrefix(cred.AccountUsername, "@")
	}
	if username == "" && strings.HasPrefix(cred.AccountID, "@") {
		username = strings.TrimPrefix(cred.AccountID, "@")
	}
	if username != "" {
		return fmt.Sprintf("https://t.me/%s/%d", username, messageID)
	}
	if internal, ok := strings.CutPrefix(cred.AccountID, "-100"); ok && internal != "" {
		return fmt.Sprintf("https://t.me/c/%s/%d", internal, messageID)
	}
	return ""
}

func (t *telegramAdapter) Ping(ctx context.Context, cred Credential) error {
	if cred.AccessToken == "" {
		return notConfigured(Telegram, "bot token missing")
	}
	body, err := t.client.Get(ctx, t.method(cred, "getMe"), nil)
	_, err = parseTelegram(body, err)
	return err
}
