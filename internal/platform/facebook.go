package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/media"
	"github.com/maheshrc27/crosspost/internal/models"
)

type facebookAdapter struct {
	graphURL string
	client   *Client
	resolver *media.Resolver
}

// NewFacebook publishes to a Facebook page through the Graph API.
func NewFacebook(cfg config.Facebook, client *Client, resolver *media.Resolver) Adapter {
	return &facebookAdapter{
		graphURL: strings.TrimRight(cfg.GraphURL, "/"),
		client:   client,
		resolver: resolver,
	}
}

func (f *facebookAdapter) Platform() string { return Facebook }

type graphID struct {
	ID     string `json:"id"`
	PostID string `json:"post_id"`
}

// externalID prefers the feed post id returned by photo uploads.
func (g graphID) externalID() string {
	if g.PostID != "" {
		return g.PostID
	}
	return g.ID
}

func facebookURL(id string) string {
	if id == "" {
		return ""
	}
	return "https://www.facebook.com/" + id
}

func (f *facebookAdapter) Publish(ctx context.Context, post *models.Post, cred Credential) (*PublishResult, error) {
	if cred.AccountID == "" || cred.AccessToken == "" {
		return nil, notConfigured(Facebook, "page id or access token missing")
	}
	message := post.Text()

	assets, err := f.resolver.LoadAll(ctx, post.Photos, post.Videos)
	if err != nil {
		return failed(err, nil), nil
	}
	for _, a := range assets {
		if err := f.resolver.Validate(ctx, a, media.FacebookConstraints); err != nil {
			return failed(err, nil), nil
		}
	}

	switch len(assets) {
	case 0:
		return f.publishText(ctx, cred, message), nil
	case 1:
		return f.publishSingle(ctx, cred, assets[0], message), nil
	}
	return f.publishAlbum(ctx, cred, assets, message), nil
}

func (f *facebookAdapter) publishText(ctx context.Context, cred Credential, message string) *PublishResult {
	form := url.Values{}
	form.Set("message", message)
	form.Set("access_token", cred.AccessToken)

	body, err := f.client.PostForm(ctx, fmt.Sprintf("%s/%s/feed", f.graphURL, cred.AccountID), form)
	if err != nil {
		return failed(err, body)
	}
	var res graphID
	if err := decode(body, &res); err != nil {
		return failed(err, body)
	}
	return succeeded(res.ID, facebookURL(res.ID), body)
}

// upload sends one file to the page's photos or videos edge.
func (f *facebookAdapter) upload(ctx context.Context, cred Credential, a *media.Asset, message string, published bool) (graphID, []byte, error) {
	edge, textField := "photos", "caption"
	if a.IsVideo() {
		edge, textField = "videos", "description"
	}
	fields := map[string]string{
		"access_token": cred.AccessToken,
		"published":    fmt.Sprint(published),
	}
	if message != "" {
		fields[textField] = message
	}

	endpoint := fmt.Sprintf("%s/%s/%s", f.graphURL, cred.AccountID, edge)
	var (
		body []byte
		err  error
	)
	if a.Remote {
		form := url.Values{}
		for k, v := range fields {
			form.Set(k, v)
		}
		if a.IsVideo() {
			form.Set("file_url", a.Ref)
		} else {
			form.Set("url", a.Ref)
		}
		body, err = f.client.PostForm(ctx, endpoint, form)
	} else {
		body, err = f.client.PostMultipart(ctx, endpoint, fields, []File{{Field: "source", Name: a.Name, Data: a.Data}})
	}
	if err != nil {
		return graphID{}, body, err
	}

	var res graphID
	if err := decode(body, &res); err != nil {
		return graphID{}, body, err
	}
	if res.ID == "" {
		return graphID{}, body, fmt.Errorf("facebook returned no id for %s", a.Ref)
	}
	return res, body, nil
}

func (f *facebookAdapter) publishSingle(ctx context.Context, cred Credential, a *media.Asset, message string) *PublishResult {
	res, body, err := f.upload(ctx, cred, a, message, true)
	if err != nil {
		return failed(err, body)
	}
	id := res.externalID()
	return succeeded(id, facebookURL(id), body)
}

// publishAlbum uploads every item unpublished and then attaches them all
// to a single feed post.
func (f *facebookAdapter) publishAlbum(ctx context.Context, cred Credential, assets []*media.Asset, message string) *PublishResult {
	type attached struct {
		MediaFBID string `json:"media_fbid"`
	}
	ids := make([]attached, 0, len(assets))
	uploads := make([]json.RawMessage, 0, len(assets))
	for _, a := range assets {
		res, body, err := f.upload(ctx, cred, a, "", false)
		if err != nil {
			return failed(fmt.Errorf("upload %s: %w", a.Ref, err), map[string]any{"uploads": uploads, "error": encodeResponse(body)})
		}
		slog.Debug("facebook album item uploaded", "ref", a.Ref, "media_id", res.ID)
		ids = append(ids, attached{MediaFBID: res.ID})
		uploads = append(uploads, encodeResponse(body))
	}

	attachedMedia, err := json.Marshal(ids)
	if err != nil {
		return failed(err, nil)
	}
	form := url.Values{}
	form.Set("message", message)
	form.Set("attached_media", string(attachedMedia))
	form.Set("access_token", cred.AccessToken)

	body, err := f.client.PostForm(ctx, fmt.Sprintf("%s/%s/feed", f.graphURL, cred.AccountID), form)
	response := map[string]any{"uploads": uploads, "post": encodeResponse(body)}
	if err != nil {
		return failed(err, response)
	}
	var res graphID
	if err := decode(body, &res); err != nil {
		return failed(err, response)
	}
	return succeeded(res.ID, facebookURL(res.ID), response)
}

func (f *facebookAdapter) Ping(ctx context.Context, cred Credential) error {
	if cred.AccountID == "" || cred.AccessToken == "" {
		return notConfigured(Facebook, "page id or access token missing")
	}
	query := url.Values{}
	query.Set("fields", "id,name")
	query.Set("access_token", cred.AccessToken)
	body, err := f.client.Get(ctx, fmt.Sprintf("%s/%s", f.graphURL, cred.AccountID), query)
	if err != nil {
		return err
	}
	var res graphID
	return decode(body, &res)
}
