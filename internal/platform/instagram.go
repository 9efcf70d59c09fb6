package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/content"
	"github.com/maheshrc27/crosspost/internal/media"
	"github.com/maheshrc27/crosspost/internal/models"
)

const InstagramCaptionLimit = 2200

// Temporary copy prefixes below the storage tmp prefix.
const (
	instagramImagesPrefix   = "instagram/images"
	instagramVideosPrefix   = "instagram/videos"
	instagramCarouselPrefix = "instagram/carousel"
)

type instagramAdapter struct {
	graphURL     string
	pollInterval time.Duration
	pollTimeout  time.Duration
	client       *Client
	resolver     *media.Resolver
}

// NewInstagram publishes to an Instagram business account. Instagram
// fetches media by URL, so every local file is copied to a temporary
// public location first and released once the attempt ends.
func NewInstagram(cfg config.Instagram, client *Client, resolver *media.Resolver) Adapter {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &instagramAdapter{
		graphURL:     strings.TrimRight(cfg.GraphURL, "/"),
		pollInterval: interval,
		pollTimeout:  timeout,
		client:       client,
		resolver:     resolver,
	}
}

func (ig *instagramAdapter) Platform() string { return Instagram }

// InstagramCaption is the post text cut to the caption limit.
func InstagramCaption(post *models.Post) string {
	return content.Truncate(post.Text(), InstagramCaptionLimit)
}

// attempt carries the state of one publish call.
type attempt struct {
	cred     Credential
	caption  string
	copies   []*media.Materialized
	response map[string]any
}

func (ig *instagramAdapter) Publish(ctx context.Context, post *models.Post, cred Credential) (*PublishResult, error) {
	if cred.AccountID == "" || cred.AccessToken == "" {
		return nil, notConfigured(Instagram, "business account id or access token missing")
	}
	if post.MediaCount() == 0 {
		return failed(&media.ValidationError{Reason: "instagram requires at least one image or video"}, nil), nil
	}

	assets, err := ig.resolver.LoadAll(ctx, post.Photos, post.Videos)
	if err != nil {
		return failed(err, nil), nil
	}

	at := &attempt{cred: cred, caption: InstagramCaption(post), response: map[string]any{}}
	defer func() {
		// The platform has fetched everything once the call returns.
		ig.resolver.Release(context.WithoutCancel(ctx), at.copies...)
	}()

	var creationID string
	if len(assets) == 1 {
		prefix := instagramImagesPrefix
		if assets[0].IsVideo() {
			prefix = instagramVideosPrefix
		}
		creationID, err = ig.container(ctx, at, assets[0], prefix, false)
	} else {
		creationID, err = ig.carousel(ctx, at, assets)
	}
	if err != nil {
		return failed(err, at.response), nil
	}

	id, err := ig.publishContainer(ctx, at, creationID)
	if err != nil {
		return failed(err, at.response), nil
	}
	return succeeded(id, ig.permalink(ctx, cred, id), at.response), nil
}

// prepare validates the asset and returns a URL Instagram can fetch.
func (ig *instagramAdapter) prepare(ctx context.Context, at *attempt, a *media.Asset, prefix string) (string, error) {
	c := media.InstagramConstraints
	if err := ig.resolver.Validate(ctx, a, c); err != nil {
		return "", err
	}
	if !a.IsVideo() {
		fitted, changed, err := media.FitAspect(a, c.MinAspect, c.MaxAspect, c.MaxImageBytes)
		if err != nil {
			return "", err
		}
		if changed {
			slog.Info("instagram image cropped to allowed aspect ratio", "ref", a.Ref,
				"width", fitted.Width, "height", fitted.Height)
			a = fitted
		}
		if a.Remote && !changed {
			return a.Ref, nil
		}
	} else if a.Remote {
		return a.Ref, nil
	}

	tmp, err := ig.resolver.MaterializePublicURL(ctx, a, prefix)
	if err != nil {
		return "", err
	}
	at.copies = append(at.copies, tmp)
	return tmp.URL, nil
}

// container creates one media container and waits for videos to finish
// processing.
func (ig *instagramAdapter) container(ctx context.Context, at *attempt, a *media.Asset, prefix string, carouselItem bool) (string, error) {
	mediaURL, err := ig.prepare(ctx, at, a, prefix)
	if err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("access_token", at.cred.AccessToken)
	if a.IsVideo() {
		form.Set("video_url", mediaURL)
		if carouselItem {
			form.Set("media_type", "VIDEO")
		} else {
			form.Set("media_type", "REELS")
		}
	} else {
		form.Set("image_url", mediaURL)
	}
	if carouselItem {
		form.Set("is_carousel_item", "true")
	} else if at.caption != "" {
		form.Set("caption", at.caption)
	}

	body, err := ig.client.PostForm(ctx, fmt.Sprintf("%s/%s/media", ig.graphURL, at.cred.AccountID), form)
	at.record("containers", body)
	if err != nil {
		return "", fmt.Errorf("create container for %s: %w", a.Ref, err)
	}
	var res graphID
	if err := decode(body, &res); err != nil {
		return "", err
	}
	if res.ID == "" {
		return "", fmt.Errorf("instagram returned no container id for %s", a.Ref)
	}

	if a.IsVideo() {
		if err := ig.waitUntilFinished(ctx, at.cred, res.ID); err != nil {
			return "", err
		}
	}
	return res.ID, nil
}

// carousel creates the children, photos first, then the parent container.
func (ig *instagramAdapter) carousel(ctx context.Context, at *attempt, assets []*media.Asset) (string, error) {
	children := make([]string, 0, len(assets))
	for _, a := range assets {
		id, err := ig.container(ctx, at, a, instagramCarouselPrefix, true)
		if err != nil {
			return "", err
		}
		children = append(children, id)
	}

	form := url.Values{}
	form.Set("media_type", "CAROUSEL")
	form.Set("children", strings.Join(children, ","))
	form.Set("access_token", at.cred.AccessToken)
	if at.caption != "" {
		form.Set("caption", at.caption)
	}

	body, err := ig.client.PostForm(ctx, fmt.Sprintf("%s/%s/media", ig.graphURL, at.cred.AccountID), form)
	at.record("carousel", body)
	if err != nil {
		return "", fmt.Errorf("create carousel container: %w", err)
	}
	var res graphID
	if err := decode(body, &res); err != nil {
		return "", err
	}
	if res.ID == "" {
		return "", fmt.Errorf("instagram returned no carousel container id")
	}
	return res.ID, nil
}

func (ig *instagramAdapter) publishContainer(ctx context.Context, at *attempt, creationID string) (string, error) {
	form := url.Values{}
	form.Set("creation_id", creationID)
	form.Set("access_token", at.cred.AccessToken)

	body, err := ig.client.PostForm(ctx, fmt.Sprintf("%s/%s/media_publish", ig.graphURL, at.cred.AccountID), form)
	at.record("publish", body)
	if err != nil {
		return "", fmt.Errorf("publish container %s: %w", creationID, err)
	}
	var res graphID
	if err := decode(body, &res); err != nil {
		return "", err
	}
	if res.ID == "" {
		return "", fmt.Errorf("instagram returned no media id")
	}
	return res.ID, nil
}

type containerStatus struct {
	StatusCode string `json:"status_code"`
	Status     string `json:"status"`
}

// waitUntilFinished polls the container until a terminal state or the poll
// timeout.
func (ig *instagramAdapter) waitUntilFinished(ctx context.Context, cred Credential, containerID string) error {
	ctx, cancel := context.WithTimeout(ctx, ig.pollTimeout)
	defer cancel()

	ticker := time.NewTicker(ig.pollInterval)
	defer ticker.Stop()

	query := url.Values{}
	query.Set("fields", "status_code,status")
	query.Set("access_token", cred.AccessToken)
	endpoint := fmt.Sprintf("%s/%s", ig.graphURL, containerID)

	for {
		body, err := ig.client.Get(ctx, endpoint, query)
		if err == nil {
			var st containerStatus
			if err := decode(body, &st); err != nil {
				return err
			}
			switch strings.ToUpper(st.StatusCode) {
			case "FINISHED", "PUBLISHED":
				return nil
			case "ERROR", "EXPIRED":
				return fmt.Errorf("instagram video container %s failed: %s", containerID, body)
			}
		} else if Kind(err) == KindRejection {
			return err
		}

		select {
		case <-ctx.Done():
			return &TransientError{Err: fmt.Errorf("instagram video container %s not ready after %s", containerID, ig.pollTimeout)}
		case <-ticker.C:
		}
	}
}

// permalink looks up the public URL of a published media. Failures only
// cost the URL.
func (ig *instagramAdapter) permalink(ctx context.Context, cred Credential, mediaID string) string {
	query := url.Values{}
	query.Set("fields", "permalink")
	query.Set("access_token", cred.AccessToken)
	body, err := ig.client.Get(ctx, fmt.Sprintf("%s/%s", ig.graphURL, mediaID), query)
	if err != nil {
		slog.Warn("instagram permalink lookup failed", "media_id", mediaID, "error", err)
		return ""
	}
	var res struct {
		Permalink string `json:"permalink"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return ""
	}
	return res.Permalink
}

func (ig *instagramAdapter) Ping(ctx context.Context, cred Credential) error {
	if cred.AccountID == "" || cred.AccessToken == "" {
		return notConfigured(Instagram, "business account id or access token missing")
	}
	query := url.Values{}
	query.Set("fields", "id,username")
	query.Set("access_token", cred.AccessToken)
	body, err := ig.client.Get(ctx, fmt.Sprintf("%s/%s", ig.graphURL, cred.AccountID), query)
	if err != nil {
		return err
	}
	var res graphID
	return decode(body, &res)
}

// record appends a raw response under key, keeping the last value for
// single step keys.
func (at *attempt) record(key string, body []byte) {
	if len(body) == 0 {
		return
	}
	raw := encodeResponse(body)
	if key == "containers" {
		list, _ := at.response[key].([]json.RawMessage)
		at.response[key] = append(list, raw)
		return
	}
	at.response[key] = raw
}
