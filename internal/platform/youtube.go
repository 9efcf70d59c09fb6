package platform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/content"
	"github.com/maheshrc27/crosspost/internal/media"
	"github.com/maheshrc27/crosspost/internal/models"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

const (
	YouTubeTitleLimit       = 100
	YouTubeDescriptionLimit = 5000

	DefaultYouTubeUploadTimeout = time.Hour
)

type youtubeAdapter struct {
	cfg      config.YouTube
	client   *Client
	upload   *http.Client
	resolver *media.Resolver
}

// NewYouTube uploads the post's first video through the YouTube Data API.
// Photos are ignored.
func NewYouTube(cfg config.YouTube, client *Client, resolver *media.Resolver) Adapter {
	if cfg.PrivacyStatus == "" {
		cfg.PrivacyStatus = "public"
	}
	if cfg.CategoryID == "" {
		cfg.CategoryID = "22"
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = DefaultYouTubeUploadTimeout
	}
	// Uploads carry the whole video in one request and outlive the shared
	// client's timeout.
	upload := &http.Client{Timeout: cfg.UploadTimeout, Transport: client.HTTPClient().Transport}
	return &youtubeAdapter{cfg: cfg, client: client, upload: upload, resolver: resolver}
}

func (y *youtubeAdapter) Platform() string { return YouTube }

func (y *youtubeAdapter) service(ctx context.Context, hc *http.Client, cred Credential) (*youtube.Service, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, hc)
	token := &oauth2.Token{AccessToken: cred.AccessToken, TokenType: "Bearer"}
	opts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(ctx, oauth2.StaticTokenSource(token)))}
	if y.cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(y.cfg.Endpoint))
	}
	return youtube.NewService(ctx, opts...)
}

// youtubeTitle uses the post title, falling back to the first line of the
// body.
func youtubeTitle(post *models.Post) string {
	title := strings.TrimSpace(post.Title)
	if title == "" {
		title, _, _ = strings.Cut(post.Body.PlainText(), "\n")
	}
	if title == "" {
		title = "Untitled"
	}
	// Angle brackets are rejected in titles.
	title = strings.NewReplacer("<", "", ">", "").Replace(title)
	return content.Truncate(title, YouTubeTitleLimit)
}

func (y *youtubeAdapter) Publish(ctx context.Context, post *models.Post, cred Credential) (*PublishResult, error) {
	if cred.AccessToken == "" {
		return nil, notConfigured(YouTube, "access token missing")
	}
	if len(post.Videos) == 0 {
		return failed(&media.ValidationError{Reason: "youtube requires a video"}, nil), nil
	}

	a, err := y.resolver.Load(ctx, post.Videos[0], media.KindVideo)
	if err != nil {
		return failed(err, nil), nil
	}
	if err := y.resolver.Validate(ctx, a, media.YouTubeConstraints); err != nil {
		return failed(err, nil), nil
	}

	svc, err := y.service(ctx, y.upload, cred)
	if err != nil {
		return nil, notConfigured(YouTube, "create client: %v", err)
	}

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       youtubeTitle(post),
			Description: content.Truncate(post.Body.PlainText(), YouTubeDescriptionLimit),
			CategoryId:  y.cfg.CategoryID,
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus: y.cfg.PrivacyStatus,
		},
	}

	response, err := svc.Videos.Insert([]string{"snippet", "status"}, video).
		Media(bytes.NewReader(a.Data)).
		Context(ctx).
		Do()
	if err != nil {
		return failed(classifyGoogle(err), nil), nil
	}
	slog.Info("video uploaded", "platform", YouTube, "video_id", response.Id)

	body, _ := response.MarshalJSON()
	return succeeded(response.Id, "https://youtu.be/"+response.Id, body), nil
}

// classifyGoogle maps API client errors onto the platform error kinds.
func classifyGoogle(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code >= http.StatusInternalServerError {
			return &TransientError{Status: gerr.Code, Err: err}
		}
		body := gerr.Body
		if body == "" {
			body = gerr.Message
		}
		return &RejectionError{Status: gerr.Code, Body: body}
	}
	return &TransientError{Err: err}
}

func (y *youtubeAdapter) Ping(ctx context.Context, cred Credential) error {
	if cred.AccessToken == "" {
		return notConfigured(YouTube, "access token missing")
	}
	svc, err := y.service(ctx, y.client.HTTPClient(), cred)
	if err != nil {
		return err
	}
	res, err := svc.Channels.List([]string{"id"}).Mine(true).Context(ctx).Do()
	if err != nil {
		return classifyGoogle(err)
	}
	if len(res.Items) == 0 {
		return fmt.Errorf("no youtube channel for this account")
	}
	return nil
}
