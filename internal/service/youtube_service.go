package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/platform"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/youtube/v3"
)

const googleRevokeURL = "https://oauth2.googleapis.com/revoke"

type youtubeRefresher struct {
	conf *oauth2.Config
}

func NewYouTubeRefresher(cfg config.YouTube) TokenRefresher {
	return &youtubeRefresher{conf: &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       []string{youtube.YoutubeUploadScope},
		Endpoint:     google.Endpoint,
	}}
}

func (r *youtubeRefresher) Platform() string { return platform.YouTube }

func (r *youtubeRefresher) Refresh(ctx context.Context, accessToken, refreshToken string) (*RefreshedToken, error) {
	if refreshToken == "" {
		return nil, errors.New("youtube account has no refresh token")
	}
	if r.conf.ClientID == "" || r.conf.ClientSecret == "" {
		return nil, errors.New("OAuth2 configuration is incomplete")
	}

	tokenSource := r.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := tokenSource.Token()
	if err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("refresh youtube token: %w", err)
	}

	out := &RefreshedToken{AccessToken: token.AccessToken}
	// Google only sends a refresh token when it rotated it.
	if token.RefreshToken != refreshToken {
		out.RefreshToken = token.RefreshToken
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		out.ExpiresAt = &expiry
	}
	return out, nil
}

// RevokeGoogleAccess invalidates a Google token so a disconnected account
// stops working immediately.
func RevokeGoogleAccess(ctx context.Context, client *http.Client, endpoint, token string) error {
	if endpoint == "" {
		endpoint = googleRevokeURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	payload := url.Values{"token": {token}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to revoke token, status code: %d", resp.StatusCode)
	}
	return nil
}
