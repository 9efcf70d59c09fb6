package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/maheshrc27/crosspost/internal/platform"
	"github.com/maheshrc27/crosspost/internal/transfer"
)

const instagramRefreshURL = "https://graph.instagram.com/refresh_access_token"

// instagramRefresher extends long-lived Instagram tokens. The long-lived
// token doubles as its own refresh token.
type instagramRefresher struct {
	endpoint string
	client   *http.Client
}

func NewInstagramRefresher(client *http.Client) TokenRefresher {
	if client == nil {
		client = http.DefaultClient
	}
	return &instagramRefresher{endpoint: instagramRefreshURL, client: client}
}

func (r *instagramRefresher) Platform() string { return platform.Instagram }

func (r *instagramRefresher) Refresh(ctx context.Context, accessToken, refreshToken string) (*RefreshedToken, error) {
	token := refreshToken
	if token == "" {
		token = accessToken
	}
	if token == "" {
		return nil, errors.New("instagram account has no token to refresh")
	}

	q := url.Values{}
	q.Set("grant_type", "ig_refresh_token")
	q.Set("access_token", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("refresh instagram token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		var graphErr transfer.GraphErrorResponse
		if json.Unmarshal(body, &graphErr) == nil && graphErr.Error.Message != "" {
			return nil, fmt.Errorf("refresh instagram token: %s (code %d)", graphErr.Error.Message, graphErr.Error.Code)
		}
		return nil, fmt.Errorf("refresh instagram token: status %d: %s", resp.StatusCode, body)
	}

	var result transfer.InstagramRefreshedToken
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode instagram token: %w", err)
	}
	if result.AccessToken == "" {
		return nil, errors.New("instagram returned an empty access token")
	}

	expiresAt := GetExpiresAt(int(result.ExpiresIn))
	return &RefreshedToken{
		AccessToken:  result.AccessToken,
		RefreshToken: result.AccessToken,
		ExpiresAt:    &expiresAt,
	}, nil
}
