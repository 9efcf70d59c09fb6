package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/repository"
	"github.com/maheshrc27/crosspost/pkg/utils"
)

var ErrRefreshUnsupported = errors.New("token refresh not supported for platform")

// RefreshedToken is the plaintext result of a token refresh. An empty
// RefreshToken keeps the stored one.
type RefreshedToken struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

// TokenRefresher renews the tokens of one platform. It receives and
// returns plaintext tokens.
type TokenRefresher interface {
	Platform() string
	Refresh(ctx context.Context, accessToken, refreshToken string) (*RefreshedToken, error)
}

type TokenService interface {
	// Refresh renews the account's tokens, stores them and returns the
	// updated account with encrypted tokens.
	Refresh(ctx context.Context, sa *models.SocialAccount) (*models.SocialAccount, error)
}

type tokenService struct {
	secretKey  string
	sa         repository.SocialAccountRepository
	refreshers map[string]TokenRefresher
}

func NewTokenService(secretKey string, sa repository.SocialAccountRepository, refreshers ...TokenRefresher) TokenService {
	m := make(map[string]TokenRefresher, len(refreshers))
	for _, r := range refreshers {
		m[r.Platform()] = r
	}
	return &tokenService{secretKey: secretKey, sa: sa, refreshers: m}
}

func (s *tokenService) Refresh(ctx context.Context, sa *models.SocialAccount) (*models.SocialAccount, error) {
	refresher, ok := s.refreshers[sa.Platform]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRefreshUnsupported, sa.Platform)
	}

	accessToken, err := utils.DecryptToken(sa.AccessToken, s.secretKey)
	if err != nil {
		return nil, fmt.Errorf("decrypt access token: %w", err)
	}
	refreshToken, err := utils.DecryptToken(sa.RefreshToken, s.secretKey)
	if err != nil {
		return nil, fmt.Errorf("decrypt refresh token: %w", err)
	}

	token, err := refresher.Refresh(ctx, accessToken, refreshToken)
	if err != nil {
		slog.Info(err.Error(), "platform", sa.Platform, "account_id", sa.ID)
		return nil, err
	}

	updated := *sa
	if updated.AccessToken, err = utils.EncryptToken(token.AccessToken, s.secretKey); err != nil {
		return nil, err
	}
	if token.RefreshToken != "" {
		if updated.RefreshToken, err = utils.EncryptToken(token.RefreshToken, s.secretKey); err != nil {
			return nil, err
		}
	}
	if token.ExpiresAt != nil {
		updated.TokenExpiresAt = token.ExpiresAt
	}

	if err := s.sa.SetToken(ctx, sa.ID, sa.AccessToken, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}
