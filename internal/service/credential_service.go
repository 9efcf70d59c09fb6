package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/platform"
	"github.com/maheshrc27/crosspost/internal/repository"
	"github.com/maheshrc27/crosspost/pkg/utils"
)

// CredentialService resolves the credential a publish attempt runs with:
// the user's connected account first, then the system credentials from
// configuration.
type CredentialService interface {
	GetActiveCredential(ctx context.Context, userID int64, name string) (platform.Credential, error)
}

type credentialService struct {
	cfg    config.Config
	sa     repository.SocialAccountRepository
	tokens TokenService
	now    func() time.Time
}

func NewCredentialService(cfg config.Config, sa repository.SocialAccountRepository, tokens TokenService) CredentialService {
	return &credentialService{cfg: cfg, sa: sa, tokens: tokens, now: time.Now}
}

func (s *credentialService) GetActiveCredential(ctx context.Context, userID int64, name string) (platform.Credential, error) {
	if userID != 0 {
		sa, err := s.sa.GetActive(ctx, userID, name)
		if err != nil {
			return platform.Credential{}, fmt.Errorf("load %s account: %w", name, err)
		}
		if sa != nil {
			return s.fromAccount(ctx, sa)
		}
	}

	if cred, ok := s.system(name); ok {
		return cred, nil
	}
	return platform.Credential{}, &platform.ConfigurationError{
		Platform: name,
		Reason:   "no connected account or system credentials",
	}
}

func (s *credentialService) fromAccount(ctx context.Context, sa *models.SocialAccount) (platform.Credential, error) {
	now := s.now()
	if sa.IsExpiringSoon(now, s.cfg.Publisher.ExpiryThresholdMinutes) && s.tokens != nil {
		refreshed, err := s.tokens.Refresh(ctx, sa)
		switch {
		case err == nil:
			sa = refreshed
		case sa.IsExpired(now):
			return platform.Credential{}, &platform.ConfigurationError{
				Platform: sa.Platform,
				Reason:   fmt.Sprintf("access token expired and could not be refreshed: %v", err),
			}
		case !errors.Is(err, ErrRefreshUnsupported):
			slog.Warn("token refresh failed, using current token",
				"platform", sa.Platform, "account_id", sa.ID, "error", err)
		}
	}

	accessToken, err := utils.DecryptToken(sa.AccessToken, s.cfg.SecretKey)
	if err != nil {
		return platform.Credential{}, &platform.ConfigurationError{Platform: sa.Platform, Reason: "stored access token cannot be decrypted"}
	}
	refreshToken, err := utils.DecryptToken(sa.RefreshToken, s.cfg.SecretKey)
	if err != nil {
		return platform.Credential{}, &platform.ConfigurationError{Platform: sa.Platform, Reason: "stored refresh token cannot be decrypted"}
	}

	accountID := sa.AccountID
	if sa.Platform == platform.Telegram {
		if chatID := sa.Meta("chat_id"); chatID != "" {
			accountID = chatID
		}
	}

	return platform.Credential{
		AccessToken:     accessToken,
		RefreshToken:    refreshToken,
		ExpiresAt:       sa.TokenExpiresAt,
		AccountID:       accountID,
		AccountUsername: sa.AccountUsername,
	}, nil
}

// system returns the configured fallback credential. YouTube uploads always
// need a connected channel.
func (s *credentialService) system(name string) (platform.Credential, bool) {
	var cred platform.Credential
	switch name {
	case platform.Facebook:
		cred = platform.Credential{AccessToken: s.cfg.Facebook.AccessToken, AccountID: s.cfg.Facebook.PageID}
	case platform.Instagram:
		cred = platform.Credential{AccessToken: s.cfg.Instagram.AccessToken, AccountID: s.cfg.Instagram.BusinessAccountID}
	case platform.Telegram:
		cred = platform.Credential{
			AccessToken:     s.cfg.Telegram.BotToken,
			AccountID:       s.cfg.Telegram.ChatID,
			AccountUsername: strings.TrimPrefix(s.cfg.Telegram.ChatID, "@"),
		}
		if !strings.HasPrefix(s.cfg.Telegram.ChatID, "@") {
			cred.AccountUsername = ""
		}
	default:
		return platform.Credential{}, false
	}
	if cred.AccessToken == "" || cred.AccountID == "" {
		return platform.Credential{}, false
	}
	cred.System = true
	return cred, true
}
