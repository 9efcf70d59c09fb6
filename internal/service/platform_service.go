package service

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/platform"
	"github.com/maheshrc27/crosspost/internal/repository"
	"github.com/maheshrc27/crosspost/internal/transfer"
	"github.com/maheshrc27/crosspost/pkg/utils"
)

// PlatformService manages the social accounts publications run as. Tokens
// come from an OAuth flow outside this service and are stored encrypted.
type PlatformService interface {
	List(ctx context.Context, userID int64) ([]*models.SocialAccount, error)
	Connect(ctx context.Context, userID int64, conn *transfer.AccountConnection) (*models.SocialAccount, error)
	Delete(ctx context.Context, userID int64, name string) error
}

type platformService struct {
	cfg       config.Config
	sa        repository.SocialAccountRepository
	registry  *platform.Registry
	client    *http.Client
	revokeURL string
}

func NewPlatformService(cfg config.Config, sa repository.SocialAccountRepository, registry *platform.Registry) PlatformService {
	return &platformService{
		cfg:      cfg,
		sa:       sa,
		registry: registry,
		client:   &http.Client{Timeout: cfg.Publisher.HTTPTimeout},
	}
}

func (s *platformService) List(ctx context.Context, userID int64) ([]*models.SocialAccount, error) {
	if userID == 0 {
		return nil, ErrUserNotFound
	}
	return s.sa.ListByUserID(ctx, userID)
}

func (s *platformService) Connect(ctx context.Context, userID int64, conn *transfer.AccountConnection) (*models.SocialAccount, error) {
	if userID == 0 {
		return nil, ErrUserNotFound
	}
	if conn == nil {
		return nil, invalidInput("account", "account data is missing")
	}
	name := strings.ToLower(strings.TrimSpace(conn.Platform))
	if _, err := s.registry.Get(name); err != nil {
		return nil, invalidInput("platform", "%s is not supported", conn.Platform)
	}
	if conn.AccessToken == "" {
		return nil, invalidInput("access_token", "access token is required")
	}
	if conn.AccountID == "" && name != platform.YouTube {
		return nil, invalidInput("account_id", "account id is required for %s", name)
	}

	accessToken, err := utils.EncryptToken(conn.AccessToken, s.cfg.SecretKey)
	if err != nil {
		return nil, err
	}
	refreshToken, err := utils.EncryptToken(conn.RefreshToken, s.cfg.SecretKey)
	if err != nil {
		return nil, err
	}

	sa := &models.SocialAccount{
		UserID:          userID,
		Platform:        name,
		AccountID:       conn.AccountID,
		AccountName:     conn.AccountName,
		AccountUsername: conn.AccountUsername,
		AccessToken:     accessToken,
		RefreshToken:    refreshToken,
		TokenExpiresAt:  expiresAtPtr(conn.ExpiresIn),
		IsActive:        true,
		Metadata:        conn.Metadata,
	}
	if sa.ID, err = s.sa.Upsert(ctx, sa); err != nil {
		return nil, err
	}
	slog.Info("account connected", "user_id", userID, "platform", name, "account_id", conn.AccountID)
	return sa, nil
}

// Delete disconnects the account. Google tokens are revoked first, best
// effort.
func (s *platformService) Delete(ctx context.Context, userID int64, name string) error {
	if userID == 0 {
		return ErrUserNotFound
	}
	sa, err := s.sa.GetActive(ctx, userID, name)
	if err != nil {
		return err
	}
	if sa == nil {
		return ErrAccountNotFound
	}

	if sa.Platform == platform.YouTube {
		token, err := utils.DecryptToken(sa.AccessToken, s.cfg.SecretKey)
		if err == nil && token != "" {
			err = RevokeGoogleAccess(ctx, s.client, s.revokeURL, token)
		}
		if err != nil {
			slog.Warn("unable to revoke google access", "account_id", sa.ID, "error", err)
		}
	}

	return s.sa.Remove(ctx, userID, name)
}
