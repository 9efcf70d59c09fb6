package job

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/repository"
	"github.com/maheshrc27/crosspost/internal/service"
)

// refreshWindow is how far ahead of expiry tokens are renewed.
const refreshWindow = 30 * time.Minute

type TokenRefreshJob struct {
	sr          repository.SocialAccountRepository
	tokens      service.TokenService
	concurrency int
	now         func() time.Time
}

func NewTokenRefreshJob(sr repository.SocialAccountRepository, tokens service.TokenService, concurrency int) *TokenRefreshJob {
	if concurrency < 1 {
		concurrency = 1
	}
	return &TokenRefreshJob{
		sr:          sr,
		tokens:      tokens,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// RefreshTokens renews every token that expires within the refresh window
// and returns how many were renewed.
func (c *TokenRefreshJob) RefreshTokens(ctx context.Context) int {
	currentTime := c.now()

	accounts, err := c.sr.ListByTimeInterval(ctx, currentTime, currentTime.Add(refreshWindow))
	if err != nil {
		slog.Info(err.Error())
		return 0
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		refreshed int
	)
	semaphore := make(chan struct{}, c.concurrency)

	for _, acc := range accounts {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(acc *models.SocialAccount) {
			defer wg.Done()
			defer func() { <-semaphore }()

			if _, err := c.tokens.Refresh(ctx, acc); err != nil {
				if !errors.Is(err, service.ErrRefreshUnsupported) {
					slog.Info("unable to refresh token", "platform", acc.Platform, "account_id", acc.ID, "error", err)
				}
				return
			}
			mu.Lock()
			refreshed++
			mu.Unlock()
		}(acc)
	}

	wg.Wait()
	return refreshed
}

func (c *TokenRefreshJob) Run() {
	if n := c.RefreshTokens(context.Background()); n > 0 {
		slog.Info("tokens refreshed", "count", n)
	}
}
