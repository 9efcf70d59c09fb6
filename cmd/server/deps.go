package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	_ "github.com/lib/pq"
	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/media"
	"github.com/maheshrc27/crosspost/internal/notify"
	"github.com/maheshrc27/crosspost/internal/platform"
	"github.com/maheshrc27/crosspost/internal/repository"
	"github.com/maheshrc27/crosspost/internal/service"
	"github.com/maheshrc27/crosspost/internal/storage"
	"github.com/maheshrc27/crosspost/pkg/logger"
	"github.com/nats-io/nats.go"
)

// loadConfig reads and validates the configuration and installs the
// default logger.
func loadConfig() (*config.Config, error) {
	cfg := config.LoadConfig()

	appLogger, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	slog.SetDefault(appLogger)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func openDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database is unreachable: %w", err)
	}
	return db, nil
}

func closeDB(db *sql.DB) {
	fmt.Fprint(os.Stdout, "Closing database connection... ")
	if err := db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close database: %v", err)
		return
	}
	fmt.Fprintln(os.Stdout, "Done")
}

// deps is everything the commands share.
type deps struct {
	cfg       *config.Config
	db        *sql.DB
	nc        *nats.Conn
	store     storage.Storage
	resolver  *media.Resolver
	registry  *platform.Registry
	posts     repository.PostRepository
	pubs      repository.PublicationRepository
	accounts  repository.SocialAccountRepository
	users     repository.UserRepository
	tokens    service.TokenService
	creds     service.CredentialService
	publisher service.PublisherService
}

func build(ctx context.Context, cfg *config.Config) (*deps, error) {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	d := &deps{cfg: cfg, db: db}

	d.store, err = storage.New(ctx, cfg.Storage)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	opts := []media.Option{media.WithTmpPrefix(cfg.Storage.TmpPrefix), media.DenyPrivateHosts()}
	if probe, ok := media.NewFFProbe(); ok {
		opts = append(opts, media.WithProbe(probe))
	} else {
		slog.Info("ffprobe not found, video duration checks are skipped")
	}
	d.resolver = media.NewResolver(d.store, cfg.Storage.CandidateRoots, opts...)

	client := platform.NewClient(cfg.Publisher.HTTPTimeout, cfg.Publisher.TransportAttempts, cfg.Publisher.TransportDelay)
	d.registry, err = platform.NewRegistry(
		platform.NewFacebook(cfg.Facebook, client, d.resolver),
		platform.NewInstagram(cfg.Instagram, client, d.resolver),
		platform.NewTelegram(cfg.Telegram, client, d.resolver),
		platform.NewYouTube(cfg.YouTube, client, d.resolver),
	)
	if err != nil {
		d.Close()
		return nil, err
	}

	d.posts = repository.NewPostRepository(db)
	d.pubs = repository.NewPublicationRepository(db)
	d.accounts = repository.NewSocialAccountRepository(db)
	d.users = repository.NewUserRepository(db)

	d.tokens = service.NewTokenService(cfg.SecretKey, d.accounts,
		service.NewInstagramRefresher(&http.Client{Timeout: cfg.Publisher.HTTPTimeout}),
		service.NewYouTubeRefresher(cfg.YouTube),
	)
	d.creds = service.NewCredentialService(*cfg, d.accounts, d.tokens)

	notifier, err := d.notifier()
	if err != nil {
		d.Close()
		return nil, err
	}
	d.publisher = service.NewPublisherService(d.posts, d.pubs, d.registry, d.creds, notifier, cfg.Publisher.Concurrency, cfg.Publisher.StaleAfter)
	return d, nil
}

func (d *deps) notifier() (notify.Notifier, error) {
	var notifiers notify.Multi
	if d.cfg.Webhook.Enabled {
		notifiers = append(notifiers, notify.NewWebhook(d.cfg.Webhook.URL, d.cfg.Webhook.Secret, d.cfg.Webhook.Timeout))
	}
	if d.cfg.Nats.URL != "" {
		nc, err := nats.Connect(d.cfg.Nats.URL, nats.Name("crosspost"))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to nats: %w", err)
		}
		d.nc = nc
		notifiers = append(notifiers, notify.NewNatsPublisher(nc, d.cfg.Nats.Subject))
	}
	if len(notifiers) == 0 {
		return notify.Nop(), nil
	}
	return notifiers, nil
}

func (d *deps) Close() {
	if d.nc != nil {
		if err := d.nc.Drain(); err != nil {
			slog.Warn("failed to drain nats connection", "error", err)
		}
	}
	closeDB(d.db)
}
