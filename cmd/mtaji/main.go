// mtaji is the terminal client: it signs in against the auth API and keeps the session in
// step with every other mtaji process sharing the same storage file or Redis channel.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"m-taji/platform/internal/authclient"
	"m-taji/platform/internal/broadcast"
	"m-taji/platform/internal/config"
	"m-taji/platform/internal/logger"
	"m-taji/platform/internal/session"
	"m-taji/platform/internal/storage"
	"m-taji/platform/internal/tui"
)

func main() {
	link := flag.String("link", "", "sign in with the tokens carried by a confirmation link before starting")
	flag.Parse()

	cfg, err := config.LoadClient()
	if err != nil {
		logger.New("", "info", os.Stderr).Fatal().Err(err).Msg("config")
	}

	// The TUI owns the terminal, so logs go to a file next to the session storage.
	path := cfg.AuthStoragePath
	if path == "" {
		if path, err = storage.DefaultPath(); err != nil {
			logger.New("", "info", os.Stderr).Fatal().Err(err).Msg("storage path")
		}
	}
	log := zerolog.Nop()
	_ = os.MkdirAll(filepath.Dir(path), 0o700)
	if logFile, err := os.OpenFile(path+".log", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600); err == nil {
		defer logFile.Close()
		log = logger.New("production", cfg.LogLevel, logFile)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, path, *link, log); err != nil {
		log.Error().Err(err).Msg("mtaji")
		fmt.Fprintln(os.Stderr, "mtaji:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, path, link string, log zerolog.Logger) error {
	store, err := storage.NewFileStore(path, log)
	if err != nil {
		return err
	}
	defer store.Close()

	client, err := authclient.New(authclient.Options{
		BaseURL:       cfg.APIURL,
		Store:         store,
		StorageKey:    cfg.AuthStorageKey,
		RefreshMargin: cfg.RefreshMargin(),
		Logger:        log,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	// The manager restores whatever the link persisted.
	if link != "" {
		if _, err := client.SignInWithLink(ctx, link); err != nil {
			return fmt.Errorf("sign in with link: %w", err)
		}
	}

	ch, err := openChannel(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer ch.Close()

	mgr := session.NewManager(client, client.Profiles(),
		session.WithChannel(ch),
		session.WithStorage(store, cfg.AuthStorageKey),
		session.WithValidateInterval(cfg.ValidateInterval()),
		session.WithProfileRetry(cfg.ProfileRetryAttempts, cfg.ProfileRetryDelay(), cfg.ProfileRetryDelay()),
		session.WithLogger(log),
	)
	if err := mgr.Start(ctx); err != nil {
		return err
	}
	defer mgr.Close()

	return tui.Run(ctx, mgr)
}

// openChannel returns a Redis channel when REDIS_URL is set so separate processes share
// auth events; otherwise an in-process channel that only this process hears.
func openChannel(ctx context.Context, cfg *config.Config, log zerolog.Logger) (broadcast.Channel[session.Message], error) {
	if cfg.RedisURL == "" {
		return broadcast.NewHub[session.Message]().Open(cfg.BroadcastChannel), nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	return broadcast.NewRedis[session.Message](ctx, redis.NewClient(opts), cfg.BroadcastChannel, log)
}
