// Server runs the auth and profile HTTP API plus the gRPC health service.
package main

import (
	"context"
	"crypto"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"m-taji/platform/internal/audit"
	auditrepo "m-taji/platform/internal/audit/repository"
	"m-taji/platform/internal/config"
	"m-taji/platform/internal/db"
	"m-taji/platform/internal/db/migrate"
	"m-taji/platform/internal/events"
	healthhandler "m-taji/platform/internal/health/handler"
	identityrepo "m-taji/platform/internal/identity/repository"
	identityservice "m-taji/platform/internal/identity/service"
	"m-taji/platform/internal/logger"
	"m-taji/platform/internal/mailer"
	"m-taji/platform/internal/materializer"
	"m-taji/platform/internal/platform/reqctx"
	"m-taji/platform/internal/policy/engine"
	profilerepo "m-taji/platform/internal/profile/repository"
	"m-taji/platform/internal/security"
	"m-taji/platform/internal/server"
	"m-taji/platform/internal/telemetry/otel"
)

func main() {
	genKey := flag.Bool("generate-jwt-key", false, "print a new ES256 private key for JWT_PRIVATE_KEY and exit")
	flag.Parse()
	if *genKey {
		if err := printKey(); err != nil {
			fmt.Fprintln(os.Stderr, "generate-jwt-key:", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load()
	if err != nil {
		logger.New("", "info", os.Stderr).Fatal().Err(err).Msg("config")
	}
	log := logger.New(cfg.Env, cfg.LogLevel, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server")
	}
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	providers, err := otel.NewProviders(ctx, otel.Options{
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
		ServiceName: cfg.ServiceName,
		Environment: cfg.Env,
	}, log)
	if err != nil {
		return err
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("telemetry shutdown")
		}
	}()

	tokens, err := newTokenProvider(cfg, log)
	if err != nil {
		return err
	}

	var (
		database *sql.DB
		users    identityservice.UserRepo
		sessions identityservice.SessionRepo
		profiles profilerepo.Repository
		audits   auditrepo.Repository
	)
	if cfg.DatabaseURL != "" {
		if cfg.MigrateOnStart {
			if err := migrate.Run(cfg.DatabaseURL, "up"); err != nil {
				return err
			}
			log.Info().Msg("migrations applied")
		}
		database, err = db.Open(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer database.Close()
		users = identityrepo.NewPostgresUserRepository(database)
		sessions = identityrepo.NewPostgresSessionRepository(database)
		profiles = profilerepo.NewPostgresRepository(database)
		audits = auditrepo.NewPostgresRepository(database)
	} else {
		log.Warn().Msg("DATABASE_URL not set; using in-memory stores, data is lost on exit")
		users = identityrepo.NewMemoryUserRepository()
		sessions = identityrepo.NewMemorySessionRepository()
		profiles = profilerepo.NewMemoryRepository()
		audits = auditrepo.NewMemoryRepository()
	}

	emitter, err := otel.NewAuditEmitter(providers.LoggerProvider, providers.MeterProvider)
	if err != nil {
		return err
	}
	auditLogger := audit.NewLogger(audits, reqctx.ClientIP, log, emitter)

	var (
		mail   mailer.Sender
		outbox *mailer.Outbox
	)
	if cfg.MailerAPIKey != "" {
		mail = mailer.NewHTTPSender(cfg.MailerAPIKey, cfg.MailerBaseURL, cfg.MailerSender)
	} else {
		outbox = mailer.NewOutbox()
		mail = outbox
		log.Warn().Msg("MAILER_API_KEY not set; confirmation emails are kept in memory")
	}
	if cfg.IsProduction() {
		outbox = nil
	}

	var publisher identityservice.SignupPublisher
	if brokers := cfg.KafkaBrokersList(); len(brokers) > 0 {
		p, err := events.NewKafkaPublisher(brokers, cfg.SignupTopic, log)
		if err != nil {
			return err
		}
		defer p.Close()
		publisher = p
	} else {
		// Without a broker the profile materializer runs in-process.
		queue := events.NewMemoryQueue(256)
		defer queue.Close()
		publisher = queue
		m := materializer.New(profiles, cfg.MaterializeDelay(), log)
		go func() {
			if err := m.Run(ctx, queue); err != nil {
				log.Error().Err(err).Msg("materializer")
			}
		}()
	}

	policy, err := engine.NewOPAEvaluator(ctx)
	if err != nil {
		return err
	}

	auth := identityservice.NewAuthService(
		users, sessions,
		security.NewHasher(cfg.BcryptCost),
		tokens,
		mail, publisher, auditLogger,
		identityservice.Config{
			RequireEmailConfirmation: cfg.RequireEmailConfirmation,
			ResendCooldown:           cfg.ResendCooldownDuration(),
			SiteURL:                  cfg.SiteURL,
			RefreshReuseInterval:     cfg.RefreshReuse(),
		},
		log,
	)

	var pinger healthhandler.Pinger
	if database != nil {
		pinger = database
	}
	health := healthhandler.NewServer(pinger, policy, log)
	go health.Run(ctx, 15*time.Second)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := server.NewRouter(server.Deps{
		Auth:       auth,
		Profiles:   profiles,
		Policy:     policy,
		Audit:      auditLogger,
		Health:     health,
		DevMailbox: outbox,
	}, log)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcServer := server.NewGRPCServer(health)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	errc := make(chan error, 2)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()
	go func() {
		log.Info().Str("addr", cfg.GRPCAddr).Msg("grpc listening")
		if err := grpcServer.Serve(lis); err != nil {
			errc <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case serveErr = <-errc:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	grpcServer.GracefulStop()
	return serveErr
}

func newTokenProvider(cfg *config.Config, log zerolog.Logger) (*security.TokenProvider, error) {
	var (
		priv crypto.Signer
		pub  crypto.PublicKey
		err  error
	)
	if cfg.JWTPrivateKey != "" {
		priv, pub, err = security.LoadKeyPair(cfg.JWTPrivateKey, cfg.JWTPublicKey)
	} else {
		log.Warn().Msg("JWT_PRIVATE_KEY not set; signing with an ephemeral key, tokens do not survive a restart")
		key, genErr := security.GenerateEphemeralKey()
		if genErr != nil {
			return nil, genErr
		}
		priv, pub = key, key.Public()
	}
	if err != nil {
		return nil, err
	}
	log.Info().Str("alg", security.KeyAlg(pub)).Str("issuer", cfg.JWTIssuer).Msg("token signing ready")
	return security.NewTokenProvider(priv, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL(), cfg.RefreshTTL()), nil
}

func printKey() error {
	key, err := security.GenerateEphemeralKey()
	if err != nil {
		return err
	}
	pemStr, err := security.EncodePrivateKey(key)
	if err != nil {
		return err
	}
	fmt.Print(pemStr)
	return nil
}
