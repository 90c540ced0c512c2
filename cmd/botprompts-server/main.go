package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"

	"github.com/lowtechclub/botprompts"
	"github.com/lowtechclub/botprompts/config"
	"github.com/lowtechclub/botprompts/httpapi"
	"github.com/lowtechclub/botprompts/notifications"
)

const shutdownGrace = 10 * time.Second

func main() {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("invalid configuration")
	}

	logger := newLogger(cfg)

	db, err := openDatabase(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("could not open database")
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("database is unreachable")
	}

	repos := botprompts.NewRepositoryManager(db)
	repos.MustValidate()

	issuer := botprompts.NewTokenIssuer(botprompts.TokenIssuerConfig{
		SigningKey:      []byte(cfg.JWT.SigningKey),
		Issuer:          cfg.JWT.Issuer,
		AccessTTL:       cfg.JWT.AccessTTL,
		RefreshTTL:      cfg.JWT.RefreshTTL,
		VerificationTTL: cfg.Auth.VerificationTTL,
		ResetTTL:        cfg.Auth.ResetTTL,
		OpaqueLength:    cfg.Auth.OpaqueLength,
	}, repos, logger)

	notifier, err := notifications.New(ctx, cfg.Email, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("could not build notifier")
	}

	hasher := botprompts.NewPasswordHasher(cfg.Auth.BcryptCost)
	manager := botprompts.NewManager(repos, hasher, issuer, notifier, logger)

	gate := botprompts.NewGate(repos, issuer, cfg.Auth.GuestRoleName, logger)
	if err := gate.ResolveGuest(ctx); err != nil {
		logger.Fatal().Err(err).Msg("guest role is not usable")
	}

	prompts := botprompts.NewPromptsService(repos, logger)
	defer prompts.Close()

	variables := botprompts.NewVariablesService(repos, logger)

	server := httpapi.NewServer(cfg, manager, gate, prompts, variables, notifier, logger)

	errs := make(chan error, 1)
	go func() {
		errs <- server.Listen()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errs:
		if err != nil {
			logger.Fatal().Err(err).Msg("server stopped")
		}
	case sig := <-stop:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown did not finish cleanly")
		}
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	logger := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	if cfg.Env == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return logger
}

func openDatabase(cfg *config.Config) (*bun.DB, error) {
	var db *bun.DB

	switch cfg.Database.Driver {
	case "sqlite":
		sqlDB, err := sql.Open(sqliteshim.ShimName, cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		db = bun.NewDB(sqlDB, sqlitedialect.New())
	default:
		sqlDB := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Database.DSN)))
		db = bun.NewDB(sqlDB, pgdialect.New())
	}

	if cfg.Database.Debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db, nil
}
