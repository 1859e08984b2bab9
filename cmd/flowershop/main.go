package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"flowershop/internal/config"
	"flowershop/internal/domain"
	"flowershop/internal/env"
	"flowershop/internal/infrastructure/mail"
	"flowershop/internal/infrastructure/repo"
	"flowershop/internal/infrastructure/telegram"
	"flowershop/internal/logging"
	"flowershop/internal/server"
	"flowershop/internal/usecase"
)

type backend interface {
	usecase.UserRepo
	usecase.FlowerRepo
	usecase.PromoRepo
	usecase.OrderRepo
	repo.Seeder
}

func main() {
	env.Load(".env", ".env.local")
	envDefaults := config.EnvDefaults()

	envName := flag.String("env", envDefaults.Env, "")
	port := flag.Int("port", envDefaults.Port, "")
	dsn := flag.String("database-url", envDefaults.DatabaseURL, "postgres DSN; empty keeps data in memory")
	jwtSecret := flag.String("jwt-secret", envDefaults.JWTSecret, "")
	logJSON := flag.Bool("log-json", envDefaults.LogJSON, "")
	accessTTL := flag.Duration("access-ttl", envDefaults.AccessTTL, "")
	refreshTTL := flag.Duration("refresh-ttl", envDefaults.RefreshTTL, "")
	tz := flag.String("tz", envDefaults.Timezone, "time zone for delivery dates")
	seed := flag.Bool("seed", true, "load the demo catalog and promo codes")
	demoPassword := flag.String("demo-password", "", "create demo@flowershop.local with this password")

	flag.Parse()

	cfg := envDefaults
	cfg.Env = *envName
	cfg.Port = *port
	cfg.DatabaseURL = *dsn
	cfg.JWTSecret = *jwtSecret
	cfg.LogJSON = *logJSON
	cfg.AccessTTL = *accessTTL
	cfg.RefreshTTL = *refreshTTL
	cfg.Timezone = *tz

	logger, err := logging.New(cfg.Env, cfg.LogJSON)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := run(cfg, *seed, *demoPassword, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, seed bool, demoPassword string, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.JWTSecret == "" {
		if cfg.Env == "prod" {
			return errors.New("jwt secret is required in prod")
		}
		cfg.JWTSecret = randomSecret()
		logger.Warn("no jwt secret configured, using an ephemeral one")
	}

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if seed {
		if err := repo.Seed(ctx, store, time.Now()); err != nil {
			return err
		}
	}
	if demoPassword != "" {
		if err := ensureDemoUser(ctx, store, demoPassword); err != nil {
			return err
		}
		logger.Info("demo user ready", zap.String("email", demoEmail))
	}

	var notifier usecase.Notifier = mail.LogNotifier{Logger: logger.Named("mail")}
	if cfg.SendGridAPIKey != "" {
		notifier = mail.NewSendGridNotifier(cfg.SendGridAPIKey, cfg.MailFrom, logger)
	}
	var verifier usecase.TelegramVerifier
	if cfg.TelegramBotToken != "" {
		verifier = &telegram.Verifier{BotToken: cfg.TelegramBotToken}
	}

	promos := &usecase.PromoService{Repo: store}
	srv := server.New(server.Deps{
		Auth: &usecase.AuthService{
			Repo:       store,
			Telegram:   verifier,
			JWTSecret:  cfg.JWTSecret,
			AccessTTL:  cfg.AccessTTL,
			RefreshTTL: cfg.RefreshTTL,
			Logger:     logger,
		},
		Catalog: &usecase.CatalogService{Repo: store},
		Orders: &usecase.OrderService{
			Repo:     store,
			Users:    store,
			Flowers:  store,
			Promos:   promos,
			Notifier: notifier,
			Location: cfg.Location(),
			Logger:   logger,
		},
		Promos: promos,
		Logger: logger,
	})

	hs := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", hs.Addr))
		errc <- hs.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return hs.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (backend, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Info("using in-memory store")
		return repo.NewMemoryRepo(), func() {}, nil
	}
	pg, err := repo.NewPostgresRepo(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("using postgres store")
	return pg, func() { _ = pg.Close() }, nil
}

const demoEmail = "demo@flowershop.local"

func ensureDemoUser(ctx context.Context, store backend, password string) error {
	if _, ok := store.GetUserByEmail(ctx, demoEmail); ok {
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	return store.PutUser(ctx, &domain.User{
		ID:           uuid.NewString(),
		Email:        demoEmail,
		Name:         "Demo Customer",
		BonusBalance: 500,
		Role:         domain.RoleCustomer,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}

func randomSecret() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
