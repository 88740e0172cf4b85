// Command booksd runs the books HTTP API: a CRUD service over PostgreSQL
// whose every protected request passes an admission gate of JWT
// verification and per-caller rate limiting.
//
// Configuration is resolved from envDefault tags, an optional config file
// (BOOKS_CONFIG_FILE), and BOOKS_-prefixed environment variables, e.g.:
//
//	BOOKS_AUTH_ISSUER=https://idp.example/realms/books \
//	BOOKS_AUTH_JWKS_URL=https://idp.example/realms/books/protocol/openid-connect/certs \
//	BOOKS_DB_PASSWORD=... booksd
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/shelfwise/books-api/pkg/admission"
	"github.com/shelfwise/books-api/pkg/auth"
	"github.com/shelfwise/books-api/pkg/books"
	"github.com/shelfwise/books-api/pkg/clients/postgres"
	"github.com/shelfwise/books-api/pkg/config"
	"github.com/shelfwise/books-api/pkg/ratelimit"
	"github.com/shelfwise/books-api/pkg/secrets"
	"github.com/shelfwise/books-api/pkg/telemetry"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	ListenAddr      string        `env:"LISTEN_ADDR" envDefault:":8080" yaml:"listen_addr"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"10s" yaml:"read_timeout"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"30s" yaml:"write_timeout"`
	IdleTimeout     time.Duration `env:"IDLE_TIMEOUT" envDefault:"120s" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s" yaml:"shutdown_timeout"`
}

// AuthConfig extends the verifier settings with the key-set endpoint.
type AuthConfig struct {
	auth.VerifierConfig `yaml:",inline"`

	// JWKSURL is the identity provider's key-set endpoint.
	JWKSURL string `env:"JWKS_URL" yaml:"jwks_url" required:"true"`

	// RefreshInterval is the background key refresh period. Zero disables
	// the background loop; miss-driven refetch still operates.
	RefreshInterval time.Duration `env:"REFRESH_INTERVAL" envDefault:"5m" yaml:"refresh_interval"`

	// Strict requires an HTTPS issuer and a reachable key source at
	// startup. Enable everywhere except local development.
	Strict bool `env:"STRICT" envDefault:"false" yaml:"strict"`
}

// RateLimitConfig holds both admission buckets: the per-caller budget for
// authenticated traffic and the stricter per-origin budget charged to
// failed authentication attempts.
type RateLimitConfig struct {
	Authenticated   ratelimit.Config `env:"AUTHED" yaml:"authenticated"`
	Unauthenticated ratelimit.Config `env:"UNAUTHED" yaml:"unauthenticated"`
}

// VaultConfig extends the Vault client settings with the secret path the
// service reads at startup.
type VaultConfig struct {
	secrets.Config `yaml:",inline"`

	// DBSecretPath is the KV v2 path holding the database password under
	// the key "password". Empty disables the Vault lookup; the password
	// then comes from BOOKS_DB_PASSWORD.
	DBSecretPath string `env:"DB_SECRET_PATH" yaml:"db_secret_path"`
}

// AppConfig is the complete booksd configuration.
type AppConfig struct {
	Server    ServerConfig     `env:"SERVER" yaml:"server"`
	Auth      AuthConfig       `env:"AUTH" yaml:"auth"`
	RateLimit RateLimitConfig  `env:"RATELIMIT" yaml:"ratelimit"`
	DB        postgres.Config  `env:"DB" yaml:"db"`
	Vault     VaultConfig      `env:"VAULT" yaml:"vault"`
	Telemetry telemetry.Config `env:"OTEL" yaml:"telemetry"`
	LogLevel  string           `env:"LOG_LEVEL" envDefault:"info" yaml:"log_level"`
}

// Validate enforces the strict-mode issuer requirement. Reachability of
// the key source is checked at startup, after the clients exist.
func (c *AppConfig) Validate() error {
	if c.Auth.Strict && !strings.HasPrefix(c.Auth.Issuer, "https://") {
		return errors.New("strict mode requires an https:// issuer")
	}
	return nil
}

func main() {
	cfg := config.MustLoad[AppConfig](
		config.New().
			WithEnvPrefix("BOOKS").
			WithFile(os.Getenv("BOOKS_CONFIG_FILE")),
	)

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("booksd exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg AppConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	// Database credentials come from Vault when a secret path is
	// configured; the env-provided password is the fallback.
	if cfg.Vault.DBSecretPath != "" {
		vault, err := secrets.NewClient(cfg.Vault.Config, nil)
		if err != nil {
			return err
		}
		kv, err := vault.Fetch(ctx, cfg.Vault.DBSecretPath)
		if err != nil {
			return err
		}
		if pw, ok := kv["password"]; ok {
			cfg.DB.Password = postgres.Secret(pw)
		}
		if user, ok := kv["username"]; ok {
			cfg.DB.User = user
		}
	}

	db, err := postgres.NewClient(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := books.EnsureSchema(ctx, db); err != nil {
		return err
	}

	keys := auth.NewKeyCache(cfg.Auth.JWKSURL, nil, cfg.Auth.RefreshInterval)
	defer keys.Close()

	if cfg.Auth.Strict {
		// Fail startup rather than serve with an unreachable key source.
		if err := keys.Refresh(ctx); err != nil {
			return err
		}
		logger.Info("key source verified", "keys", keys.KeyCount())
	}
	keys.Start(ctx)

	verifier, err := auth.NewVerifier(cfg.Auth.VerifierConfig, keys)
	if err != nil {
		return err
	}

	limiter, err := ratelimit.New(cfg.RateLimit.Authenticated)
	if err != nil {
		return err
	}
	authLimiter, err := ratelimit.New(cfg.RateLimit.Unauthenticated)
	if err != nil {
		return err
	}

	gate, err := admission.NewGate(verifier, limiter, authLimiter, logger)
	if err != nil {
		return err
	}

	router := mux.NewRouter()
	if cfg.Auth.Strict {
		router.Use(admission.RequireHTTPS())
	}
	router.Use(
		admission.RequestID(),
		admission.SecurityHeaders(),
		admission.RequestLogging(logger),
	)

	handler := books.NewHandler(books.NewService(books.NewRepository(db), logger), db, logger)
	handler.Register(router, gate)

	server := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("booksd listening",
			"addr", cfg.Server.ListenAddr,
			"issuer", cfg.Auth.Issuer,
			"strict", cfg.Auth.Strict,
		)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func logLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
