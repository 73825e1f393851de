package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jddlt/sora2api/internal/api"
	"github.com/jddlt/sora2api/internal/config"
	"github.com/jddlt/sora2api/internal/db"
	"github.com/jddlt/sora2api/internal/logging"
	"github.com/jddlt/sora2api/internal/models"
	"github.com/jddlt/sora2api/internal/storage"
	"github.com/jddlt/sora2api/internal/store"
	"github.com/jddlt/sora2api/internal/tasks"
)

// Run bootstraps the sora2api client engine.
func Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("expected command: migrate, check, or generate")
	}

	switch args[0] {
	case "migrate":
		return runMigrate(ctx)
	case "check":
		return runCheck(ctx)
	case "generate":
		return runGenerate(ctx, args[1:])
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}

func runMigrate(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	newLogger(cfg.LogLevel)

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := store.EnsureSchema(ctx, pool); err != nil {
		return err
	}
	slog.Info("schema ensured")
	return nil
}

// bootstrap loads config, opens the database, and wires the engine over the
// persistent credential store.
func bootstrap(ctx context.Context) (config.Config, *Engine, *store.PostgresCredentialStore, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, nil, nil, err
	}
	logger := newLogger(cfg.LogLevel)

	sealer, err := store.NewSealer(cfg.SealKeyHex)
	if err != nil {
		return config.Config{}, nil, nil, nil, err
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return config.Config{}, nil, nil, nil, err
	}

	credentials := store.NewPostgresCredentialStore(pool, sealer)
	var recorder storage.ArchiveRecorder = store.NewPostgresArchiveRecorder(pool)

	engine, err := buildEngine(ctx, cfg, credentials, recorder, logger)
	if err != nil {
		pool.Close()
		return config.Config{}, nil, nil, nil, err
	}

	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := engine.Close(shutdownCtx); err != nil {
			slog.Error("engine shutdown", "error", err)
		}
		pool.Close()
	}
	return cfg, engine, credentials, cleanup, nil
}

// applyProxies routes each account through its stored proxy, when set.
func applyProxies(ctx context.Context, engine *Engine, credentials *store.PostgresCredentialStore, accounts []string) {
	for _, account := range accounts {
		bundle, err := credentials.Load(ctx, account)
		if err != nil || bundle.ProxyURL == "" {
			continue
		}
		if err := engine.Client.SetAccountProxy(account, bundle.ProxyURL); err != nil {
			slog.Warn("configure account proxy", "account", account, "error", err)
		}
	}
}

// runCheck refreshes every stored account and reports its profile and
// remaining quota.
func runCheck(ctx context.Context) error {
	_, engine, credentials, cleanup, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	accounts, err := credentials.Accounts(ctx)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		return errors.New("no accounts registered")
	}
	applyProxies(ctx, engine, credentials, accounts)

	var failures int
	for _, account := range accounts {
		ctx := logging.WithAccount(ctx, account)
		log := logging.FromContext(ctx)

		if _, err := engine.Credentials.AccessToken(ctx, account); err != nil {
			log.Error("credential refresh failed", "error", err)
			failures++
			continue
		}

		profile, err := engine.Profiles.Me(ctx, account)
		if err != nil {
			log.Error("profile lookup failed", "error", err)
			failures++
			continue
		}

		quota, err := engine.Client.RemainingQuota(ctx, account)
		if err != nil {
			log.Error("quota lookup failed", "error", err)
			failures++
			continue
		}

		log.Info("account healthy",
			"email", profile.Email,
			"username", profile.Username,
			"remainingVideos", quota.RemainingVideos,
			"rateLimited", quota.RateLimitReached,
		)
	}

	if failures > 0 {
		return fmt.Errorf("%d of %d accounts unhealthy", failures, len(accounts))
	}
	return nil
}

// runGenerate submits one generation job and waits for it to finish.
func runGenerate(ctx context.Context, args []string) error {
	if len(args) < 3 {
		return errors.New("usage: generate <account> <image|video|storyboard> <prompt>")
	}
	account, kind := args[0], models.TaskKind(args[1])
	prompt := strings.Join(args[2:], " ")

	_, engine, credentials, cleanup, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	applyProxies(ctx, engine, credentials, []string{account})

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	taskID, err := tasks.Submit(ctx, engine.Client, engine.Orchestrator, engine.Policy, account, api.GenerationRequest{
		Kind:   kind,
		Prompt: prompt,
	})
	if err != nil {
		return err
	}
	slog.Info("generation submitted", "account", account, "taskId", taskID)

	task, err := engine.Orchestrator.AwaitCompletion(ctx, taskID, 15*time.Minute)
	if err != nil {
		return err
	}
	if task.Status != models.TaskStatusSucceeded {
		return fmt.Errorf("generation %s: %s (%s)", task.ID, task.Status, task.ErrorCode)
	}

	slog.Info("generation succeeded", "taskId", task.ID, "resultUrl", task.ResultURL)

	if engine.Archiver != nil {
		if err := engine.Archiver.Enqueue(ctx, task); err != nil {
			slog.Warn("archive enqueue failed", "taskId", task.ID, "error", err)
		}
	}
	return nil
}
