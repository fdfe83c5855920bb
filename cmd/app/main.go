// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"endless-chat/internal/config"
	"endless-chat/internal/domain/ports/adapter"
	"endless-chat/internal/domain/ports/repository"
	aiAdapters "endless-chat/internal/infra/adapters/ai"
	"endless-chat/internal/infra/adapters/notify"
	tele "endless-chat/internal/infra/adapters/telegram"
	"endless-chat/internal/infra/clock"
	"endless-chat/internal/infra/db/memory"
	pg "endless-chat/internal/infra/db/postgres"
	"endless-chat/internal/infra/i18n"
	"endless-chat/internal/infra/logging"
	"endless-chat/internal/infra/metrics"
	red "endless-chat/internal/infra/redis"
	"endless-chat/internal/infra/security"
	"endless-chat/internal/infra/web"
	"endless-chat/internal/infra/worker"
	"endless-chat/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, unredacted text)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Info().Msg("[DEV MODE] Enabled")
	}
	metrics.MustRegister(nil)

	// ---- Store ----
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("store")
	}
	defer closeStore()
	if cfg.Store.EncryptionKey != "" {
		sealer, err := security.NewSealer([]byte(cfg.Store.EncryptionKey))
		if err != nil {
			logger.Fatal().Err(err).Msg("encryption")
		}
		store = security.NewEncryptedStore(store, sealer)
	}

	// ---- Upstream & side-effect adapters ----
	transport, err := aiAdapters.NewHTTPTransport(cfg.Upstream.BaseURL, cfg.Upstream.APIKey, cfg.Upstream.Timeout)
	if err != nil {
		logger.Fatal().Err(err).Msg("transport")
	}
	counter, err := aiAdapters.NewTiktokenCounter(cfg.Tokenizer.Encoding)
	if err != nil {
		logger.Fatal().Err(err).Msg("tokenizer")
	}

	var (
		moderation  adapter.ModerationChecker = aiAdapters.NoopAI{}
		suggestions adapter.SuggestionSource  = aiAdapters.NoopAI{}
		titles      adapter.TitleSource       = aiAdapters.NoopAI{}
	)
	if cfg.OpenAI.APIKey != "" {
		oa, err := aiAdapters.NewOpenAIAdapter(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model, cfg.OpenAI.ModerationModel)
		if err != nil {
			logger.Fatal().Err(err).Msg("openai adapter")
		}
		moderation = aiAdapters.NewLimitedModerator(oa, cfg.Moderation.ConcurrentLimit)
		suggestions, titles = oa, oa
		logger.Info().Str("model", cfg.OpenAI.Model).Msg("AI side effects: OpenAI")
	} else {
		logger.Warn().Msg("openai.api_key not set; moderation, suggestions and titles are disabled")
	}

	var translator adapter.Translator
	if cfg.Gemini.APIKey != "" {
		gt, err := aiAdapters.NewGeminiTranslator(ctx, cfg.Gemini.APIKey, cfg.Gemini.BaseURL, cfg.Gemini.Model, cfg.Gemini.TargetLanguage)
		if err != nil {
			logger.Fatal().Err(err).Msg("gemini translator")
		}
		translator = gt
	}

	texts, err := i18n.NewTranslator(i18n.LocalesFS, cfg.Locale)
	if err != nil {
		logger.Fatal().Err(err).Str("locale", cfg.Locale).Msg("locale")
	}

	// ---- Notifications ----
	hub := web.NewHub()
	sinks := notify.Multi{hub, notify.NewLogNotifier(logger)}
	if cfg.Telegram.Token != "" {
		tn, err := tele.NewNotifier(cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err != nil {
			logger.Fatal().Err(err).Msg("telegram")
		}
		sinks = append(sinks, tn)
	}

	// ---- Persistence writer ----
	pool := worker.NewPool(1, 64, logger)
	pool.Start(ctx)

	// ---- Session ----
	chatUC := usecase.NewChatUseCase(usecase.ChatDeps{
		Counter:     counter,
		Transport:   transport,
		Moderation:  moderation,
		Translator:  translator,
		Suggestions: suggestions,
		Titles:      titles,
		Notifier:    sinks,
		Store:       store,
		Pool:        pool,
		Texts:       texts,
		Clock:       clock.Real(),
	}, usecase.ChatOptionsFromConfig(cfg), logger)
	unsubscribe := chatUC.Subscribe(hub.PublishSnapshot)
	if err := chatUC.Restore(ctx); err != nil {
		logger.Error().Err(err).Msg("restore session; starting empty")
	}

	// ---- HTTP ----
	srv := web.NewServer(chatUC, hub, nil, logger)
	go func() {
		if err := srv.ListenAndServe(cfg.HTTP.Addr); err != nil {
			logger.Error().Err(err).Msg("http server error")
			cancel()
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigc:
		logger.Info().Msg("shutdown requested")
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	unsubscribe()
	chatUC.Close()
	pool.Stop()
	cancel()
}

// openStore picks the persistence sink named by store.driver.
func openStore(ctx context.Context, cfg *config.Config) (repository.KeyValueStore, func(), error) {
	switch strings.ToLower(cfg.Store.Driver) {
	case "redis":
		client, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return red.NewKVStore(client, cfg.Store.Prefix, cfg.Redis.TTL), func() { _ = client.Close() }, nil
	case "postgres":
		dbPool, err := pg.Connect(ctx, cfg.Database.URL)
		if err != nil {
			return nil, nil, err
		}
		kv := pg.NewKVStore(dbPool, strings.TrimSuffix(cfg.Store.Prefix, ":"))
		if err := kv.EnsureSchema(ctx); err != nil {
			dbPool.Close()
			return nil, nil, err
		}
		return kv, dbPool.Close, nil
	default:
		return memory.NewKVStore(), func() {}, nil
	}
}

