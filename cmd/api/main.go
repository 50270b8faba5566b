package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/support-relay/internal/api/http"
	"github.com/spec-kit/support-relay/internal/api/http/handlers"
	"github.com/spec-kit/support-relay/internal/auth"
	"github.com/spec-kit/support-relay/internal/config"
	"github.com/spec-kit/support-relay/internal/events"
	"github.com/spec-kit/support-relay/internal/observability"
	"github.com/spec-kit/support-relay/internal/pending"
	"github.com/spec-kit/support-relay/internal/persistence"
	"github.com/spec-kit/support-relay/internal/registry"
	"github.com/spec-kit/support-relay/internal/repository"
	"github.com/spec-kit/support-relay/internal/service"
	"github.com/spec-kit/support-relay/internal/telegram"
	"github.com/spec-kit/support-relay/internal/updates"
	"github.com/spec-kit/support-relay/internal/worker"
)

const shutdownTimeout = 10 * time.Second

type repositories struct {
	tickets  repository.TicketRepository
	messages repository.TicketMessageRepository
	history  repository.TicketHistoryRepository
	agents   repository.AgentRepository
	ratings  repository.RatingRepository
	balances repository.BalanceRepository
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App.Name)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := observability.NewMetrics()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	pool := pg.PoolHandle()
	if pool != nil && cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pool, cfg.Postgres.MigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}
	repos := buildRepositories(pool)

	redis := persistence.NewRedis(cfg.Redis, logger)
	var prompts pending.Store = pending.NewMemoryStore()
	if redis != nil {
		prompts = pending.NewRedisStore(redis.Client, cfg.Redis.KeyPrefix)
	}

	reg := registry.New()
	loaded, err := reg.Load(ctx, repos.tickets)
	if err != nil {
		logger.Fatal("failed to load active tickets", zap.Error(err))
	}
	logger.Info("active tickets loaded", zap.Int("count", loaded))

	bus := updates.NewBus(updates.Options{
		StreamBuffer:      cfg.Support.StreamBuffer,
		TerminalRetention: cfg.Support.TerminalRetention(),
		Logger:            logger,
		Metrics:           metrics,
	})

	dispatcher := events.NewInMemoryDispatcher()
	worker.StartNotificationWorker(service.NewNotificationService(dispatcher, bus, logger), logger)

	var (
		transport service.Transport
		tgClient  *telegram.Client
	)
	if cfg.Telegram.Enabled() {
		api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			logger.Fatal("failed to init telegram bot", zap.Error(err))
		}
		logger.Info("telegram bot authorized", zap.String("username", api.Self.UserName))
		tgClient = telegram.NewClient(api, cfg.Telegram.SupportChatID, cfg.Telegram.ReviewsThreadID, logger)
		transport = tgClient
	} else {
		logger.Warn("TELEGRAM_BOT_TOKEN not provided; chat deliveries are only logged")
		transport = telegram.NewLoopback(logger)
	}

	tickets := service.NewTicketService(service.TicketDependencies{
		TicketRepo:  repos.tickets,
		MessageRepo: repos.messages,
		HistoryRepo: repos.history,
		BalanceRepo: repos.balances,
		Registry:    reg,
		Transport:   transport,
		Dispatcher:  dispatcher,
		Metrics:     metrics,
		Logger:      logger,
		CloseReward: cfg.Support.CloseReward,
	})
	ratings := service.NewRatingService(repos.ratings, repos.tickets, transport, logger)
	router := service.NewRouter(service.RouterDependencies{
		Tickets:    tickets,
		Ratings:    ratings,
		Registry:   reg,
		TicketRepo: repos.tickets,
		Prompts:    prompts,
		PromptTTL:  cfg.Support.PendingActionTTL(),
		Transport:  transport,
		Logger:     logger,
	})

	authService := service.NewAuthService(cfg.Auth, repos.agents)
	if cfg.Auth.BootstrapLogin != "" && cfg.Auth.BootstrapPassword != "" {
		if _, err := authService.EnsureAgent(ctx, cfg.Auth.BootstrapLogin, cfg.Auth.BootstrapPassword, cfg.Auth.BootstrapLogin); err != nil {
			logger.Fatal("failed to bootstrap agent", zap.Error(err))
		}
	}

	runner := worker.NewRunner(ctx, logger)
	if tgClient != nil {
		bot := telegram.NewBot(telegram.BotDependencies{
			Client:        tgClient,
			Router:        router,
			Tickets:       tickets,
			Ratings:       ratings,
			Agents:        authService,
			SupportChatID: cfg.Telegram.SupportChatID,
			PollTimeout:   cfg.Telegram.PollTimeout(),
			Logger:        logger,
		})
		runner.Go("telegram", bot.Run)
	}

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis, reg, metrics),
		Agents:         handlers.NewAgentsHandler(authService),
		Tickets:        handlers.NewTicketsHandler(tickets, ratings, router),
		AgentTickets:   handlers.NewAgentTicketsHandler(tickets, router),
		Updates:        handlers.NewUpdatesHandler(tickets, router, bus, cfg.Support.LongPollDefault(), cfg.Support.LongPollMax(), logger),
		AuthMiddleware: auth.NewAuthMiddleware(authService.TokenManager(), repos.agents),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := runner.Stop(shutdownCtx); err != nil {
		logger.Warn("workers did not stop in time", zap.Error(err))
	}
	// Ends waiting long-polls and streams before fiber drains connections.
	bus.Shutdown()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	redis.Close()
	pg.Close()
}

// buildRepositories picks Postgres repositories when a pool is configured
// and in-memory ones otherwise.
func buildRepositories(pool *pgxpool.Pool) repositories {
	if pool == nil {
		return repositories{
			tickets:  repository.NewMemoryTicketRepository(),
			messages: repository.NewMemoryTicketMessageRepository(),
			history:  repository.NewMemoryTicketHistoryRepository(),
			agents:   repository.NewMemoryAgentRepository(),
			ratings:  repository.NewMemoryRatingRepository(),
			balances: repository.NewMemoryBalanceRepository(),
		}
	}
	return repositories{
		tickets:  repository.NewTicketRepository(pool),
		messages: repository.NewTicketMessageRepository(pool),
		history:  repository.NewTicketHistoryRepository(pool),
		agents:   repository.NewAgentRepository(pool),
		ratings:  repository.NewRatingRepository(pool),
		balances: repository.NewBalanceRepository(pool),
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
