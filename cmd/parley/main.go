package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/parley-chat/parley-server/internal/api"
	"github.com/parley-chat/parley-server/internal/auth"
	"github.com/parley-chat/parley-server/internal/channel"
	"github.com/parley-chat/parley-server/internal/config"
	"github.com/parley-chat/parley-server/internal/gateway"
	"github.com/parley-chat/parley-server/internal/guild"
	"github.com/parley-chat/parley-server/internal/httputil"
	"github.com/parley-chat/parley-server/internal/member"
	"github.com/parley-chat/parley-server/internal/message"
	"github.com/parley-chat/parley-server/internal/postgres"
	"github.com/parley-chat/parley-server/internal/presence"
	"github.com/parley-chat/parley-server/internal/snowflake"
	"github.com/parley-chat/parley-server/internal/user"
	"github.com/parley-chat/parley-server/internal/valkey"
)

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.IsDevelopment() {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().Timestamp().Logger()
	}

	log.Info().Str("env", cfg.ServerEnv).Msg("Starting Parley Server")

	if cfg.CORSAllowOrigins == "*" {
		log.Warn().Msg("CORS_ALLOW_ORIGINS is set to a wildcard \"*\". Set an explicit origin for production deployments.")
	}

	ctx := context.Background()

	// Connect PostgreSQL
	db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConn, cfg.DatabaseMinConn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()
	log.Info().Msg("PostgreSQL connected")

	// Run migrations
	if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info().Msg("Database migrations complete")

	// Connect Valkey
	rdb, err := valkey.Connect(ctx, cfg.ValkeyURL, 5*time.Second)
	if err != nil {
		return fmt.Errorf("connect valkey: %w", err)
	}
	defer rdb.Close()
	log.Info().Msg("Valkey connected")

	ids, err := snowflake.NewGenerator(cfg.SnowflakeWorkerID, cfg.SnowflakeProcessID)
	if err != nil {
		return fmt.Errorf("create id generator: %w", err)
	}

	// Repositories
	userRepo := user.NewPGRepository(db, log.Logger)
	guildRepo := guild.NewPGRepository(db, log.Logger)
	channelRepo := channel.NewPGRepository(db, log.Logger)
	memberRepo := member.NewPGRepository(db, log.Logger)
	messageRepo := message.NewPGRepository(db, log.Logger)
	onboarding := user.NewOnboarding(db, log.Logger)
	presenceStore := presence.NewStore(rdb)

	// Auth service
	authService := auth.NewService(userRepo, rdb, ids, cfg, log.Logger)

	// Dispatcher and connection pipeline
	dispatcher := gateway.NewDispatcher(log.Logger)
	dispatcher.Bind(gateway.Collaborators{
		Memberships: memberRepo,
		Inbound:     gateway.NewInboundRouter(dispatcher, channelRepo, presenceStore, log.Logger),
	})

	dispatchCtx, dispatchCancel := context.WithCancel(ctx)
	defer dispatchCancel()
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		if err := dispatcher.Run(dispatchCtx); err != nil {
			log.Error().Err(err).Msg("Dispatcher stopped")
		}
	}()

	gw := gateway.NewGateway(dispatcher, authService, onboarding, presenceStore, cfg.GatewayHeartbeatInterval, log.Logger)

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName: "Parley",
		// ErrorHandler catches errors returned by handlers that are not already mapped to structured API responses
		// (e.g. Fiber's built-in 404/405). errors.AsType is a generic helper added in Go 1.26.
		ErrorHandler: func(c fiber.Ctx, err error) error {
			status := fiber.StatusInternalServerError
			message := "An internal error occurred"
			apiCode := httputil.CodeInternal
			if e, ok := errors.AsType[*fiber.Error](err); ok {
				status = e.Code
				message = e.Message
				apiCode = fiberStatusToAPICode(e.Code)
			} else {
				log.Error().Err(err).
					Str("method", c.Method()).
					Str("path", c.Path()).
					Msg("Unhandled error")
			}
			return c.Status(status).JSON(httputil.ErrorResponse{
				Error: httputil.ErrorBody{
					Code:    apiCode,
					Message: message,
				},
			})
		},
	})

	// Global middleware
	app.Use(requestid.New())
	app.Use(httputil.RequestLogger(log.Logger))
	app.Use(cors.New(cors.Config{
		AllowOrigins:  []string{cfg.CORSAllowOrigins},
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"X-Request-ID"},
	}))

	// Global API rate limiter
	app.Use(limiter.New(limiter.Config{
		Max:        cfg.RateLimitAPIRequests,
		Expiration: time.Duration(cfg.RateLimitAPIWindowSeconds) * time.Second,
	}))

	registerRoutes(app, cfg, db, rdb, ids, dispatcher, gw, authService, onboarding, presenceStore,
		userRepo, guildRepo, channelRepo, memberRepo, messageRepo)

	// Graceful shutdown: stop accepting HTTP, flush a close frame to every session, then stop the dispatcher.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("Shutting down server")

		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := dispatcher.CloseAll(closeCtx); err != nil {
			log.Warn().Err(err).Msg("Session drain incomplete")
		}
		closeCancel()

		dispatchCancel()
		<-dispatchDone

		_ = app.Shutdown()
	}()

	// Listen
	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	log.Info().Str("addr", addr).Msg("Server listening")
	if err := app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

func registerRoutes(
	app *fiber.App,
	cfg *config.Config,
	db *pgxpool.Pool,
	rdb *redis.Client,
	ids *snowflake.Generator,
	dispatcher *gateway.Dispatcher,
	gw *gateway.Gateway,
	authService *auth.Service,
	onboarding *user.Onboarding,
	presenceStore *presence.Store,
	userRepo user.Repository,
	guildRepo guild.Repository,
	channelRepo channel.Repository,
	memberRepo member.Repository,
	messageRepo message.Repository,
) {
	health := &api.HealthHandler{DB: db, Redis: rdb}
	app.Get("/api/v1/health", health.Health)

	gatewayHandler := api.NewGatewayHandler(gw)
	app.Get("/gateway/v1", gatewayHandler.Upgrade)

	authHandler := api.NewAuthHandler(authService, log.Logger)

	// Auth routes with stricter rate limiting
	authGroup := app.Group("/api/v1/auth")
	authGroup.Use(limiter.New(limiter.Config{
		Max:        cfg.RateLimitAuthCount,
		Expiration: time.Duration(cfg.RateLimitAuthWindowSeconds) * time.Second,
	}))
	authGroup.Post("/register", authHandler.Register)
	authGroup.Post("/login", authHandler.Login)
	authGroup.Post("/refresh", authHandler.Refresh)

	// Protected routes
	protected := app.Group("/api/v1", auth.RequireAuth(cfg.JWTSecret, cfg.ServerURL))
	protected.Post("/auth/logout", authHandler.Logout)

	userHandler := api.NewUserHandler(userRepo, presenceStore, dispatcher, log.Logger)
	protected.Get("/users/@me", userHandler.Me)
	protected.Patch("/users/@me", userHandler.UpdateMe)
	protected.Patch("/users/@me/presence", userHandler.UpdatePresence)

	guildHandler := api.NewGuildHandler(guildRepo, memberRepo, channelRepo, ids, dispatcher, cfg.MaxGuildsPerUser, log.Logger)
	protected.Get("/guilds", guildHandler.ListGuilds)
	protected.Post("/guilds", guildHandler.CreateGuild)
	protected.Get("/guilds/:guildID", guildHandler.GetGuild)
	protected.Patch("/guilds/:guildID", guildHandler.UpdateGuild)
	protected.Delete("/guilds/:guildID", guildHandler.DeleteGuild)

	channelHandler := api.NewChannelHandler(channelRepo, guildRepo, memberRepo, ids, dispatcher, cfg.MaxChannelsPerGuild, log.Logger)
	protected.Get("/guilds/:guildID/channels", channelHandler.ListChannels)
	protected.Post("/guilds/:guildID/channels", channelHandler.CreateChannel)
	protected.Delete("/channels/:channelID", channelHandler.DeleteChannel)

	memberHandler := api.NewMemberHandler(memberRepo, guildRepo, channelRepo, dispatcher, log.Logger)
	protected.Get("/guilds/:guildID/members", memberHandler.ListMembers)
	protected.Put("/guilds/:guildID/members/@me", memberHandler.Join)
	protected.Delete("/guilds/:guildID/members/:userID", memberHandler.Leave)

	messageHandler := api.NewMessageHandler(messageRepo, channelRepo, ids, dispatcher, cfg.MaxMessageLength, log.Logger)
	protected.Get("/channels/:channelID/messages", messageHandler.ListMessages)
	protected.Post("/channels/:channelID/messages", messageHandler.CreateMessage)
	protected.Patch("/channels/:channelID/messages/:messageID", messageHandler.EditMessage)
	protected.Delete("/channels/:channelID/messages/:messageID", messageHandler.DeleteMessage)

	typingHandler := api.NewTypingHandler(channelRepo, presenceStore, dispatcher, log.Logger)
	protected.Post("/channels/:channelID/typing", typingHandler.StartTyping)

	readStateHandler := api.NewReadStateHandler(onboarding, log.Logger)
	protected.Post("/channels/:channelID/ack", readStateHandler.Ack)
}

// fiberStatusToAPICode maps an HTTP status code from Fiber's built-in errors (404, 405, etc.) to the closest API
// error code.
func fiberStatusToAPICode(status int) httputil.Code {
	switch {
	case status == fiber.StatusNotFound:
		return httputil.CodeNotFound
	case status == fiber.StatusTooManyRequests:
		return httputil.CodeRateLimited
	case status >= 400 && status < 500:
		return httputil.CodeBadRequest
	default:
		return httputil.CodeInternal
	}
}
