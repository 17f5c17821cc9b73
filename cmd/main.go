package main

import (
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/speymell/crmbot/internal/booking"
	"github.com/speymell/crmbot/internal/bot"
	"github.com/speymell/crmbot/internal/handler"
	"github.com/speymell/crmbot/internal/middleware"
	"github.com/speymell/crmbot/internal/notify"
	"github.com/speymell/crmbot/internal/permission"
	"github.com/speymell/crmbot/pkg/config"
	"github.com/speymell/crmbot/pkg/database"
	"github.com/speymell/crmbot/pkg/jwtutil"
	"github.com/speymell/crmbot/pkg/logger"
	"github.com/speymell/crmbot/prometheus"
)

func main() {
	// Load configuration from .env file and environment variables
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger with config
	logger.InitLogger(cfg)
	log := logger.GetLogger()
	log.Info("Starting crmbot service...", zap.String("environment", cfg.Server.Env))

	// Initialize database
	dbConfig := database.DBConfig{
		DSN:             cfg.DB.GetDSN(),
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
		LogLevel:        cfg.DB.LogLevel,
	}
	if err := database.Initialize(dbConfig); err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	log.Info("Database connection established")

	// Initialize JWT utility
	jwtutil.Initialize(&cfg.JWT)
	log.Info("JWT utility initialized")

	// Bot channel plumbing: one registry of API clients, one in-memory
	// conversation store, one booking flow shared by every tenant.
	registry := bot.NewRegistry(cfg.Bot.APIBaseURL)
	store := booking.NewStore()
	flow := booking.NewFlow(database.GetDB(), store, cfg.Bot.ReminderLead)
	bots := handler.NewBotHandler(registry, flow, &cfg.Bot)

	// Reminder scheduler
	scheduler := notify.NewScheduler(database.GetDB(), registry, log)
	if err := scheduler.Start(); err != nil {
		log.Fatal("Failed to start notification scheduler", zap.Error(err))
	}
	defer scheduler.Stop()
	log.Info("Notification scheduler started")

	// Initialize Echo framework
	e := echo.New()

	// Apply global middleware - order matters
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	e.Use(middleware.RequestIDMiddleware)
	e.Use(logger.Middleware(log))
	e.Use(prometheus.MetricsMiddleware())

	// Public routes - no authentication required
	e.GET("/health", handler.HealthCheck)
	e.GET("/metrics", echo.WrapHandler(prometheus.GetPrometheusHandler()))

	// Telegram delivers updates here; the raw token in the path is the
	// only credential.
	e.POST("/webhook/:token", bots.Webhook)

	// Authentication routes, rate limited against credential stuffing
	auth := e.Group("/auth")
	auth.Use(echomiddleware.RateLimiter(echomiddleware.NewRateLimiterMemoryStore(rate.Limit(5))))
	auth.POST("/register", handler.Register)
	auth.POST("/login", handler.Login)

	// API routes - all require authentication
	api := e.Group("/api")
	api.Use(middleware.Authenticate)

	// User management
	users := api.Group("/users")
	users.GET("", handler.ListUsers, middleware.RequirePermission(permission.UsersWrite))
	users.POST("", handler.CreateUser, middleware.RequirePermission(permission.UsersWrite))
	users.PATCH("/:id", handler.UpdateUser, middleware.RequirePermission(permission.UsersWrite))
	users.GET("/:id/permissions", handler.GetUserPermissions)
	users.PUT("/:id/permissions", handler.PutUserPermissions, middleware.RequirePermission(permission.UsersWrite))

	// Service catalog
	services := api.Group("/services")
	services.GET("", handler.ListServices, middleware.RequirePermission(permission.ServicesRead))
	services.POST("", handler.CreateService, middleware.RequirePermission(permission.ServicesWrite))
	services.PATCH("/:id", handler.UpdateService, middleware.RequirePermission(permission.ServicesWrite))
	services.DELETE("/:id", handler.DeleteService, middleware.RequirePermission(permission.ServicesWrite))

	// Masters
	masters := api.Group("/masters")
	masters.GET("", handler.ListMasters, middleware.RequirePermission(permission.MastersRead))
	masters.POST("", handler.CreateMaster, middleware.RequirePermission(permission.MastersWrite))
	masters.PATCH("/:id", handler.UpdateMaster, middleware.RequirePermission(permission.MastersWrite))

	// Appointments
	appointments := api.Group("/appointments")
	appointments.GET("", handler.ListAppointments, middleware.RequirePermission(permission.AppointmentsRead))
	appointments.POST("", handler.CreateAppointment, middleware.RequirePermission(permission.AppointmentsWrite))
	appointments.PATCH("/:id", handler.UpdateAppointment, middleware.RequirePermission(permission.AppointmentsWrite))

	// Clients
	clients := api.Group("/clients")
	clients.GET("", handler.ListClients, middleware.RequirePermission(permission.ClientsRead))
	clients.GET("/:id", handler.GetClient, middleware.RequirePermission(permission.ClientsRead))
	clients.PATCH("/:id", handler.UpdateClient, middleware.RequirePermission(permission.ClientsWrite))
	clients.GET("/:id/history", handler.ClientHistory, middleware.RequirePermission(permission.ClientsRead))

	// Finance
	transactions := api.Group("/transactions")
	transactions.GET("", handler.ListTransactions, middleware.RequirePermission(permission.FinanceRead))
	transactions.POST("", handler.CreateTransaction, middleware.RequirePermission(permission.FinanceWrite))
	api.GET("/analytics/finance", handler.FinanceSummary, middleware.RequirePermission(permission.FinanceRead))
	api.GET("/analytics/occupancy", handler.Occupancy, middleware.RequirePermission(permission.AppointmentsRead))

	// Chat
	chats := api.Group("/chat")
	chats.GET("/threads", handler.ListChatThreads, middleware.RequirePermission(permission.ChatRead))
	chats.GET("/threads/:id/messages", handler.ListChatMessages, middleware.RequirePermission(permission.ChatRead))
	chats.POST("/send", bots.SendMessage, middleware.RequirePermission(permission.ChatWrite))

	// Bot and business settings
	api.POST("/bot/token", bots.SetToken, middleware.RequirePermission(permission.BotsWrite))
	api.GET("/modules", handler.GetModules)
	api.PUT("/modules", handler.PutModules, middleware.RequirePermission(permission.UsersWrite))

	// Start server
	port := cfg.Server.Port
	log.Info("Starting server", zap.String("port", port))
	if err := e.Start(":" + port); err != nil {
		log.Fatal("Failed to start server", zap.Error(err))
	}
}
