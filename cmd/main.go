package main

import (
	"familytree-service/internal/handler"
	"familytree-service/internal/middleware"
	"familytree-service/pkg/config"
	"familytree-service/pkg/database"
	"familytree-service/pkg/jwtutil"
	"familytree-service/pkg/logger"
	"familytree-service/prometheus"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
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
	log.Info("Starting family tree service...", zap.String("environment", cfg.Server.Env))

	// Initialize database (migrates the schema and installs the policy
	// enforcement plugin)
	if err := database.InitDB(cfg); err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	log.Info("Database connection established and migrations completed")

	// Initialize JWT with configuration
	jwtutil.Initialize(&cfg.JWT)

	// Initialize handlers with configuration
	handler.Init(cfg)

	// Initialize Prometheus metrics
	prometheus.InitMetrics(cfg)
	log.Info("Prometheus metrics initialized")

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
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Authentication and onboarding routes
	auth := e.Group("/auth")
	auth.POST("/superadmin/login", handler.SuperAdminLogin)
	auth.POST("/admin/register", handler.AdminRegister)
	auth.POST("/admin/login", handler.AdminLogin)
	auth.POST("/member/login", handler.MemberLogin)
	auth.GET("/requests/:id/status", handler.RequestStatus)

	// Protected API routes - all require a valid token and a resolved
	// requester
	api := e.Group("/api")
	api.Use(middleware.AuthMiddleware)

	// Onboarding review - super admin only
	requests := api.Group("/onboarding/requests", middleware.RequireSuperAdmin)
	requests.GET("", handler.ListPendingRequests)
	requests.POST("/:id/approve", handler.ApproveRequest)
	requests.POST("/:id/reject", handler.RejectRequest)

	// User accounts
	api.GET("/users/me", handler.GetMe)
	api.POST("/users", handler.CreateUser)
	api.GET("/users", handler.ListUsers)
	api.GET("/users/:id", handler.GetUser)
	api.PATCH("/users/:id", handler.UpdateUser)
	api.DELETE("/users/:id", handler.DeleteUser)

	// Families
	api.GET("/families", handler.ListFamilies)
	api.GET("/families/:id", handler.GetFamily)
	api.PATCH("/families/:id", handler.UpdateFamily)
	api.DELETE("/families/:id", handler.DeleteFamily)
	api.GET("/families/:id/users", handler.ListFamilyUsers)

	// Family tree members
	api.POST("/families/:id/members", handler.CreateMember)
	api.GET("/families/:id/members", handler.ListMembers)
	api.GET("/members/:id", handler.GetMember)
	api.PATCH("/members/:id", handler.UpdateMember)
	api.DELETE("/members/:id", handler.DeleteMember)

	// Start server
	port := cfg.Server.Port
	log.Info("Starting server", zap.String("port", port))
	if err := e.Start(":" + port); err != nil {
		log.Fatal("Failed to start server", zap.Error(err))
	}
}
