package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"gorm.io/gorm"

	"github.com/jmcentee/fleethub/pkg/fleethub/assignments"
	"github.com/jmcentee/fleethub/pkg/fleethub/auth"
	"github.com/jmcentee/fleethub/pkg/fleethub/config"
	"github.com/jmcentee/fleethub/pkg/fleethub/database"
	"github.com/jmcentee/fleethub/pkg/fleethub/devices"
	"github.com/jmcentee/fleethub/pkg/fleethub/models"
	"github.com/jmcentee/fleethub/pkg/fleethub/policy"
	"github.com/jmcentee/fleethub/pkg/fleethub/users"
)

// @title FleetHub API
// @version 1.0
// @description Multi-tenant device management backend with assignment tracking.

// @host localhost:8080
// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description JWT token. Format: "Bearer {token}"

func main() {
	// .env is optional; real environments set variables directly
	_ = godotenv.Load()

	cfg, err := config.New()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.Level(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	db, err := database.Connect(cfg.Database.DSN)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := models.AutoMigrate(db); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("database migrations completed")

	if err := ensureSuperAdminExists(db, cfg.SuperAdmin); err != nil {
		slog.Error("failed to ensure super-admin exists", "error", err)
		os.Exit(1)
	}

	r := buildRouter(db, cfg)

	slog.Info("starting fleethub server", "port", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// buildRouter wires every handler onto a gin engine. Separated from
// main so integration tests can stand up the full route tree against an
// in-memory database.
func buildRouter(db *gorm.DB, cfg *config.Config) *gin.Engine {
	tokens := auth.NewTokens(cfg.JWT.Secret, cfg.JWT.TTL)
	gate := policy.NewGate(db)

	r := gin.Default()

	r.GET("/health", func(c *gin.Context) {
		dbStatus := "ok"
		if sqlDB, err := db.DB(); err != nil || sqlDB.Ping() != nil {
			dbStatus = "unreachable"
		}
		c.JSON(200, gin.H{"status": "ok", "service": "fleethub", "database": dbStatus})
	})

	api := r.Group("/api/v1")

	// Auth routes (register/login public, me/logout behind middleware)
	authHandler := auth.NewHandler(db, tokens)
	authHandler.RegisterRoutes(api.Group("/auth"))

	authed := api.Group("", auth.Middleware(tokens, db))
	admin := auth.RequireAdmin()
	superAdmin := auth.RequireSuperAdmin()

	// User management
	usersHandler := users.NewHandler(users.NewService(db), gate)
	usersGroup := authed.Group("/users")
	usersHandler.RegisterRoutes(usersGroup, admin, superAdmin)

	// Device fleet
	devicesHandler := devices.NewHandler(devices.NewService(db))
	devicesHandler.RegisterRoutes(authed.Group("/devices"), admin)

	// Assignments: both the ledger-centric routes and the user-centric
	// assign/unassign routes mounted under /users
	assignmentsHandler := assignments.NewHandler(
		assignments.NewLedger(db),
		assignments.NewOrchestrator(db),
		gate,
	)
	assignmentsHandler.RegisterRoutes(authed.Group("/assignments"), admin)
	assignmentsHandler.RegisterUserRoutes(usersGroup, admin)

	return r
}

// ensureSuperAdminExists creates the bootstrap super-admin account when
// no super-admin is present. An existing account with the configured
// email is promoted rather than duplicated.
func ensureSuperAdminExists(db *gorm.DB, cfg config.SuperAdmin) error {
	var count int64
	if err := db.Model(&models.User{}).Where("role = ?", models.RoleSuperAdmin).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	email := auth.NormalizeEmail(cfg.Email)

	var existing models.User
	err := db.Where("email = ?", email).First(&existing).Error
	if err == nil {
		if err := db.Model(&existing).Update("role", models.RoleSuperAdmin).Error; err != nil {
			return err
		}
		slog.Info("promoted existing user to super-admin", "email", email)
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	hash, err := auth.HashPassword(cfg.Password)
	if err != nil {
		return err
	}

	superAdmin := models.User{
		Email:        email,
		Name:         "Super Admin",
		PasswordHash: hash,
		Role:         models.RoleSuperAdmin,
	}
	if err := db.Create(&superAdmin).Error; err != nil {
		return err
	}

	slog.Info("created bootstrap super-admin", "email", email)
	return nil
}
