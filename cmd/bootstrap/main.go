package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/joho/godotenv"

	"github.com/platformbuilds/authz-core/internal/config"
	"github.com/platformbuilds/authz-core/internal/repo/postgres"
	"github.com/platformbuilds/authz-core/internal/services"
	"github.com/platformbuilds/authz-core/pkg/logger"
)

// Seeds the system permission catalog, the administrator role, and
// optionally a superadmin profile. Safe to run on every deploy.
func main() {
	superadminExternalID := flag.String("superadmin-external-id", "", "gateway subject to promote to superadmin")
	superadminName := flag.String("superadmin-name", "System Administrator", "full name for a newly created superadmin profile")
	superadminEmail := flag.String("superadmin-email", "", "email for a newly created superadmin profile")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logg := logger.New(cfg.LogLevel)
	logg.Info("AUTHZ-CORE bootstrap starting", "environment", cfg.Environment)

	db, err := postgres.Connect(cfg.Database)
	if err != nil {
		logg.Fatal("Failed to connect to Postgres", "error", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		logg.Fatal("Failed to run migrations", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	bootstrap := services.NewBootstrapService(
		db,
		postgres.NewPermissionRepository(db.Gorm),
		postgres.NewRoleRepository(db.Gorm),
		postgres.NewUserRepository(db.Gorm),
		logg,
	)

	if err := bootstrap.Seed(ctx); err != nil {
		logg.Fatal("Seeding failed", "error", err)
	}
	if *superadminExternalID != "" {
		if _, err := bootstrap.EnsureSuperadmin(ctx, *superadminExternalID, *superadminName, *superadminEmail); err != nil {
			logg.Fatal("Superadmin setup failed", "error", err)
		}
	}

	logg.Info("AUTHZ-CORE bootstrap complete")
}
