// Command seed-shop creates or updates a shop's VAT settings and prints a
// bearer token for it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/euvatease/api/internal/auth"
	"github.com/euvatease/api/internal/config"
	"github.com/euvatease/api/internal/database"
	"github.com/euvatease/api/internal/logger"
	"github.com/euvatease/api/internal/services/shop"
	"github.com/euvatease/api/internal/storage/postgres"
)

func main() {
	cfg, err := config.LoadDev()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	lg, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = lg.Sync() }()

	fs := flag.NewFlagSet("seed-shop", flag.ExitOnError)
	id := fs.String("id", "", "Shop id, a new one is generated when empty")
	name := fs.String("name", "Demo shop", "Shop name")
	home := fs.String("home", "DE", "Home country (ISO-2)")
	oss := fs.Bool("oss", true, "Registered for the OSS scheme")
	_ = fs.Parse(os.Args[1:])

	shopID := uuid.New()
	if *id != "" {
		if shopID, err = uuid.Parse(*id); err != nil {
			lg.Fatal("Invalid shop id", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := database.Migrate(cfg.DatabaseURL); err != nil {
		lg.Fatal("Migration failed", zap.Error(err))
	}
	pool, err := database.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		lg.Fatal("Database connection failed", zap.Error(err))
	}
	defer pool.Close()

	shops := shop.NewService(postgres.NewShopRepository(pool), lg)
	sh, err := shops.Save(ctx, shop.Shop{
		ID:            shopID,
		Name:          *name,
		HomeCountry:   *home,
		OSSRegistered: *oss,
		Active:        true,
	})
	if err != nil {
		lg.Fatal("Saving shop failed", zap.Error(err))
	}

	token, err := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL).Issue(sh.ID)
	if err != nil {
		lg.Fatal("Issuing token failed", zap.Error(err))
	}
	fmt.Printf("Shop:  %s (%s, home %s, OSS %t)\nToken: %s\n", sh.ID, sh.Name, sh.HomeCountry, sh.OSSRegistered, token)
}
