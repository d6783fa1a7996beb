package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/euvatease/api/internal/database"
	"github.com/euvatease/api/internal/logger"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	dbURL := flag.String("db", "", "Database URL")
	steps := flag.Int("steps", 0, "Number of steps (only for down)")
	flag.Parse()

	lg, err := logger.New("info")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = lg.Sync() }()

	if *dbURL == "" {
		*dbURL = os.Getenv("VATEASE_DATABASE_URL")
	}
	if *dbURL == "" {
		*dbURL = os.Getenv("DATABASE_URL")
	}
	if *dbURL == "" {
		lg.Fatal("Database URL is required: use -db or VATEASE_DATABASE_URL")
	}

	switch *direction {
	case "up":
		if err := database.Migrate(*dbURL); err != nil {
			lg.Fatal("Migration up failed", zap.Error(err))
		}
		lg.Info("Migrations applied")
	case "down":
		if *steps <= 0 {
			*steps = 1
		}
		for i := range *steps {
			if err := database.MigrateDown(*dbURL); err != nil {
				lg.Fatal("Migration down failed", zap.Int("step", i+1), zap.Error(err))
			}
		}
		lg.Info("Migrations rolled back", zap.Int("steps", *steps))
	default:
		lg.Fatal("Unknown direction, use up or down", zap.String("direction", *direction))
	}
}
