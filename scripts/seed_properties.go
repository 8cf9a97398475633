package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"beds4crew/internal/database"
	"beds4crew/internal/models"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type PropertiesConfig struct {
	Properties []models.Property `yaml:"properties"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	var (
		propertiesPath = flag.String("properties", "configs/properties.yaml", "path to properties.yaml")
		dbPath         = flag.String("db", "./data/beds.db", "path to sqlite db")
		deactivate     = flag.Int64("deactivate", 0, "deactivate the property with this id instead of seeding")
	)
	flag.Parse()

	db, err := database.NewDB(*dbPath, &logger)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if *deactivate > 0 {
		if err := db.DeactivateProperty(ctx, *deactivate); err != nil {
			return fmt.Errorf("deactivate %d: %w", *deactivate, err)
		}
		fmt.Printf("done: property %d deactivated\n", *deactivate)
		return nil
	}

	data, err := os.ReadFile(*propertiesPath)
	if err != nil {
		return fmt.Errorf("read properties: %w", err)
	}
	var cfg PropertiesConfig
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse properties: %w", err)
	}
	if len(cfg.Properties) == 0 {
		return fmt.Errorf("no properties in yaml")
	}

	created, err := db.SeedProperties(ctx, cfg.Properties)
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	fmt.Printf("done: created=%d skipped=%d\n", created, len(cfg.Properties)-created)
	return nil
}
