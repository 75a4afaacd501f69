package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sort"

	"github.com/smukkama/geofence-server/internal/database"
	"github.com/smukkama/geofence-server/internal/engine"
	"github.com/smukkama/geofence-server/internal/seed"
	"github.com/smukkama/geofence-server/internal/state"
	"github.com/smukkama/geofence-server/pkg/config"
)

func main() {
	path := flag.String("file", "seed.yaml", "seed file to load")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	f, err := seed.Load(*path)
	if err != nil {
		log.Fatalf("Failed to read seed file: %v", err)
	}

	db, err := database.Connect(cfg.Database.ConnectionString(), cfg.Database.MaxConns)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.RunMigrations("migrations"); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// The engine validates input the same way the HTTP API does
	eng := engine.New(db, state.NewStore(nil), nil, engine.Options{})

	res, err := seed.Apply(context.Background(), eng, f)
	if err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}

	printIDs("Geofences", res.Geofences)
	printIDs("Vehicles", res.Vehicles)
	fmt.Printf("Alert rules: %d\n", len(res.AlertRules))
	fmt.Println("\n✓ Seed complete")
}

func printIDs(title string, ids map[string]string) {
	names := make([]string, 0, len(ids))
	for name := range ids {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Printf("%s:\n", title)
	for _, name := range names {
		fmt.Printf("  %-20s %s\n", name, ids[name])
	}
}
