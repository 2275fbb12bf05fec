// Command seed loads the default shop catalog, and optionally demo users
// and an event, into the configured database. Re-running it updates
// items in place.
//
//	./seed -db=points.db -demo
package main

import (
	"context"
	"flag"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/campusengage/points-engine/config"
	"github.com/campusengage/points-engine/logging"
	"github.com/campusengage/points-engine/seed"
	"github.com/campusengage/points-engine/store"
)

func main() {
	configPath := flag.String("config", "", "YAML config file")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	demo := flag.Bool("demo", false, "also create demo users, an event and a pending submission")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	log := logging.New(cfg.Logging)

	st, err := store.Open(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	res, err := seed.SeedShop(ctx, st, seed.ShopCatalog(), log)
	if err != nil {
		log.Fatalf("Seeding shop failed: %v", err)
	}
	log.WithFields(logrus.Fields{"created": res.Created, "updated": res.Updated}).Info("shop seeded")

	if *demo {
		if err := seed.SeedDemo(ctx, st, time.Now()); err != nil {
			log.Fatalf("Seeding demo data failed: %v", err)
		}
		log.WithField("users", len(seed.DemoUsers())).Info("demo data seeded")
	}
}
