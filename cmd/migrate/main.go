package main

import (
	"flag"
	"log"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/gec682416/onchain-random-game/pkg/config"
)

func main() {
	var command, configFile, dir string
	var steps int
	flag.StringVar(&command, "cmd", "up", "Command to run: up, down, steps, version")
	flag.StringVar(&configFile, "config", "", "path to config.yaml")
	flag.StringVar(&dir, "dir", "migrations", "migrations root, one sub directory per driver")
	flag.IntVar(&steps, "n", 1, "number of steps for -cmd steps (negative to roll back)")
	flag.Parse()

	// 加载配置
	config.Init(configFile)
	db := config.Global.DB
	driver := db.Driver
	if driver == "" {
		driver = "sqlite"
	}

	m, err := migrate.New("file://"+dir+"/"+driver, db.MigrateURL())
	if err != nil {
		log.Fatalf("Migration init failed: %v", err)
	}
	defer m.Close()

	switch command {
	case "up":
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			log.Fatalf("Migration up failed: %v", err)
		}
		log.Println("Migration up done")
	case "down":
		if err := m.Down(); err != nil && err != migrate.ErrNoChange {
			log.Fatalf("Migration down failed: %v", err)
		}
		log.Println("Migration down done")
	case "steps":
		if err := m.Steps(steps); err != nil {
			log.Fatalf("Migration steps failed: %v", err)
		}
		log.Printf("Migrated %d steps", steps)
	case "version":
		v, dirty, err := m.Version()
		if err != nil && err != migrate.ErrNilVersion {
			log.Fatalf("Read version failed: %v", err)
		}
		log.Printf("Version %d (dirty=%t)", v, dirty)
	default:
		log.Fatalf("Unknown command: %s", command)
	}
}
