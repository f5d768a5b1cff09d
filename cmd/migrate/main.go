package main

import (
	"log"
	"os"
	"strconv"

	"clinic-scheduling/migrations"
	"clinic-scheduling/pkg/database"
	"clinic-scheduling/pkg/utils"
)

// usage: migrate [up|down|force <version>]
func main() {
	config, err := utils.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	migrator, err := database.NewMigrator(config.Database.DSN(), migrations.FS)
	if err != nil {
		log.Fatalf("Failed to init migrator: %v", err)
	}
	defer migrator.Close()

	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch command {
	case "up":
		err = migrator.Up()
	case "down":
		err = migrator.Down()
	case "force":
		if len(os.Args) < 3 {
			log.Fatal("force requires a version")
		}
		version, convErr := strconv.Atoi(os.Args[2])
		if convErr != nil {
			log.Fatalf("invalid version: %v", convErr)
		}
		err = migrator.Force(version)
	default:
		log.Fatalf("unknown command %q", command)
	}

	if err != nil {
		log.Fatalf("migrate %s: %v", command, err)
	}

	log.Printf("migrate %s complete", command)
}
