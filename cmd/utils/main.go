package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/aquamarinepk/aqm"

	"github.com/workshopkit/workshop/cmd/utils/internal/commands"
)

const (
	appName    = "workshop-utils"
	appVersion = "0.1.0"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	var owner string
	if command == "clear-drafts" && len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		owner, args = args[0], args[1:]
	}

	// Same keys as the workshop service, read from the WORKSHOP namespace
	config, err := aqm.LoadConfig("WORKSHOP", args)
	if err != nil {
		log.Fatalf("Cannot load config: %v", err)
	}

	logLevel, _ := config.GetString("log.level")
	if logLevel == "" {
		logLevel = "info"
	}
	logger := aqm.NewLogger(logLevel)

	ctx := context.Background()
	target := commands.TargetFromConfig(config)

	switch command {
	case "list-drafts":
		drafts, err := commands.ListDrafts(ctx, target, logger)
		if err != nil {
			log.Fatalf("List drafts failed: %v", err)
		}
		for _, d := range drafts {
			fmt.Printf("%-24s %6d bytes  %s\n", d.Owner, d.Bytes, d.UpdatedAt.Format("2006-01-02 15:04:05"))
		}

	case "clear-drafts":
		removed, err := commands.ClearDrafts(ctx, target, owner, logger)
		if err != nil {
			log.Fatalf("Clear drafts failed: %v", err)
		}
		fmt.Printf("removed %d draft(s)\n", removed)

	case "reset-db":
		if err := commands.ResetDB(ctx, target, logger); err != nil {
			log.Fatalf("Database reset failed: %v", err)
		}
		logger.Info("Database reset completed successfully")

	case "version":
		fmt.Printf("%s version %s\n", appName, appVersion)

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`%s - Workshop maintenance commands

Usage:
  %s <command> [options]

Commands:
  list-drafts            List stored job card drafts
  clear-drafts [owner]   Remove the draft of owner, or every draft
  reset-db               Drop all draft storage (USE WITH CAUTION)
  version                Print version information
  help                   Show this help message

Environment Variables:
  WORKSHOP_DRAFTS_BACKEND       sqlite or mongo (default: sqlite)
  WORKSHOP_DRAFTS_SQLITE_PATH   SQLite file (default: workshop-drafts.db)
  WORKSHOP_DB_MONGO_URL         MongoDB connection URL (default: mongodb://localhost:27017)
  WORKSHOP_DB_MONGO_NAME        MongoDB database (default: workshop)
  WORKSHOP_LOG_LEVEL            Log level: debug, info, warn, error (default: info)

Examples:
  %s list-drafts
  %s clear-drafts u-42
  WORKSHOP_DRAFTS_BACKEND=mongo %s reset-db

`, appName, appName, appName, appName, appName)
}
