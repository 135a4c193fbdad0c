package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"pantry/cmd"
	"pantry/internal/config"
	"pantry/internal/logger"
)

func main() {
	// PANTRY_ENV_FILE points at an env file outside the working directory
	envFiles := []string{".env"}
	if path := os.Getenv("PANTRY_ENV_FILE"); path != "" {
		envFiles = []string{path}
	}
	if err := godotenv.Load(envFiles...); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: Could not load %s: %v", envFiles[0], err)
	}

	logConfig := logger.DefaultConfig()
	if cfg, err := config.Load(); err != nil {
		// Commands report the configuration error themselves
		log.Printf("Warning: Could not load configuration: %v", err)
	} else {
		logConfig = cfg.GetLoggerConfig()
	}
	if err := logger.Setup(logConfig); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	logger.WithComponent("main").Debug().Msg("Starting pantry")
	cmd.Execute()
}
