package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Shadan1221/jal-rakshak/db"
	"github.com/Shadan1221/jal-rakshak/pkg/config"
)

var (
	cfg    config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "jalrakshak",
	Short: "Jal Rakshak - river gauge field reporting",
	Long: `Jal Rakshak collects geofenced water level readings from field personnel,
stores gauge photos and lets supervisors verify or reject each reading.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Load .env file if it exists
		envErr := godotenv.Load()

		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}

		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
		slog.SetDefault(logger)

		if envErr != nil {
			logger.Debug("no .env file found, using environment variables")
		} else {
			logger.Debug("loaded configuration from .env file")
		}
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openDB() (*db.Service, error) {
	dbConfig := db.DefaultConfig()
	dbConfig.DBPath = cfg.DBPath
	dbConfig.AutoInitialize = true
	dbConfig.Logger = logger

	dbService, err := db.New(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database service: %w", err)
	}
	return dbService, nil
}
