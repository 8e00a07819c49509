package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"freespace-backend/internal/config"
)

var version = "dev"

func main() {
	var (
		port        string
		logLevel    string
		personaFile string
	)

	rootCmd := &cobra.Command{
		Use:          "freespace-server",
		Short:        "FreeSpace assistant backend",
		Long:         "Serves the student, parent, professional and coding assistant personas over HTTP.",
		Version:      version,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&personaFile, "persona-file", "", "YAML file whose personas override the built-in ones")

	loadConfig := func() (config.Config, error) {
		cfg := config.Load()
		if port != "" {
			cfg.Port = port
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		if personaFile != "" {
			cfg.PersonaFile = personaFile
		}
		if err := cfg.Validate(); err != nil {
			return cfg, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
			for _, w := range cfg.Warnings() {
				logger.Warn().Msg(w)
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
	serveCmd.Flags().StringVar(&port, "port", "", "listen port (overrides PORT)")
	serveCmd.Flags().StringVar(&logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")

	classifyCmd := &cobra.Command{
		Use:   "classify [persona] [utterance...]",
		Short: "Show how a persona classifies an utterance",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			showPrompt, _ := cmd.Flags().GetBool("prompt")
			return classifyUtterance(cmd.OutOrStdout(), cfg.PersonaFile, args[0], strings.Join(args[1:], " "), showPrompt)
		},
	}
	classifyCmd.Flags().Bool("prompt", false, "also print the composed prompt")

	rootCmd.AddCommand(serveCmd, classifyCmd)
	// Running without a subcommand serves, as the old binary did.
	rootCmd.RunE = serveCmd.RunE
	rootCmd.Flags().AddFlagSet(serveCmd.Flags())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setupLogger configures the global zerolog logger and returns it.
func setupLogger(level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var out io.Writer = os.Stderr
	if strings.EqualFold(format, "console") {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Str("service", "freespace").Logger()
	return log.Logger
}
