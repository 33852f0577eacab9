package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"autotrader/internal/app"
	"autotrader/internal/config"
	"autotrader/internal/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "configs/autotrader.yaml"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "autotrader",
		Short:         "AI-assisted trading decision and execution engine",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
	root.PersistentFlags().String("config", "", "configuration file path (env AUTOTRADER_CONFIG)")
	root.PersistentFlags().Bool("watch", true, "reload bot settings when the config file changes")

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Start the HTTP API and the trading engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and print the startup summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			fmt.Printf("config ok: market=%s clock=%s providers=%d\n",
				cfg.Market.Source, cfg.Market.Clock, len(cfg.Providers.EnabledEntries()))
			return nil
		},
	})
	return root
}

func configPath(cmd *cobra.Command) string {
	if p, _ := cmd.Flags().GetString("config"); strings.TrimSpace(p) != "" {
		return p
	}
	if p := os.Getenv("AUTOTRADER_CONFIG"); p != "" {
		return p
	}
	return defaultConfigPath
}

func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path := configPath(cmd)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("load config: %w", err)
	}
	return cfg, path, nil
}

func runServe(cmd *cobra.Command) error {
	cfg, path, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	exchangeFile, err := setupExchangeLog(cfg.App.ExchangeLogPath)
	if err != nil {
		return fmt.Errorf("open provider exchange log: %w", err)
	}
	if exchangeFile != nil {
		defer exchangeFile.Close()
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("config loaded (env=%s, path=%s)", cfg.App.Env, path)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.NewApp(cfg)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	if watch, _ := cmd.Flags().GetBool("watch"); watch {
		if err := a.Watch(ctx, path); err != nil {
			logger.Warnf("config watch disabled: %v", err)
		}
	}
	return a.Run(ctx)
}

func openAppend(path string) (*os.File, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	file, err := openAppend(trimmed)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}

func setupExchangeLog(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		logger.SetExchangeWriter(nil)
		return nil, nil
	}
	file, err := openAppend(trimmed)
	if err != nil {
		return nil, err
	}
	logger.SetExchangeWriter(file)
	return file, nil
}
