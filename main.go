package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/plantakeoff/autocount-go/cmd"
	"github.com/plantakeoff/autocount-go/internal/conf"
	"github.com/plantakeoff/autocount-go/internal/logging"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		os.Exit(1)
	}

	level := logLevel(settings)
	logging.Init(level)
	if settings.Main.LogPath != "" {
		logging.InitFileLogging(settings.Main.LogPath, level)
		defer func() {
			if err := logging.CloseFileLoggers(); err != nil {
				fmt.Fprintf(os.Stderr, "error closing log files: %v\n", err)
			}
		}()
	}
	logging.Info("autocount starting", "version", version, "name", settings.Main.Name)

	rootCmd := cmd.RootCommand(settings)
	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		logging.Fatal("command failed", "error", err)
	}
}

func logLevel(settings *conf.Settings) slog.Level {
	if settings.Debug {
		return slog.LevelDebug
	}
	switch strings.ToLower(settings.Main.LogLevel) {
	case "trace":
		return logging.LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
