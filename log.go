package main

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/lectern/internal/config"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/viper"
)

// logFile receives the log and, when enabled, stdout traces.
var logFile io.Writer = io.Discard

func getLogFilePath() (string, error) {
	return gap.NewScope(gap.User, config.AppName).DataPath(config.AppName + ".log")
}

// setupLog sends the default logger to a file, since the terminal belongs
// to the TUI.
func setupLog() (func() error, error) {
	log.SetOutput(io.Discard)

	logFilePath, err := getLogFilePath()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(logFilePath), 0o755); err != nil { //nolint:gosec
		// log disabled
		return func() error { return nil }, nil
	}
	f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644) //nolint:gosec
	if err != nil {
		// log disabled
		return func() error { return nil }, nil
	}
	logFile = f

	logger := log.NewWithOptions(f, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
		Prefix:          config.AppName,
	})
	if viper.GetBool("debug") || os.Getenv("LECTERN_DEBUG") != "" {
		logger.SetLevel(log.DebugLevel)
	}
	log.SetDefault(logger)
	return f.Close, nil
}
