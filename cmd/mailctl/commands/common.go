package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/unclebandit/mailflow-backend/internal/app"
	"github.com/unclebandit/mailflow-backend/internal/config"
	"github.com/unclebandit/mailflow-backend/internal/logger"
)

// loadConfig reads configuration and applies global flag overrides.
func loadConfig() (*config.Config, *logrus.Logger) {
	cfg := config.Load()
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, logger.InitLogger(cfg.LogLevel)
}

// openApp wires the full application.
func openApp() (*app.App, error) {
	cfg, log := loadConfig()
	return app.New(cfg, log)
}

// render writes v as indented JSON when --format=json, otherwise calls text.
func render(w io.Writer, v interface{}, text func(io.Writer)) error {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "text", "":
		text(w)
		return nil
	default:
		return fmt.Errorf("unknown format %q", outputFormat)
	}
}
