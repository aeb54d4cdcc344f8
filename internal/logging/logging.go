// Package logging configures logrus output and server log rotation.
package logging

import (
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tokenrouter/tokenrouter/internal/config"
)

// serverLogFile is the base name of the rotated server log.
const serverLogFile = "tokenrouter.log"

// Setup configures the global logrus logger from config. Logs are written to
// stdout and to a rotating file in the configured directory; the admin
// server-log endpoints read back the same directory.
func Setup(cfg config.LoggingConfig) error {
	level, errParse := log.ParseLevel(cfg.Level)
	if errParse != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	dir := cfg.Directory
	if dir == "" {
		log.SetOutput(os.Stdout)
		return nil
	}
	if errMkdir := os.MkdirAll(dir, 0o755); errMkdir != nil {
		return errMkdir
	}

	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(dir, serverLogFile),
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   false,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, rotator))
	return nil
}
