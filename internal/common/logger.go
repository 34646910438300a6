package common

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"
)

// LogFileName is the file written under logging.dir when "file" output is on
const LogFileName = "vista.log"

var (
	globalLogger arbor.ILogger
	loggerMutex  sync.Mutex
)

// GetLogger returns the logger set by InitLogger, or a plain console logger
// for errors raised before configuration is loaded.
func GetLogger() arbor.ILogger {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()
	if globalLogger == nil {
		globalLogger = arbor.NewLogger().WithConsoleWriter(writerConfig(models.LogWriterTypeConsole, LoggingConfig{TimeFormat: "15:04:05"}))
	}
	return globalLogger
}

// InitLogger builds the logger from the [logging] section and makes it the
// global logger. Lines are logfmt unless logging.json is set. The file writer
// rotates at logging.max_size_mb.
func InitLogger(config *Config) arbor.ILogger {
	cfg := config.Logging
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = "15:04:05.000"
	}

	logger := arbor.NewLogger()
	for _, output := range cfg.Output {
		switch output {
		case "stdout", "console":
			logger = logger.WithConsoleWriter(writerConfig(models.LogWriterTypeConsole, cfg))
		case "file":
			dir := cfg.Dir
			if dir == "" {
				dir = "logs"
			}
			if err := os.MkdirAll(dir, 0755); err != nil {
				fmt.Fprintf(os.Stderr, "vista: file logging disabled, cannot create %s: %v\n", dir, err)
				continue
			}
			wc := writerConfig(models.LogWriterTypeFile, cfg)
			wc.FileName = filepath.Join(dir, LogFileName)
			logger = logger.WithFileWriter(wc)
		}
	}
	logger = logger.WithLevelFromString(cfg.Level)

	loggerMutex.Lock()
	globalLogger = logger
	loggerMutex.Unlock()
	return logger
}

func writerConfig(kind models.LogWriterType, cfg LoggingConfig) models.WriterConfiguration {
	wc := models.WriterConfiguration{
		Type:       kind,
		TimeFormat: cfg.TimeFormat,
		OutputType: models.OutputFormatLogfmt,
	}
	if cfg.JSON {
		wc.OutputType = models.OutputFormatJSON
	}
	if kind == models.LogWriterTypeFile {
		wc.MaxSize = int64(max(cfg.MaxSizeMB, 1)) * 1024 * 1024
		wc.MaxBackups = max(cfg.MaxBackups, 0)
	}
	return wc
}
