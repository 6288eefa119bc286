package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"tabletop-sync/internal/config"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	writerMu sync.Mutex
	writer   io.Writer = os.Stdout
	fileOut  *rotatingWriter
)

// Init configures the global zerolog logger. When cfg.File is set, output is
// teed into a size-capped, rotated file next to stdout.
func Init(cfg config.LogConfig) error {
	level := zerolog.InfoLevel
	if v := strings.TrimSpace(cfg.Level); v != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(v)); err == nil {
			level = parsed
		}
	}

	var raw io.Writer = os.Stdout
	if cfg.File != "" {
		fw, err := newRotatingWriter(cfg.File, cfg.MaxMB, cfg.KeepBackup)
		if err != nil {
			return err
		}
		writerMu.Lock()
		if fileOut != nil {
			_ = fileOut.Close()
		}
		fileOut = fw
		writerMu.Unlock()
		raw = io.MultiWriter(os.Stdout, fw)
	}
	writerMu.Lock()
	writer = raw
	writerMu.Unlock()

	output := raw
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: raw}
	}

	zerolog.SetGlobalLevel(level)
	logger := zerolog.New(output).With().Timestamp().Logger()
	if cfg.SampleEvery > 1 {
		logger = logger.Sample(&zerolog.BasicSampler{N: uint32(cfg.SampleEvery)})
	}
	log.Logger = logger
	return nil
}

// Writer is the raw sink chosen by Init, for loggers outside zerolog such as
// the HTTP access log.
func Writer() io.Writer {
	writerMu.Lock()
	defer writerMu.Unlock()
	return writer
}

// Close releases the log file, if any.
func Close() error {
	writerMu.Lock()
	defer writerMu.Unlock()
	writer = os.Stdout
	if fileOut == nil {
		return nil
	}
	err := fileOut.Close()
	fileOut = nil
	return err
}
