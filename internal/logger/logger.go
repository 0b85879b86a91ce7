package logger

import (
	"io"
	"log"
	"log/slog"
	"os"
	"sync"

	"github.com/marte-community/dt-engine/internal/config"
)

var (
	// Default logger writes to stderr
	std = log.New(os.Stderr, "[dt] ", log.LstdFlags)

	mu         sync.RWMutex
	out        io.Writer = os.Stderr
	level                = new(slog.LevelVar)
	jsonFormat bool
	structured = newStructured()
)

func newStructured() *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if jsonFormat {
		return slog.New(slog.NewJSONHandler(out, opts))
	}
	return slog.New(slog.NewTextHandler(out, opts))
}

// Setup applies the configured level and format and returns the
// structured logger.
func Setup(cfg *config.Config) *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	level.Set(cfg.LogLevel())
	jsonFormat = cfg.Log.Format == "json"
	structured = newStructured()
	return structured
}

func SetOutput(output io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = output
	std.SetOutput(output)
	structured = newStructured()
}

// L returns the structured logger.
func L() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return structured
}

func Debug(msg string, args ...any) { L().Debug(msg, args...) }
func Info(msg string, args ...any)  { L().Info(msg, args...) }
func Warn(msg string, args ...any)  { L().Warn(msg, args...) }
func Error(msg string, args ...any) { L().Error(msg, args...) }

func Printf(format string, v ...interface{}) {
	std.Printf(format, v...)
}

func Println(v ...interface{}) {
	std.Println(v...)
}

func Fatal(v ...interface{}) {
	std.Fatal(v...)
}

func Fatalf(format string, v ...interface{}) {
	std.Fatalf(format, v...)
}
