package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jbrannan/flowgate/internal/config"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	once    sync.Once
	root    zerolog.Logger
)

// LogPath returns the path of the rotated log file under the configured
// state directory, creating the logs directory if needed.
func LogPath() string {
	cfg := config.Get()
	logsDir := filepath.Join(cfg.StatePath, "logs")
	if _, err := os.Stat(logsDir); os.IsNotExist(err) {
		if err := os.MkdirAll(logsDir, 0o755); err != nil {
			panic(fmt.Sprintf("failed to create logs directory: %v", err))
		}
	}
	return filepath.Join(logsDir, "flowgate.log")
}

// New returns a component-scoped logger writing to stdout and to a rotated
// file on disk. Every line is prefixed with the component name.
func New(component string) zerolog.Logger {
	level := config.Get().LogLevel

	rotating := &lumberjack.Logger{
		Filename: LogPath(),
		MaxSize:  10,
		MaxAge:   15,
		Compress: true,
	}

	console := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "2006-01-02 15:04:05",
		FormatLevel: func(i interface{}) string {
			var color string
			switch strings.ToLower(fmt.Sprintf("%s", i)) {
			case "debug":
				color = "\033[36m"
			case "info":
				color = "\033[32m"
			case "warn":
				color = "\033[33m"
			case "error":
				color = "\033[31m"
			case "fatal":
				color = "\033[35m"
			case "panic":
				color = "\033[41m"
			default:
				color = "\033[37m"
			}
			return fmt.Sprintf("%s| %-6s|\033[0m", color, strings.ToUpper(fmt.Sprintf("%s", i)))
		},
		FormatMessage: func(i interface{}) string {
			return fmt.Sprintf("[%s] %v", component, i)
		},
	}

	file := zerolog.ConsoleWriter{
		Out:     rotating,
		NoColor: true,
		FormatLevel: func(i interface{}) string {
			return strings.ToUpper(fmt.Sprintf("| %-6s|", i))
		},
		FormatMessage: func(i interface{}) string {
			return fmt.Sprintf("[%s] %v", component, i)
		},
	}

	l := zerolog.New(zerolog.MultiLevelWriter(console, file)).
		With().
		Timestamp().
		Logger().
		Level(zerolog.InfoLevel)

	switch strings.ToLower(level) {
	case "debug":
		l = l.Level(zerolog.DebugLevel)
	case "warn":
		l = l.Level(zerolog.WarnLevel)
	case "error":
		l = l.Level(zerolog.ErrorLevel)
	case "trace":
		l = l.Level(zerolog.TraceLevel)
	default:
		l = l.Level(zerolog.InfoLevel)
	}
	return l
}

// Default returns the process-wide logger used by code that has no more
// specific component name.
func Default() zerolog.Logger {
	once.Do(func() {
		root = New("flowgate")
	})
	return root
}
