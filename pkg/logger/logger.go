package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dreschagin/screenshot-api/internal/application/port"
)

type Logger struct {
	zl    zerolog.Logger
	level Level

	mu        sync.RWMutex
	publisher port.LogPublisher
}

type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

// FileConfig включает ротацию логов в файл в дополнение к stdout.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

func New(level string) *Logger {
	return NewWithWriter(os.Stdout, level)
}

// NewWithFile пишет одновременно в stdout и в ротируемый файл.
func NewWithFile(level string, file FileConfig) *Logger {
	if strings.TrimSpace(file.Path) == "" {
		return New(level)
	}

	rotating := &lumberjack.Logger{
		Filename:   file.Path,
		MaxSize:    file.MaxSizeMB,
		MaxBackups: file.MaxBackups,
		MaxAge:     file.MaxAgeDays,
		Compress:   file.Compress,
	}

	return NewWithWriter(zerolog.MultiLevelWriter(os.Stdout, rotating), level)
}

func NewWithWriter(w io.Writer, level string) *Logger {
	lvl := parseLevel(level)
	return &Logger{
		zl:    zerolog.New(w).With().Timestamp().Logger().Level(toZerolog(lvl)),
		level: lvl,
	}
}

// SetLogPublisher дублирует записи уровня INFO и выше во внешний publisher (CloudWatch Logs).
func (l *Logger) SetLogPublisher(publisher port.LogPublisher) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.publisher = publisher
}

func parseLevel(level string) Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return DEBUG
	case "info":
		return INFO
	case "warn":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

func toZerolog(level Level) zerolog.Level {
	switch level {
	case DEBUG:
		return zerolog.DebugLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *Logger) Debug(msg string, args ...interface{}) {
	if l.level <= DEBUG {
		l.log(zerolog.DebugLevel, port.LogLevelDebug, msg, args...)
	}
}

func (l *Logger) Info(msg string, args ...interface{}) {
	if l.level <= INFO {
		l.log(zerolog.InfoLevel, port.LogLevelInfo, msg, args...)
	}
}

func (l *Logger) Warn(msg string, args ...interface{}) {
	if l.level <= WARN {
		l.log(zerolog.WarnLevel, port.LogLevelWarn, msg, args...)
	}
}

func (l *Logger) Error(msg string, err error, args ...interface{}) {
	if l.level <= ERROR {
		if err != nil {
			args = append(args, "error", err.Error())
		}
		l.log(zerolog.ErrorLevel, port.LogLevelError, msg, args...)
	}
}

func (l *Logger) log(level zerolog.Level, publishLevel port.LogLevel, msg string, args ...interface{}) {
	fields := make(map[string]interface{}, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		fields[fmt.Sprint(args[i])] = args[i+1]
	}

	l.zl.WithLevel(level).Fields(fields).Msg(msg)

	if level < zerolog.InfoLevel {
		return
	}

	l.mu.RLock()
	publisher := l.publisher
	l.mu.RUnlock()
	if publisher == nil {
		return
	}

	// Ошибки публикации не логируем, чтобы не зациклиться.
	_ = publisher.Publish(context.Background(), port.LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     publishLevel,
		Message:   msg,
		Fields:    fields,
	})
}
