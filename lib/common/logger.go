package common

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/lni/dragonboat/v4/logger"
)

// --------------------------------------------------------------------------
// Custom Logger (implements dragonboat's logger.ILogger)
// --------------------------------------------------------------------------

// LogOutput is where loggers created by CreateLogger write to.
var LogOutput io.Writer = os.Stdout

// dmdsLogger implements the ILogger interface with custom formatting
type dmdsLogger struct {
	name   string
	level  logger.LogLevel
	logger *log.Logger
}

func (l *dmdsLogger) SetLevel(level logger.LogLevel) {
	l.level = level
}

func (l *dmdsLogger) Debugf(format string, args ...interface{}) {
	if l.level >= logger.DEBUG {
		l.log("DEBUG", format, args...)
	}
}

func (l *dmdsLogger) Infof(format string, args ...interface{}) {
	if l.level >= logger.INFO {
		l.log("INFO", format, args...)
	}
}

func (l *dmdsLogger) Warningf(format string, args ...interface{}) {
	if l.level >= logger.WARNING {
		l.log("WARN", format, args...)
	}
}

func (l *dmdsLogger) Errorf(format string, args ...interface{}) {
	if l.level >= logger.ERROR {
		l.log("ERROR", format, args...)
	}
}

func (l *dmdsLogger) Panicf(format string, args ...interface{}) {
	if l.level >= logger.CRITICAL {
		panic(fmt.Sprintf(format, args...))
	}
}

func (l *dmdsLogger) log(levelStr string, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	l.logger.Printf("%-5s | %-15s | %s", levelStr, l.name, message)
}

// --------------------------------------------------------------------------
// Logger Factory
// --------------------------------------------------------------------------

// CreateLogger implements dragonboat's logger.Factory.
func CreateLogger(pkgName string) logger.ILogger {
	return &dmdsLogger{
		name:   pkgName,
		level:  logger.INFO,
		logger: log.New(LogOutput, "", log.Ldate|log.Ltime),
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// ParseLogLevel converts a level name (debug, info, warn, error) to a logger.LogLevel.
func ParseLogLevel(level string) (logger.LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return logger.DEBUG, nil
	case "info":
		return logger.INFO, nil
	case "warning", "warn":
		return logger.WARNING, nil
	case "error":
		return logger.ERROR, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s. must be one of debug, info, warn, error", level)
	}
}

// --------------------------------------------------------------------------
// Logger initialization
// --------------------------------------------------------------------------

var (
	// loggers of the raft library, only relevant for raft:// stores
	dragonboatLoggers = []string{"raft", "raftdb", "rsm", "transport", "dragonboat", "grpc", "util", "logdb"}
	// loggers of this module
	dmdsLoggers = []string{"sessionmap", "objstore", "admin", "cmd"}
)

// InitLoggers installs the custom logger factory and sets the level of all
// known loggers. The raft library's loggers are kept at warning level unless
// debug logging was requested.
func InitLoggers(conf ServerConfig) error {
	level, err := ParseLogLevel(conf.LogLevel)
	if err != nil {
		return err
	}

	logger.SetLoggerFactory(CreateLogger)

	raftLevel := min(level, logger.WARNING)
	if level == logger.DEBUG {
		raftLevel = logger.DEBUG
	}
	for _, name := range dragonboatLoggers {
		logger.GetLogger(name).SetLevel(raftLevel)
	}
	for _, name := range dmdsLoggers {
		logger.GetLogger(name).SetLevel(level)
	}
	return nil
}
