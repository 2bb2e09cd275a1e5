package log

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

type LogLevel int

const (
	TRACE LogLevel = 5
	DEBUG LogLevel = 10
	INFO  LogLevel = 20
	WARN  LogLevel = 30
	ERROR LogLevel = 40
)

var levelNames = map[LogLevel]string{
	TRACE: "trace",
	DEBUG: "debug",
	INFO:  "info",
	WARN:  "warn",
	ERROR: "error",
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", int(l))
}

var (
	mu       sync.RWMutex
	outputs  = make(map[LogLevel]*log.Logger)
	minLevel = TRACE
	logfile  io.Closer
)

// Init (re)initializes the package loggers. When useStdout is true, file is
// never closed by a subsequent Init call.
func Init(file *os.File, useStdout bool, level LogLevel) error {
	mu.Lock()
	defer mu.Unlock()

	if logfile != nil {
		if err := logfile.Close(); err != nil {
			return err
		}
		logfile = nil
	}
	outputs = make(map[LogLevel]*log.Logger)
	minLevel = level
	if file == nil {
		return nil
	}
	if !useStdout {
		logfile = file
	}
	setOutput(file)
	return nil
}

// SetOutput sends all levels to w without touching any previously opened
// log file. Mostly useful in tests.
func SetOutput(w io.Writer, level LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	outputs = make(map[LogLevel]*log.Logger)
	minLevel = level
	if w != nil {
		setOutput(w)
	}
}

func setOutput(w io.Writer) {
	flags := log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile
	for level, name := range levelNames {
		prefix := fmt.Sprintf("%-6s", strings.ToUpper(name))
		outputs[level] = log.New(w, prefix, flags)
	}
}

func ParseLevel(value string) (LogLevel, error) {
	switch strings.ToLower(value) {
	case "trace":
		return TRACE, nil
	case "debug":
		return DEBUG, nil
	case "info":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "err", "error":
		return ERROR, nil
	}
	return 0, fmt.Errorf("%s: invalid log level", value)
}

func ErrorLogger() *log.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if l, ok := outputs[ERROR]; ok {
		return l
	}
	return log.New(io.Discard, "", log.LstdFlags)
}

type Logger interface {
	Tracef(string, ...any)
	Debugf(string, ...any)
	Infof(string, ...any)
	Warnf(string, ...any)
	Errorf(string, ...any)
}

type logger struct {
	name      string
	calldepth int
}

// NewLogger returns a Logger which prefixes every message with [name].
// calldepth follows log.Logger.Output: 2 reports the caller of the Logger
// method.
func NewLogger(name string, calldepth int) Logger {
	return &logger{name: name, calldepth: calldepth}
}

func (l *logger) output(level LogLevel, message string, args ...any) {
	mu.RLock()
	out, ok := outputs[level]
	enabled := ok && level >= minLevel
	mu.RUnlock()
	if !enabled {
		return
	}
	if len(args) > 0 {
		message = fmt.Sprintf(message, args...)
	}
	if l.name != "" {
		message = fmt.Sprintf("[%s] %s", l.name, message)
	}
	out.Output(l.calldepth+1, message) //nolint:errcheck // we can't do anything with what we log
}

func (l *logger) Tracef(message string, args ...any) {
	l.output(TRACE, message, args...)
}

func (l *logger) Debugf(message string, args ...any) {
	l.output(DEBUG, message, args...)
}

func (l *logger) Infof(message string, args ...any) {
	l.output(INFO, message, args...)
}

func (l *logger) Warnf(message string, args ...any) {
	l.output(WARN, message, args...)
}

func (l *logger) Errorf(message string, args ...any) {
	l.output(ERROR, message, args...)
}

var root = logger{calldepth: 3}

func Tracef(message string, args ...any) {
	root.Tracef(message, args...)
}

func Debugf(message string, args ...any) {
	root.Debugf(message, args...)
}

func Infof(message string, args ...any) {
	root.Infof(message, args...)
}

func Warnf(message string, args ...any) {
	root.Warnf(message, args...)
}

func Errorf(message string, args ...any) {
	root.Errorf(message, args...)
}
