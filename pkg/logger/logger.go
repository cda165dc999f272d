package logger

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "INFO"
	}
}

// ParseLevel maps a config string to a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

var (
	mu    sync.Mutex
	level = INFO
	out   io.Writer = os.Stderr
)

func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	level = l
}

// SetOutput redirects log output, used by tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

func logC(l Level, component, msg string, fields map[string]interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if l < level {
		return
	}

	var b strings.Builder
	b.WriteString(time.Now().Format("2006-01-02 15:04:05"))
	b.WriteString(" ")
	b.WriteString(l.String())
	b.WriteString(" [")
	b.WriteString(component)
	b.WriteString("] ")
	b.WriteString(msg)

	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, fields[k])
		}
	}
	b.WriteString("\n")

	io.WriteString(out, b.String())
}

func DebugC(component, msg string) { logC(DEBUG, component, msg, nil) }
func InfoC(component, msg string)  { logC(INFO, component, msg, nil) }
func WarnC(component, msg string)  { logC(WARN, component, msg, nil) }
func ErrorC(component, msg string) { logC(ERROR, component, msg, nil) }

func DebugCF(component, msg string, fields map[string]interface{}) {
	logC(DEBUG, component, msg, fields)
}

func InfoCF(component, msg string, fields map[string]interface{}) {
	logC(INFO, component, msg, fields)
}

func WarnCF(component, msg string, fields map[string]interface{}) {
	logC(WARN, component, msg, fields)
}

func ErrorCF(component, msg string, fields map[string]interface{}) {
	logC(ERROR, component, msg, fields)
}
