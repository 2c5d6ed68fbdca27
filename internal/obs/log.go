package obs

import (
	"encoding/json"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Level orders log severities.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[Level]string{
	LevelDebug: "debug",
	LevelInfo:  "info",
	LevelWarn:  "warn",
	LevelError: "error",
}

var (
	loggerOnce sync.Once
	logger     *log.Logger

	minLevel atomic.Int32
)

func init() {
	minLevel.Store(int32(LevelWarn))
}

// Logger returns the shared structured logger used across the service.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// ParseLevel maps a level name to a Level. Unknown names yield false.
func ParseLevel(name string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug", "trace":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error", "crit", "critical":
		return LevelError, true
	default:
		return LevelWarn, false
	}
}

// SetLevel sets the minimum level emitted by Debug/Info/Warn/Error.
func SetLevel(l Level) {
	minLevel.Store(int32(l))
}

// Enabled reports whether entries at l are emitted.
func Enabled(l Level) bool {
	return int32(l) >= minLevel.Load()
}

func Debug(msg string, fields map[string]any) { emit(LevelDebug, msg, fields) }
func Info(msg string, fields map[string]any)  { emit(LevelInfo, msg, fields) }
func Warn(msg string, fields map[string]any)  { emit(LevelWarn, msg, fields) }
func Error(msg string, fields map[string]any) { emit(LevelError, msg, fields) }

func emit(l Level, msg string, fields map[string]any) {
	if !Enabled(l) {
		return
	}
	entry := make(map[string]any, len(fields)+3)
	for k, v := range fields {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		entry[k] = v
	}
	entry["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	entry["level"] = levelNames[l]
	entry["msg"] = msg
	LogRequest(entry)
}

// LogRequest emits a structured JSON log line with common HTTP fields.
func LogRequest(entry map[string]any) {
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"ts":"error","level":"error","msg":"log marshal failed"}`)
		return
	}
	Logger().Println(string(data))
}
