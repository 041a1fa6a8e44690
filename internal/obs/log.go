package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
)

var (
	lineLoggerOnce sync.Once
	lineLogger     *log.Logger
)

// Logger returns the process-wide line logger. All chainspace components
// write their JSON lines to stdout through it, one object per line.
func Logger() *log.Logger {
	lineLoggerOnce.Do(func() {
		lineLogger = log.New(os.Stdout, "", 0)
	})
	return lineLogger
}

// LogRequest writes one JSON log line built from the given fields.
func LogRequest(fields map[string]any) {
	line, err := json.Marshal(fields)
	if err != nil {
		Logger().Println(`{"level":"error","msg":"request log marshal failed"}`)
		return
	}
	Logger().Println(string(line))
}
