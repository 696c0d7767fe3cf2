package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

const maxBufferedLines = 1000

// LogBuffer captures logs in memory
type LogBuffer struct {
	lines []string
	limit int
	mu    sync.Mutex
}

// NewLogBuffer keeps at most limit lines; limit <= 0 uses 1000.
func NewLogBuffer(limit int) *LogBuffer {
	if limit <= 0 {
		limit = maxBufferedLines
	}
	return &LogBuffer{
		lines: make([]string, 0, limit),
		limit: limit,
	}
}

func (lb *LogBuffer) Write(p []byte) (n int, err error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.lines = append(lb.lines, strings.TrimRight(string(p), "\n"))

	if len(lb.lines) > lb.limit {
		lb.lines = lb.lines[len(lb.lines)-lb.limit:]
	}

	return len(p), nil
}

// GetLogs returns a copy of the buffered lines, oldest first.
func (lb *LogBuffer) GetLogs() []string {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	logs := make([]string, len(lb.lines))
	copy(logs, lb.lines)
	return logs
}

// Setup points the standard logrus logger at stdout and buf.
func Setup(level, format string, buf *LogBuffer) {
	var out io.Writer = os.Stdout
	if buf != nil {
		out = io.MultiWriter(os.Stdout, buf)
	}
	logrus.SetOutput(out)

	if strings.EqualFold(format, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logrus.Warnf("Unknown log level %q, falling back to info", level)
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
}
