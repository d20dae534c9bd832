package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// ActionLog represents a single worker-handled Action: one claim, one
// dispatch, one terminal outcome. This is separate from the Op logger,
// which carries process-level daemon events.
type ActionLog struct {
	Timestamp   time.Time `json:"timestamp"`
	RequestID   int64     `json:"request_id"`
	ActionID    int64     `json:"action_id"`
	MachineID   int64     `json:"machine_id,omitempty"`
	ActionType  string    `json:"action_type"`
	Worker      string    `json:"worker"`
	DurationMs  int64     `json:"duration_ms"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
	Repetitions int       `json:"repetitions,omitempty"`
	Rearmed     bool      `json:"rearmed,omitempty"`
}

// Logger handles action logging.
type Logger struct {
	mu      sync.Mutex
	enabled bool
	file    *os.File
	console bool
}

var defaultLogger = &Logger{enabled: true, console: true}

// Default returns the default logger.
func Default() *Logger {
	return defaultLogger
}

// SetOutput sets the log output file.
func (l *Logger) SetOutput(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		l.file.Close()
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

// SetConsole enables/disables console output.
func (l *Logger) SetConsole(enabled bool) {
	l.mu.Lock()
	l.console = enabled
	l.mu.Unlock()
}

// Log writes an action log entry.
func (l *Logger) Log(entry *ActionLog) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}

	entry.Timestamp = time.Now()

	if l.console {
		status := "✓"
		if !entry.Success {
			status = "✗"
		}
		rearm := ""
		if entry.Rearmed {
			rearm = fmt.Sprintf(" [rearmed reps:%d]", entry.Repetitions)
		}
		fmt.Printf("[action] %s %s worker=%s request=%d action=%d %dms%s\n",
			status, entry.ActionType, entry.Worker, entry.RequestID, entry.ActionID, entry.DurationMs, rearm)
		if entry.Error != "" {
			fmt.Printf("[action]   error: %s\n", entry.Error)
		}
	}

	if l.file != nil {
		data, _ := json.Marshal(entry)
		l.file.Write(append(data, '\n'))
	}
}

// Close closes the log file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}
