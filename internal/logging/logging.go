// Package logging is the process-wide leveled logger. Text output is colored
// and renders data as sorted key=value pairs; JSON output writes one object per line.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Level represents a logging level
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	PROGRESS // shown at every level
)

var levelStyles = map[Level]struct {
	name  string
	color *color.Color
}{
	DEBUG:    {"DEBUG", color.New(color.FgCyan)},
	INFO:     {"INFO", color.New(color.FgGreen)},
	WARN:     {"WARN", color.New(color.FgYellow)},
	ERROR:    {"ERROR", color.New(color.FgRed)},
	PROGRESS: {"PROGRESS", color.New(color.FgBlue, color.Bold)},
}

func (l Level) String() string {
	if style, ok := levelStyles[l]; ok {
		return style.name
	}
	return "UNKNOWN"
}

// ParseLevel maps a level name to a Level, defaulting to INFO
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// Format selects text or JSON output
type Format int

const (
	Text Format = iota
	JSON
)

// ParseFormat maps "json" to JSON and anything else to Text
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), "json") {
		return JSON
	}
	return Text
}

// Logger writes leveled entries to out
type Logger struct {
	mu     sync.Mutex
	out    io.Writer
	level  Level
	format Format
}

// LogConfig contains logger configuration
type LogConfig struct {
	Level  Level
	Format Format
}

var defaultLogger = &Logger{out: os.Stderr, level: INFO, format: Text}

// Configure sets level and format of the default logger
func Configure(config LogConfig) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.level = config.Level
	defaultLogger.format = config.Format
}

// SetOutput redirects the default logger and returns the previous writer
func SetOutput(w io.Writer) io.Writer {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	prev := defaultLogger.out
	defaultLogger.out = w
	return prev
}

type jsonEntry struct {
	Time    string      `json:"time"`
	Level   string      `json:"level"`
	Message string      `json:"msg"`
	Data    interface{} `json:"data,omitempty"`
}

func (l *Logger) log(level Level, msg string, data interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level {
		return
	}

	now := time.Now()
	if l.format == JSON {
		entry := jsonEntry{Time: now.Format(time.RFC3339), Level: level.String(), Message: msg, Data: data}
		if err := json.NewEncoder(l.out).Encode(entry); err != nil {
			fmt.Fprintf(os.Stderr, "logging: cannot encode entry: %v\n", err)
		}
		return
	}

	var b strings.Builder
	b.WriteString(now.Format("2006/01/02 15:04:05"))
	b.WriteByte(' ')
	b.WriteString(levelStyles[level].color.Sprintf("%-5s", level.String()))
	b.WriteString(": ")
	b.WriteString(msg)
	writeFields(&b, data)
	b.WriteByte('\n')
	io.WriteString(l.out, b.String())
}

// writeFields appends map data as sorted key=value pairs, quoting values with spaces.
// Other data is appended with %v.
func writeFields(b *strings.Builder, data interface{}) {
	if data == nil {
		return
	}
	fields, ok := data.(map[string]interface{})
	if !ok {
		fmt.Fprintf(b, " %v", data)
		return
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := fmt.Sprint(fields[k])
		if strings.ContainsAny(v, " \t\"=") {
			v = fmt.Sprintf("%q", v)
		}
		fmt.Fprintf(b, " %s=%s", k, v)
	}
}

func (l *Logger) Debug(msg string, data ...interface{}) { l.log(DEBUG, msg, first(data)) }
func (l *Logger) Info(msg string, data ...interface{})  { l.log(INFO, msg, first(data)) }
func (l *Logger) Warn(msg string, data ...interface{})  { l.log(WARN, msg, first(data)) }

// Error appends err to msg
func (l *Logger) Error(msg string, err error, data ...interface{}) {
	if err != nil {
		msg = msg + ": " + err.Error()
	}
	l.log(ERROR, msg, first(data))
}

// Progress is logged at every level
func (l *Logger) Progress(msg string, data ...interface{}) { l.log(PROGRESS, msg, first(data)) }

func first(data []interface{}) interface{} {
	if len(data) == 0 {
		return nil
	}
	return data[0]
}

// accountData builds the fields shared by the account lifecycle helpers
func accountData(provider, accountID, accountName string) map[string]interface{} {
	return map[string]interface{}{
		"provider":     provider,
		"account_id":   accountID,
		"account_name": accountName,
	}
}

// BatchStart logs the start of a refresh over several accounts
func (l *Logger) BatchStart(operation string, accounts int) {
	l.Info("Starting refresh", map[string]interface{}{
		"operation": operation,
		"accounts":  accounts,
	})
}

// AccountRefreshed logs where an account's data came from
func (l *Logger) AccountRefreshed(provider, accountID, accountName, source string) {
	data := accountData(provider, accountID, accountName)
	data["source"] = source
	l.Debug("Account refreshed", data)
}

// AccountFailed logs an account that was dropped from a batch
func (l *Logger) AccountFailed(provider, accountID, accountName string, err error) {
	l.Error("Account refresh failed, skipping", err, accountData(provider, accountID, accountName))
}

// AccountSkipped logs an account that was never attempted
func (l *Logger) AccountSkipped(provider, accountID, accountName, reason string) {
	data := accountData(provider, accountID, accountName)
	data["reason"] = reason
	l.Warn("Skipping account", data)
}

// BatchComplete logs the outcome of a refresh
func (l *Logger) BatchComplete(operation string, succeeded, total int) {
	l.Info("Refresh complete", map[string]interface{}{
		"operation": operation,
		"succeeded": succeeded,
		"total":     total,
	})
}

func Debug(msg string, data ...interface{})            { defaultLogger.Debug(msg, data...) }
func Info(msg string, data ...interface{})             { defaultLogger.Info(msg, data...) }
func Warn(msg string, data ...interface{})             { defaultLogger.Warn(msg, data...) }
func Error(msg string, err error, data ...interface{}) { defaultLogger.Error(msg, err, data...) }
func Progress(msg string, data ...interface{})         { defaultLogger.Progress(msg, data...) }
func BatchStart(operation string, accounts int)        { defaultLogger.BatchStart(operation, accounts) }
func BatchComplete(operation string, succeeded, total int) {
	defaultLogger.BatchComplete(operation, succeeded, total)
}

func AccountRefreshed(provider, accountID, accountName, source string) {
	defaultLogger.AccountRefreshed(provider, accountID, accountName, source)
}

func AccountFailed(provider, accountID, accountName string, err error) {
	defaultLogger.AccountFailed(provider, accountID, accountName, err)
}

func AccountSkipped(provider, accountID, accountName, reason string) {
	defaultLogger.AccountSkipped(provider, accountID, accountName, reason)
}
