package logger

import (
	"bytes"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	resetColorCode         = 0
	defaultFieldSeparator  = " | "
	defaultTimestampFormat = time.RFC3339
)

// Formatter implements logrus.Formatter interface.
type Formatter struct {
	// TimestampFormat specifies the format of the timestamp. Default: time.RFC3339.
	TimestampFormat string
	// NoColors disables colorized output.
	NoColors bool
	// DisableTimestamp disables timestamp output.
	DisableTimestamp bool
	// DisplayLevelName configures which entries print their level name.
	DisplayLevelName LevelNameDisplayMode
	// HideKeys prints "[value]" instead of "[key:value]".
	HideKeys bool
	// FieldsDisplayWithOrder lists field keys printed first, in this order.
	// Remaining fields follow alphabetically.
	FieldsDisplayWithOrder []string
	// FieldSeparator defines the separator string used between fields. Default: " | ".
	FieldSeparator string
	// DisableCaller disables caller information output.
	DisableCaller bool
	// CustomCallerFormatter allows a custom function to format caller information.
	CustomCallerFormatter func(*runtime.Frame) string
	// MaxFieldValueLength truncates longer field values. 0 means no truncation.
	MaxFieldValueLength int
}

// LevelNameDisplayMode defines how log level names are displayed.
type LevelNameDisplayMode int

const (
	// ShowAll shows all level names.
	ShowAll LevelNameDisplayMode = iota
	// ShowAboveWarn shows level names for WARN, ERROR, FATAL, PANIC.
	ShowAboveWarn
	// ShowAboveError shows level names for ERROR, FATAL, PANIC.
	ShowAboveError
	// HideAll hides all level names.
	HideAll
)

// Format formats the log entry.
func (f *Formatter) Format(entry *logrus.Entry) ([]byte, error) {
	b := &bytes.Buffer{}

	if !f.DisableTimestamp {
		timestampFormat := f.TimestampFormat
		if timestampFormat == "" {
			timestampFormat = defaultTimestampFormat
		}
		b.WriteString(entry.Time.Format(timestampFormat))
		b.WriteString(" ")
	}

	if f.showLevel(entry.Level) {
		if !f.NoColors {
			fmt.Fprintf(b, "\x1b[%dm", getColorByLevel(entry.Level))
		}
		levelStr := entry.Level.String()
		if len(levelStr) > 4 {
			levelStr = levelStr[:4]
		}
		fmt.Fprintf(b, "[%s]", strings.ToUpper(levelStr))
		if !f.NoColors {
			fmt.Fprintf(b, "\x1b[%dm", resetColorCode)
		}
		b.WriteString(" ")
	}

	fieldSeparator := f.FieldSeparator
	if fieldSeparator == "" {
		fieldSeparator = defaultFieldSeparator
	}
	if len(entry.Data) > 0 {
		b.WriteString("[")
		f.writeOrderedFields(b, entry, fieldSeparator)
		b.WriteString("] ")
	}

	b.WriteString(entry.Message)

	if !f.DisableCaller && entry.HasCaller() {
		f.writeCaller(b, entry)
	}

	b.WriteByte('\n')
	return b.Bytes(), nil
}

func (f *Formatter) showLevel(level logrus.Level) bool {
	switch f.DisplayLevelName {
	case ShowAll:
		return true
	case ShowAboveWarn:
		return level <= logrus.WarnLevel
	case ShowAboveError:
		return level <= logrus.ErrorLevel
	default:
		return false
	}
}

func (f *Formatter) writeOrderedFields(b *bytes.Buffer, entry *logrus.Entry, separator string) {
	written := 0
	seen := make(map[string]bool, len(f.FieldsDisplayWithOrder))
	for _, field := range f.FieldsDisplayWithOrder {
		value, ok := entry.Data[field]
		if !ok {
			continue
		}
		if written > 0 {
			b.WriteString(separator)
		}
		f.writeKeyValue(b, field, value)
		seen[field] = true
		written++
	}

	remaining := make([]string, 0, len(entry.Data))
	for field := range entry.Data {
		if !seen[field] {
			remaining = append(remaining, field)
		}
	}
	sort.Strings(remaining)
	for _, field := range remaining {
		if written > 0 {
			b.WriteString(separator)
		}
		f.writeKeyValue(b, field, entry.Data[field])
		written++
	}
}

func (f *Formatter) writeKeyValue(b *bytes.Buffer, key string, value interface{}) {
	valStr := fmt.Sprintf("%v", value)
	if f.MaxFieldValueLength > 0 && len(valStr) > f.MaxFieldValueLength {
		valStr = valStr[:f.MaxFieldValueLength] + "..."
	}
	if f.HideKeys {
		b.WriteString(valStr)
		return
	}
	fmt.Fprintf(b, "%s:%s", key, valStr)
}

func (f *Formatter) writeCaller(b *bytes.Buffer, entry *logrus.Entry) {
	if f.CustomCallerFormatter != nil {
		b.WriteString(f.CustomCallerFormatter(entry.Caller))
		return
	}
	fmt.Fprintf(b, " (%s:%d)", filepath.Base(entry.Caller.File), entry.Caller.Line)
}

func getColorByLevel(level logrus.Level) int {
	switch level {
	case logrus.DebugLevel:
		return colorBlue
	case logrus.WarnLevel:
		return colorYellow
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		return colorRed
	default:
		return colorGray
	}
}

const (
	colorRed    = 31
	colorYellow = 33
	colorBlue   = 36
	colorGray   = 37
)
