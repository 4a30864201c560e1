// logger.go
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"

	"github.com/mensylisir/sshdeploy/common"
)

// Log is the global logger instance of XMLog.
var Log *XMLog

// XMLog wraps logrus.Logger for application-specific logging.
type XMLog struct {
	*logrus.Logger
}

var defaultFieldsOrder = []string{
	common.RunID, common.HostName, common.PhaseName,
}

func init() {
	Log = &XMLog{Logger: newConsoleLogger(logrus.InfoLevel, false)}
}

func newConsoleLogger(level logrus.Level, verbose bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(level)
	displayLevel := ShowAboveWarn
	if verbose {
		displayLevel = ShowAll
	}
	logger.SetFormatter(&Formatter{
		TimestampFormat:        "15:04:05",
		DisplayLevelName:       displayLevel,
		DisableCaller:          true,
		FieldsDisplayWithOrder: defaultFieldsOrder,
	})
	logger.SetOutput(os.Stdout)
	return logger
}

// InitGlobalLogger replaces the global Log. With an outputPath, entries go to a
// daily-rotated file under that directory instead of the console.
func InitGlobalLogger(outputPath string, verbose bool, defaultLevel logrus.Level) error {
	l, err := NewXMLog(outputPath, verbose, defaultLevel)
	if err != nil {
		return err
	}
	Log = l
	return nil
}

// NewXMLog creates a new instance of XMLog.
func NewXMLog(outputPath string, verbose bool, defaultLevel logrus.Level) (*XMLog, error) {
	currentLogLevel := defaultLevel
	if verbose {
		currentLogLevel = logrus.DebugLevel
	}

	if outputPath == "" {
		return &XMLog{Logger: newConsoleLogger(currentLogLevel, verbose)}, nil
	}

	logger := logrus.New()
	logger.SetLevel(currentLogLevel)
	logger.SetReportCaller(true)

	if err := os.MkdirAll(outputPath, common.FileMode0755); err != nil {
		return nil, fmt.Errorf("failed to create log output directory %s: %w", outputPath, err)
	}
	logFilePath := filepath.Join(outputPath, common.AppName+".log")

	writer, err := rotatelogs.New(
		logFilePath+".%Y%m%d",
		rotatelogs.WithLinkName(logFilePath),
		rotatelogs.WithMaxAge(7*24*time.Hour),
		rotatelogs.WithRotationTime(24*time.Hour),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize rotatelogs for %s: %w", logFilePath, err)
	}

	fileFormatter := &Formatter{
		TimestampFormat:        "2006-01-02 15:04:05.000 MST",
		NoColors:               true,
		DisplayLevelName:       ShowAll,
		FieldsDisplayWithOrder: defaultFieldsOrder,
		CustomCallerFormatter: func(frame *runtime.Frame) string {
			return fmt.Sprintf(" [%s:%d]", filepath.Base(frame.File), frame.Line)
		},
	}
	logger.SetFormatter(fileFormatter)

	logWriters := lfshook.WriterMap{}
	for _, level := range logrus.AllLevels {
		if logger.IsLevelEnabled(level) {
			logWriters[level] = writer
		}
	}
	logger.Hooks.Add(lfshook.NewHook(logWriters, fileFormatter))
	// The hook owns file output; the default writer would duplicate every entry.
	logger.SetOutput(io.Discard)

	return &XMLog{Logger: logger}, nil
}

func (xl *XMLog) entry(fixedFields logrus.Fields, dynamicFields ...logrus.Fields) *logrus.Entry {
	entry := xl.Logger.WithFields(fixedFields)
	if len(dynamicFields) > 0 && dynamicFields[0] != nil {
		entry = entry.WithFields(dynamicFields[0])
	}
	return entry
}

// ForRun returns an entry carrying the run id and target host, the base for
// every message a run emits.
func (xl *XMLog) ForRun(runID, host string) *logrus.Entry {
	return xl.entry(logrus.Fields{common.RunID: runID, common.HostName: host})
}

// --- Phase Context Logging ---
func (xl *XMLog) DebugPhase(phase string, message string, dynamicFields ...logrus.Fields) {
	xl.entry(logrus.Fields{common.PhaseName: phase}, dynamicFields...).Debug(message)
}
func (xl *XMLog) DebugfPhase(phase string, format string, args ...interface{}) {
	xl.entry(logrus.Fields{common.PhaseName: phase}).Debugf(format, args...)
}
func (xl *XMLog) InfoPhase(phase string, message string, dynamicFields ...logrus.Fields) {
	xl.entry(logrus.Fields{common.PhaseName: phase}, dynamicFields...).Info(message)
}
func (xl *XMLog) InfofPhase(phase string, format string, args ...interface{}) {
	xl.entry(logrus.Fields{common.PhaseName: phase}).Infof(format, args...)
}
func (xl *XMLog) WarnfPhase(phase string, format string, args ...interface{}) {
	xl.entry(logrus.Fields{common.PhaseName: phase}).Warnf(format, args...)
}
func (xl *XMLog) ErrorPhase(phase string, err error, message string, dynamicFields ...logrus.Fields) {
	fixedFields := logrus.Fields{common.PhaseName: phase}
	if err != nil {
		fixedFields["error"] = err
	}
	xl.entry(fixedFields, dynamicFields...).Error(message)
}

// --- Host Context Logging ---
func (xl *XMLog) DebugfHost(host string, format string, args ...interface{}) {
	xl.entry(logrus.Fields{common.HostName: host}).Debugf(format, args...)
}
func (xl *XMLog) InfofHost(host string, format string, args ...interface{}) {
	xl.entry(logrus.Fields{common.HostName: host}).Infof(format, args...)
}
func (xl *XMLog) WarnfHost(host string, format string, args ...interface{}) {
	xl.entry(logrus.Fields{common.HostName: host}).Warnf(format, args...)
}
func (xl *XMLog) ErrorHost(host string, err error, message string) {
	fixedFields := logrus.Fields{common.HostName: host}
	if err != nil {
		fixedFields["error"] = err
	}
	xl.entry(fixedFields).Error(message)
}

// LogAtLevel provides a general way to log with a specific level, message, and fields.
func (xl *XMLog) LogAtLevel(level logrus.Level, message string, fields logrus.Fields) {
	xl.WithFields(fields).Log(level, message)
}
