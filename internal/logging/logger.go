// Package logging provides structured logging for the H3 client.
package logging

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"marchproxy-h3client/internal/killkrill"
)

// Logger is a structured logger wrapping a logrus entry, optionally
// exporting every log line to a remote telemetry sink via a KillKrill
// hook.
type Logger struct {
	*logrus.Entry
	killKrillClient *killkrill.Client
}

// NewLogger creates a new structured logger with no telemetry export.
func NewLogger(level string, syslogEndpoint string) (*Logger, error) {
	return NewLoggerWithKillKrill(level, syslogEndpoint, nil)
}

// NewLoggerWithKillKrill creates a structured logger and, if killKrillConfig
// is non-nil and enabled, attaches a hook that exports every log entry to
// the configured endpoint.
func NewLoggerWithKillKrill(level string, syslogEndpoint string, killKrillConfig *killkrill.Config) (*Logger, error) {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	logger.SetOutput(os.Stdout)

	var killKrillClient *killkrill.Client
	if killKrillConfig != nil {
		killKrillClient, err = killkrill.NewClient(*killKrillConfig)
		if err != nil {
			logger.WithError(err).Warn("failed to initialize telemetry export client")
		} else if killKrillConfig.Enabled {
			logger.AddHook(killkrill.NewHook(killKrillClient))
		}
	}

	if syslogEndpoint != "" {
		logger.WithField("syslog_endpoint", syslogEndpoint).Warn("syslog integration not yet implemented")
	}

	entry := logger.WithFields(logrus.Fields{
		"service": "marchproxy-h3client",
		"version": "1.0.0",
	})

	return &Logger{Entry: entry, killKrillClient: killKrillClient}, nil
}

// WithField adds a field to the logger.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{Entry: l.Entry.WithField(key, value), killKrillClient: l.killKrillClient}
}

// WithFields adds multiple fields to the logger.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{Entry: l.Entry.WithFields(fields), killKrillClient: l.killKrillClient}
}

// KillKrillClient returns the logger's telemetry export client, or nil if
// telemetry export was never configured.
func (l *Logger) KillKrillClient() *killkrill.Client {
	return l.killKrillClient
}

// Close shuts down the logger's telemetry export client, if any.
func (l *Logger) Close() error {
	if l.killKrillClient != nil {
		return l.killKrillClient.Close()
	}
	return nil
}

// Info logs an info message with optional key-value pairs.
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.Entry.WithFields(parseKeysAndValues(keysAndValues...)).Info(msg)
}

// Error logs an error message with optional key-value pairs.
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.Entry.WithFields(parseKeysAndValues(keysAndValues...)).Error(msg)
}

// Warn logs a warning message with optional key-value pairs.
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.Entry.WithFields(parseKeysAndValues(keysAndValues...)).Warn(msg)
}

// Debug logs a debug message with optional key-value pairs.
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.Entry.WithFields(parseKeysAndValues(keysAndValues...)).Debug(msg)
}

func parseKeysAndValues(keysAndValues ...interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i < len(keysAndValues); i += 2 {
		if i+1 < len(keysAndValues) {
			key := fmt.Sprintf("%v", keysAndValues[i])
			fields[key] = keysAndValues[i+1]
		}
	}
	return fields
}

// LogRequest logs the lifecycle of one HTTP/3 request.
func (l *Logger) LogRequest(method, path, status, duration string, streamID uint64) {
	l.Entry.WithFields(logrus.Fields{
		"method":    method,
		"path":      path,
		"status":    status,
		"duration":  duration,
		"stream_id": streamID,
		"type":      "request",
	}).Info("h3 request completed")
}

// LogAuth logs an unverified bearer-token claim inspection performed by
// Delete(path, token) — diagnostic only, never an authorization decision.
func (l *Logger) LogAuth(subject string, valid bool, reason string) {
	fields := logrus.Fields{
		"subject": subject,
		"valid":   valid,
		"type":    "bearer_token",
	}
	if reason != "" {
		fields["reason"] = reason
	}
	if valid {
		l.Entry.WithFields(fields).Debug("parsed bearer token claims")
	} else {
		l.Entry.WithFields(fields).Warn("bearer token claims could not be parsed")
	}
}

// LogError logs an error with structured fields.
func (l *Logger) LogError(errorType, errorMessage, details string) {
	l.Entry.WithFields(logrus.Fields{
		"error_type":    errorType,
		"error_message": errorMessage,
		"details":       details,
		"type":          "error",
	}).Error(errorMessage)
}
