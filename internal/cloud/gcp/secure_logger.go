package gcp

import (
	"github.com/miyabi-dev/miyabi/internal/security"
)

// SecureCloudLogger wraps CloudLogger with automatic log sanitization so
// that secrets and credentials caught by internal/security's patterns
// never reach Cloud Logging, even when a caller interpolates raw error
// text or file paths into a log message.
type SecureCloudLogger struct {
	*CloudLogger
	sanitizer     *security.LogSanitizer
	pathSanitizer *security.PathSanitizer
}

// NewSecureCloudLogger wraps a CloudLogger for sessionID with sanitization.
func NewSecureCloudLogger(sessionID string, opts ...CloudLoggerOption) *SecureCloudLogger {
	return &SecureCloudLogger{
		CloudLogger:   NewCloudLogger(sessionID, opts...),
		sanitizer:     security.NewLogSanitizer(),
		pathSanitizer: security.NewPathSanitizer(),
	}
}

// Log sanitizes message and fields before delegating to CloudLogger.Log.
func (scl *SecureCloudLogger) Log(severity Severity, message string, fields map[string]interface{}) {
	scl.CloudLogger.Log(severity, scl.sanitizeMessage(message), scl.sanitizeFields(fields))
}

// LogInfo logs a sanitized message at INFO severity.
func (scl *SecureCloudLogger) LogInfo(message string) {
	scl.CloudLogger.LogInfo(scl.sanitizeMessage(message))
}

// LogWarning logs a sanitized message at WARNING severity.
func (scl *SecureCloudLogger) LogWarning(message string) {
	scl.CloudLogger.LogWarning(scl.sanitizeMessage(message))
}

// LogError logs a sanitized message at ERROR severity.
func (scl *SecureCloudLogger) LogError(message string) {
	scl.CloudLogger.LogError(scl.sanitizeMessage(message))
}

func (scl *SecureCloudLogger) sanitizeMessage(message string) string {
	return scl.pathSanitizer.Sanitize(scl.sanitizer.Sanitize(message))
}

func (scl *SecureCloudLogger) sanitizeFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}
	clean := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if s, ok := v.(string); ok {
			clean[k] = scl.sanitizeMessage(s)
			continue
		}
		clean[k] = v
	}
	return clean
}
