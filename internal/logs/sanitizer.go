package logs

import (
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap/zapcore"
)

// SecretSanitizer wraps a zapcore.Core to mask secret values in log output
type SecretSanitizer struct {
	zapcore.Core
	patterns      []*secretPattern
	resolvedCache *sync.Map
}

type secretPattern struct {
	regex    *regexp.Regexp
	maskFunc func(string) string
}

// NewSecretSanitizer creates a new sanitizing core that wraps the provided core
func NewSecretSanitizer(core zapcore.Core) *SecretSanitizer {
	return &SecretSanitizer{
		Core:          core,
		patterns:      defaultPatterns(),
		resolvedCache: &sync.Map{},
	}
}

func defaultPatterns() []*secretPattern {
	return []*secretPattern{
		{
			regex: regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9\-_.~+/]+=*)`),
			maskFunc: func(match string) string {
				idx := strings.IndexAny(match, " \t")
				return match[:idx+1] + MaskToken(strings.TrimSpace(match[idx+1:]))
			},
		},
		{
			regex: regexp.MustCompile(`\beyJ[A-Za-z0-9\-_]+\.eyJ[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+\b`),
			maskFunc: func(jwt string) string {
				head, _, _ := strings.Cut(jwt, ".")
				return head + ".***"
			},
		},
	}
}

// RegisterResolvedSecret registers a secret value resolved from the secret store
// so it can be masked in logs
func (s *SecretSanitizer) RegisterResolvedSecret(value string) {
	if len(value) < 8 {
		return
	}
	s.resolvedCache.Store(value, true)
}

// UnregisterResolvedSecret removes a secret from the mask cache
func (s *SecretSanitizer) UnregisterResolvedSecret(value string) {
	s.resolvedCache.Delete(value)
}

func (s *SecretSanitizer) sanitizeString(str string) string {
	result := str

	s.resolvedCache.Range(func(key, _ interface{}) bool {
		if secretValue, ok := key.(string); ok {
			result = strings.ReplaceAll(result, secretValue, MaskToken(secretValue))
		}
		return true
	})

	for _, pattern := range s.patterns {
		result = pattern.regex.ReplaceAllStringFunc(result, pattern.maskFunc)
	}
	return result
}

// Write sanitizes the entry before writing
func (s *SecretSanitizer) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	entry.Message = s.sanitizeString(entry.Message)

	sanitizedFields := make([]zapcore.Field, len(fields))
	for i, field := range fields {
		sanitizedFields[i] = s.sanitizeField(field)
	}
	return s.Core.Write(entry, sanitizedFields)
}

func (s *SecretSanitizer) sanitizeField(field zapcore.Field) zapcore.Field {
	switch field.Type {
	case zapcore.StringType:
		field.String = s.sanitizeString(field.String)
	case zapcore.ErrorType:
		if err, ok := field.Interface.(error); ok && err != nil {
			sanitized := s.sanitizeString(err.Error())
			if sanitized != err.Error() {
				field = zapcore.Field{Key: field.Key, Type: zapcore.StringType, String: sanitized}
			}
		}
	}
	return field
}

// With creates a sanitizing child core
func (s *SecretSanitizer) With(fields []zapcore.Field) zapcore.Core {
	sanitizedFields := make([]zapcore.Field, len(fields))
	for i, field := range fields {
		sanitizedFields[i] = s.sanitizeField(field)
	}
	return &SecretSanitizer{
		Core:          s.Core.With(sanitizedFields),
		patterns:      s.patterns,
		resolvedCache: s.resolvedCache,
	}
}

// Check delegates to the wrapped core
func (s *SecretSanitizer) Check(entry zapcore.Entry, checkedEntry *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if s.Enabled(entry.Level) {
		return checkedEntry.AddCore(entry, s)
	}
	return checkedEntry
}

// MaskToken shows only the first 3 and last 2 characters of a secret
func MaskToken(value string) string {
	if len(value) <= 5 {
		return "****"
	}
	if len(value) <= 8 {
		return value[:2] + "****"
	}
	return value[:3] + "***" + value[len(value)-2:]
}
