package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrInvalidConfig is returned when validation fails.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		err := err
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Is makes errors.Is(err, ErrInvalidConfig) hold for every non-empty set.
func (e ValidationErrors) Is(target error) bool {
	return target == ErrInvalidConfig && len(e) > 0
}

// Fields returns the names of the offending fields in order.
func (e ValidationErrors) Fields() []string {
	fields := make([]string, len(e))
	for i, err := range e {
		fields[i] = err.Field
	}
	return fields
}

// ValidateConfig performs comprehensive validation of the configuration.
func ValidateConfig(c *Config) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var errs ValidationErrors
	errs = append(errs, validateKeyboard(&c.Keyboard)...)
	errs = append(errs, validateIME(&c.IME)...)
	errs = append(errs, validateMetrics(&c.Metrics)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateJournal(&c.Journal)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateKeyboard(k *KeyboardConfig) ValidationErrors {
	var errs ValidationErrors
	if k.LongPressMS < 0 {
		errs = append(errs, ValidationError{Field: "keyboard.long_press_ms", Message: "must not be negative"})
	}
	if !oneOf(k.Inject, "", "auto", "record", "uinput", "keybd_event") {
		errs = append(errs, ValidationError{
			Field:   "keyboard.inject",
			Message: fmt.Sprintf("unknown backend %q", k.Inject),
		})
	}
	for i, id := range k.ShiftKeys {
		if strings.TrimSpace(id) == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("keyboard.shift_keys[%d]", i),
				Message: "must not be empty",
			})
		}
	}
	return errs
}

func validateIME(c *IMEConfig) ValidationErrors {
	var errs ValidationErrors
	if !oneOf(c.Backend, "", "auto", "static", "ibus", "imm") {
		errs = append(errs, ValidationError{
			Field:   "ime.backend",
			Message: fmt.Sprintf("unknown backend %q", c.Backend),
		})
	}
	if c.SyncIntervalMS < 1 {
		errs = append(errs, *RangeError("ime.sync_interval_ms", 1, "∞"))
	}
	if c.ReadAttempts < 1 || c.ReadAttempts > 10 {
		errs = append(errs, *RangeError("ime.read_attempts", 1, 10))
	}
	if c.RetryDelayMS < 0 || c.RetryDelayMS > 5000 {
		errs = append(errs, *RangeError("ime.retry_delay_ms", 0, 5000))
	}
	if c.FailureThreshold < 1 {
		errs = append(errs, *RangeError("ime.failure_threshold", 1, "∞"))
	}
	if c.Backend == "ibus" {
		if c.IBusLatinEngine == "" {
			errs = append(errs, *RequiredFieldError("ime.ibus_latin_engine"))
		}
		if c.IBusHangulEngine == "" {
			errs = append(errs, *RequiredFieldError("ime.ibus_hangul_engine"))
		}
	}
	return errs
}

func validateMetrics(m *MetricsConfig) ValidationErrors {
	var errs ValidationErrors
	if m.Capacity < 1 {
		errs = append(errs, *RangeError("metrics.capacity", 1, "∞"))
	}
	if m.MaxErrorRate < 0 || m.MaxErrorRate > 1 {
		errs = append(errs, *RangeError("metrics.max_error_rate", 0, 1))
	}
	if m.MaxLatencyMS < 1 {
		errs = append(errs, *RangeError("metrics.max_latency_ms", 1, "∞"))
	}
	if m.CheckIntervalMS < 0 {
		errs = append(errs, ValidationError{Field: "metrics.check_interval_ms", Message: "must not be negative"})
	}
	if m.ListenAddr != "" {
		if _, _, err := net.SplitHostPort(m.ListenAddr); err != nil {
			errs = append(errs, ValidationError{
				Field:   "metrics.listen_addr",
				Message: fmt.Sprintf("invalid address: %v", err),
			})
		}
	}
	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors
	if !oneOf(strings.ToLower(l.Level), "debug", "info", "warn", "warning", "error") {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("unknown level %q", l.Level),
		})
	}
	if !oneOf(strings.ToLower(l.Format), "", "text", "json") {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("unknown format %q", l.Format),
		})
	}
	if !oneOf(l.Output, "", "stdout", "stderr", "file", "both") {
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("unknown output %q", l.Output),
		})
	}
	if (l.Output == "file" || l.Output == "both") && l.FilePath == "" {
		errs = append(errs, *RequiredFieldError("logging.file_path"))
	}
	if l.MaxSizeMB < 0 {
		errs = append(errs, ValidationError{Field: "logging.max_size_mb", Message: "must not be negative"})
	}
	return errs
}

func validateJournal(j *JournalConfig) ValidationErrors {
	if j.Enabled && j.Path == "" {
		return ValidationErrors{*RequiredFieldError("journal.path")}
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// RequiredFieldError creates a validation error for a required field.
func RequiredFieldError(field string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: "required field is missing",
	}
}

// RangeError creates a validation error for an out-of-range value.
func RangeError(field string, min, max interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("value must be between %v and %v", min, max),
	}
}
