package utils

import (
	"fmt"
	"regexp"
	"unicode/utf8"
)

// Name length limits
const (
	MaxServiceNameLength = 64
	MaxTaskNameLength    = 128
)

// Regular expressions for validation
var (
	// ServiceNamePattern allows alphanumeric, dots, hyphens and underscores
	ServiceNamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
)

// ValidateServiceName checks a service name against length and charset rules
func ValidateServiceName(name string) error {
	if name == "" {
		return fmt.Errorf("service name is required")
	}
	if len(name) > MaxServiceNameLength {
		return fmt.Errorf("service name exceeds %d characters", MaxServiceNameLength)
	}
	if !ServiceNamePattern.MatchString(name) {
		return fmt.Errorf("service name %q contains invalid characters", name)
	}
	return nil
}

// ValidateTaskName checks a task name. Empty names are allowed and replaced
// by a generated label.
func ValidateTaskName(name string) error {
	if !utf8.ValidString(name) {
		return fmt.Errorf("task name is not valid UTF-8")
	}
	if utf8.RuneCountInString(name) > MaxTaskNameLength {
		return fmt.Errorf("task name exceeds %d characters", MaxTaskNameLength)
	}
	return nil
}

// ValidateSize checks that a byte payload is within max
func ValidateSize(data []byte, max int) error {
	if len(data) > max {
		return fmt.Errorf("payload size %d bytes exceeds maximum %d bytes", len(data), max)
	}
	return nil
}
