package types

import (
	"errors"
	"fmt"
)

// ConfigError reports a malformed policy or field-policy definition. It
// is raised once at definition compile time; an entity with a config
// error never serves requests.
type ConfigError struct {
	Entity string
	Detail string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid configuration for entity %q: %s: %v", e.Entity, e.Detail, e.Err)
	}
	return fmt.Sprintf("invalid configuration for entity %q: %s", e.Entity, e.Detail)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError builds a ConfigError for an entity.
func NewConfigError(entity, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Entity: entity, Detail: fmt.Sprintf(format, args...)}
}

// IsConfigError reports whether err is (or wraps) a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// EngineFault reports an internal invariant violation. It is never an
// access decision: callers must fail the request rather than treat it as
// Forbidden or Authorized.
type EngineFault struct {
	Op  string
	Err error
}

func (e *EngineFault) Error() string {
	return fmt.Sprintf("engine fault in %s: %v", e.Op, e.Err)
}

func (e *EngineFault) Unwrap() error { return e.Err }

// Faultf wraps an invariant violation as an EngineFault.
func Faultf(op, format string, args ...interface{}) *EngineFault {
	return &EngineFault{Op: op, Err: fmt.Errorf(format, args...)}
}

// IsEngineFault reports whether err is (or wraps) an EngineFault.
func IsEngineFault(err error) bool {
	var ef *EngineFault
	return errors.As(err, &ef)
}
