// Package errors provides custom error types for the teleporter system.
// These errors enable programmatic error checking across component
// boundaries: the reconciliation engine maps store and gateway failures
// into its own outcome taxonomy instead of propagating raw backend errors.
package errors

import (
	"errors"
	"fmt"
)

// New returns an error that formats as the given text.
// It's an alias for the standard library errors.New for convenience.
var New = errors.New

// Common sentinel errors for the teleporter system
var (
	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrTemplateNotFound indicates a template path does not exist in the canonical source
	ErrTemplateNotFound = errors.New("template not found")

	// ErrCategoryNotFound indicates a template category is not defined in the bindings
	ErrCategoryNotFound = errors.New("category not found")

	// ErrVersionConflict indicates a conditional write lost to a concurrent update
	ErrVersionConflict = errors.New("version conflict")

	// ErrRateLimited indicates that the platform API rate limit has been exceeded
	ErrRateLimited = errors.New("rate limited")

	// ErrAuthFailed indicates that platform authentication was rejected
	ErrAuthFailed = errors.New("authentication failed")

	// ErrTimeout indicates that an operation timed out
	ErrTimeout = errors.New("operation timed out")

	// ErrInvalidInput indicates that provided input was invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrReadOnly indicates an attempt to modify a read-only resource
	ErrReadOnly = errors.New("read only")
)

// VersionConflictError is returned by a state store conditional write when
// the stored record's version does not match the expected version. The
// caller must reload the record and re-evaluate before retrying.
type VersionConflictError struct {
	Repository string
	Path       string
	Expected   uint64
	Actual     uint64
}

// Error implements the error interface
func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict for %s:%s: expected %d, stored %d", e.Repository, e.Path, e.Expected, e.Actual)
}

// Is implements errors.Is support
func (e *VersionConflictError) Is(target error) bool {
	return target == ErrVersionConflict
}

// NewVersionConflictError creates a new VersionConflictError
func NewVersionConflictError(repository, path string, expected, actual uint64) *VersionConflictError {
	return &VersionConflictError{Repository: repository, Path: path, Expected: expected, Actual: actual}
}

// NotFoundError represents an error when a resource is not found
type NotFoundError struct {
	Resource string
	ID       string
}

// Error implements the error interface
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// Is implements errors.Is support
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError creates a new NotFoundError
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// RepoNotFoundError indicates the target repository does not exist on the platform
type RepoNotFoundError struct {
	Repository string
}

// Error implements the error interface
func (e *RepoNotFoundError) Error() string {
	return fmt.Sprintf("repository %s not found", e.Repository)
}

// Is implements errors.Is support
func (e *RepoNotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ValidationError represents a validation failure
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// Is implements errors.Is support
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// GatewayError represents an error from the platform API
type GatewayError struct {
	Repository string
	StatusCode int
	Message    string
	Endpoint   string
	Err        error
}

// Error implements the error interface
func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("gateway error for %s (status %d): %s", e.Repository, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("gateway error for %s: %s", e.Repository, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *GatewayError) Is(target error) bool {
	switch e.StatusCode {
	case 401, 403:
		return target == ErrAuthFailed
	case 429:
		return target == ErrRateLimited
	}
	return false
}

// NewGatewayError creates a new GatewayError
func NewGatewayError(repository string, statusCode int, message string) *GatewayError {
	return &GatewayError{
		Repository: repository,
		StatusCode: statusCode,
		Message:    message,
	}
}

// AuthenticationError represents an authentication/authorization error
type AuthenticationError struct {
	Platform string
	Method   string // "token", "app", etc.
	Message  string
	Err      error
}

// Error implements the error interface
func (e *AuthenticationError) Error() string {
	if e.Platform != "" {
		return fmt.Sprintf("authentication error for %s (%s): %s", e.Platform, e.Method, e.Message)
	}
	return fmt.Sprintf("authentication error (%s): %s", e.Method, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *AuthenticationError) Is(target error) bool {
	return target == ErrAuthFailed
}

// ConfigError represents a configuration error
type ConfigError struct {
	Component string
	Message   string
	Err       error
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("configuration error in %s: %s", e.Component, e.Message)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}

// Unwrap implements errors.Unwrap
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError
func NewConfigError(component, message string, err error) *ConfigError {
	return &ConfigError{
		Component: component,
		Message:   message,
		Err:       err,
	}
}

// StoreError represents a failure in the state persistence backend
type StoreError struct {
	Operation string // "get", "put", "delete", "list"
	Key       string
	Message   string
	Err       error
}

// Error implements the error interface
func (e *StoreError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("store error during %s of %s: %s", e.Operation, e.Key, e.Message)
	}
	return fmt.Sprintf("store error during %s: %s", e.Operation, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError
func NewStoreError(operation, key string, err error) *StoreError {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &StoreError{
		Operation: operation,
		Key:       key,
		Message:   message,
		Err:       err,
	}
}

// IOError represents an error during I/O operations
type IOError struct {
	Operation string // "read", "write", "create", "delete", "rename"
	Path      string
	Message   string
	Err       error
}

// Error implements the error interface
func (e *IOError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("IO error during %s of %s: %s", e.Operation, e.Path, e.Message)
	}
	return fmt.Sprintf("IO error during %s: %s", e.Operation, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *IOError) Unwrap() error {
	return e.Err
}

// NewIOError creates a new IOError
func NewIOError(operation, path string, err error) *IOError {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &IOError{
		Operation: operation,
		Path:      path,
		Message:   message,
		Err:       err,
	}
}

// TimeoutError represents an operation timeout
type TimeoutError struct {
	Operation string
	Duration  string
	Message   string
}

// Error implements the error interface
func (e *TimeoutError) Error() string {
	if e.Duration != "" {
		return fmt.Sprintf("operation %s timed out after %s: %s", e.Operation, e.Duration, e.Message)
	}
	return fmt.Sprintf("operation %s timed out: %s", e.Operation, e.Message)
}

// Is implements errors.Is support
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// Helper functions for error checking

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsVersionConflict checks if an error is a conditional-write conflict
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsRateLimited checks if an error is a rate limit error
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// IsAuthFailed checks if an error is an authentication failure
func IsAuthFailed(err error) bool {
	return errors.Is(err, ErrAuthFailed)
}

// IsTimeout checks if an error is a timeout error
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsTransient reports whether an error is safe to retry on the next
// trigger: store write contention, rate limiting, timeouts, and transient
// API failures. Authentication and configuration failures are not
// transient and need human attention.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsVersionConflict(err) || IsRateLimited(err) || IsTimeout(err) {
		return true
	}
	var gerr *GatewayError
	if errors.As(err, &gerr) {
		return gerr.StatusCode == 0 || gerr.StatusCode >= 500 || gerr.StatusCode == 429
	}
	var serr *StoreError
	return errors.As(err, &serr)
}

// WrapIO wraps an error as an IOError
func WrapIO(operation, path string, err error) error {
	if err == nil {
		return nil
	}
	return NewIOError(operation, path, err)
}

// WrapStore wraps an error as a StoreError
func WrapStore(operation, key string, err error) error {
	if err == nil {
		return nil
	}
	return NewStoreError(operation, key, err)
}
