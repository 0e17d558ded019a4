package scraper

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownScraper       = errors.New("unknown scraper")
	ErrInvalidConfig        = errors.New("invalid scraper config")
	ErrAuthFailed           = errors.New("authentication failed")
	ErrExtraction           = errors.New("extraction failed")
	ErrUnsupportedOperation = errors.New("unsupported operation")
	ErrNotFound             = errors.New("not found")
	ErrReleased             = errors.New("scraper session released")
)

// CreationKind tells why Factory.Create failed.
type CreationKind string

const (
	CreateUnknown       CreationKind = "unknown_scraper"
	CreateInvalidConfig CreationKind = "invalid_config"
	CreateAuthFailed    CreationKind = "auth_failed"
	CreateConstruction  CreationKind = "construction"
)

type CreationError struct {
	Kind    CreationKind
	Scraper string
	Err     error
}

func (e *CreationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("create %s: %s", e.Scraper, e.Kind)
	}
	return fmt.Sprintf("create %s: %s: %v", e.Scraper, e.Kind, e.Err)
}

func (e *CreationError) Unwrap() error { return e.Err }

// Is matches the sentinel that corresponds to the failure kind, so callers
// can write errors.Is(err, ErrAuthFailed) without unwrapping by hand.
func (e *CreationError) Is(target error) bool {
	switch e.Kind {
	case CreateUnknown:
		return target == ErrUnknownScraper
	case CreateInvalidConfig:
		return target == ErrInvalidConfig
	case CreateAuthFailed:
		return target == ErrAuthFailed
	}
	return false
}

func Unsupported(name, op string) error {
	return fmt.Errorf("%w: %s does not support %q", ErrUnsupportedOperation, name, op)
}

func InvalidConfig(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

func AuthFailed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrAuthFailed, fmt.Sprintf(format, args...))
}

// Extraction wraps err as an extraction failure of op unless it already is one.
func Extraction(op string, err error) error {
	if err == nil || errors.Is(err, ErrExtraction) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrExtraction, op, err)
}
