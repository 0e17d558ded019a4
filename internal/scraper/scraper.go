// Package scraper defines the extraction contract shared by every site
// scraper, plus the registry and factory that build scraper sessions by name.
//
// A scraper session owns one browser session from Acquire until Release.
// Release is idempotent and must be called on every exit path once Acquire
// has been attempted.
package scraper

import (
	"context"
	"slices"
	"time"
)

// Descriptor is the immutable metadata a scraper is registered under.
type Descriptor struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Version     string   `json:"version"`
	Operations  []string `json:"operations"`
}

func (d Descriptor) Supports(op string) bool { return slices.Contains(d.Operations, op) }

// Scraper is implemented by every site scraper.
type Scraper interface {
	Descriptor() Descriptor

	// ValidateConfig checks required config fields without touching the network.
	ValidateConfig() error
	// Acquire starts the browser session.
	Acquire(ctx context.Context) error
	// Authenticate logs in, or loads the entry page for sites without login.
	Authenticate(ctx context.Context) error
	// Extract runs one named operation.
	Extract(ctx context.Context, op string, p Params) (Result, error)
	Release() error
}

// HealthReporter is implemented by scrapers that can describe their session state.
type HealthReporter interface {
	Health() Health
}

type Health struct {
	Scraper       string `json:"scraper"`
	BrowserReady  bool   `json:"browser_ready"`
	PageReady     bool   `json:"page_ready"`
	ConfigValid   bool   `json:"config_valid"`
	Authenticated bool   `json:"authenticated"`
}

func (h Health) Healthy() bool { return h.BrowserReady && h.PageReady && h.ConfigValid }

// Result is the outcome of one Extract call.
type Result struct {
	Success bool      `json:"success"`
	Payload any       `json:"payload,omitempty"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

func OK(payload any) Result {
	return Result{Success: true, Payload: payload, At: time.Now()}
}

// Failed builds a failed Result and returns err wrapped as an extraction error.
func Failed(op string, err error) (Result, error) {
	err = Extraction(op, err)
	return Result{Success: false, Error: err.Error(), At: time.Now()}, err
}
