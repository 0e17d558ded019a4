package scraper

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"watchbot/internal/scraper/browser"
	logx "watchbot/pkg/logx"
)

// Env carries the shared dependencies handed to every scraper constructor.
type Env struct {
	Browser  *browser.Launcher
	Shots    *browser.ShotDir
	Log      logx.Logger
	Location *time.Location
	Now      func() time.Time
}

func (e Env) withDefaults() Env {
	if e.Log.IsZero() {
		e.Log = logx.Nop()
	}
	if e.Location == nil {
		e.Location = time.Local
	}
	if e.Now == nil {
		e.Now = time.Now
	}
	if e.Shots == nil {
		e.Shots = browser.NewShotDir("")
	}
	return e
}

// Constructor builds an unacquired scraper from its config.
type Constructor func(cfg Config, env Env) (Scraper, error)

type entry struct {
	desc Descriptor
	ctor Constructor
}

// Registry maps scraper names to constructors. Registration normally
// happens once at startup; lookups are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{entries: map[string]entry{}}
}

func (r *Registry) Register(desc Descriptor, ctor Constructor) error {
	name := strings.TrimSpace(desc.Name)
	if name == "" {
		return fmt.Errorf("scraper name required")
	}
	if ctor == nil {
		return fmt.Errorf("scraper %s: nil constructor", name)
	}
	desc.Name = name
	desc.Operations = append([]string(nil), desc.Operations...)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.entries[name]; dup {
		return fmt.Errorf("scraper %s already registered", name)
	}
	r.entries[name] = entry{desc: desc, ctor: ctor}
	return nil
}

func (r *Registry) MustRegister(desc Descriptor, ctor Constructor) {
	if err := r.Register(desc, ctor); err != nil {
		panic(err)
	}
}

func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; !ok {
		return false
	}
	delete(r.entries, name)
	return true
}

func (r *Registry) Lookup(name string) (Descriptor, Constructor, bool) {
	r.mu.RLock()
	e, ok := r.entries[strings.TrimSpace(name)]
	r.mu.RUnlock()
	return e.desc, e.ctor, ok
}

// List returns all descriptors sorted by name.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	out := make([]Descriptor, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.desc)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
