package scraper

import (
	"fmt"
	"maps"
	"strconv"
	"strings"
)

// Config is a flat key/value scraper configuration (addresses, credentials, URLs).
type Config map[string]string

func (c Config) Get(key string) string { return strings.TrimSpace(c[key]) }

func (c Config) GetOr(key, def string) string {
	if v := c.Get(key); v != "" {
		return v
	}
	return def
}

// Require returns ErrInvalidConfig naming every missing key.
func (c Config) Require(keys ...string) error {
	var missing []string
	for _, k := range keys {
		if c.Get(k) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return InvalidConfig("missing %s", strings.Join(missing, ", "))
	}
	return nil
}

func (c Config) Clone() Config {
	if c == nil {
		return Config{}
	}
	return maps.Clone(c)
}

// Merge returns a copy of base overlaid with over.
func Merge(base, over Config) Config {
	out := base.Clone()
	for k, v := range over {
		if strings.TrimSpace(v) != "" {
			out[k] = v
		}
	}
	return out
}

// Params are per-call operation parameters.
type Params map[string]string

func (p Params) String(key, def string) string {
	if v := strings.TrimSpace(p[key]); v != "" {
		return v
	}
	return def
}

func (p Params) Int(key string, def int) (int, error) {
	v := strings.TrimSpace(p[key])
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("param %s: %w", key, err)
	}
	return n, nil
}

// ParseAssignments parses "k=v" pairs as given on a command line.
func ParseAssignments(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("expected key=value, got %q", p)
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}
