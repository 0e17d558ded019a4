package browser

import "time"

// Options configures how browser sessions are launched.
type Options struct {
	Headless      bool
	ExecPath      string
	UserAgent     string
	WindowWidth   int
	WindowHeight  int
	NoSandbox     bool
	LaunchTimeout time.Duration
	NavTimeout    time.Duration
	ActionTimeout time.Duration
	CloseTimeout  time.Duration
}

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

func (o Options) withDefaults() Options {
	if o.UserAgent == "" {
		o.UserAgent = defaultUserAgent
	}
	if o.WindowWidth <= 0 {
		o.WindowWidth = 1920
	}
	if o.WindowHeight <= 0 {
		o.WindowHeight = 1080
	}
	if o.LaunchTimeout <= 0 {
		o.LaunchTimeout = 30 * time.Second
	}
	if o.NavTimeout <= 0 {
		o.NavTimeout = 45 * time.Second
	}
	if o.ActionTimeout <= 0 {
		o.ActionTimeout = 15 * time.Second
	}
	if o.CloseTimeout <= 0 {
		o.CloseTimeout = 5 * time.Second
	}
	return o
}
