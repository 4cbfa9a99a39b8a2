package matcher

import "time"

type findOptions struct {
	maxRetries int
	wait       time.Duration
	screen     []byte
	gate       StateReporter
}

// FindOption overrides the matcher defaults for one lookup.
type FindOption func(*findOptions)

// WithMaxRetries sets the attempt budget. Zero or less retries forever.
func WithMaxRetries(n int) FindOption {
	return func(o *findOptions) { o.maxRetries = n }
}

func WithWait(d time.Duration) FindOption {
	return func(o *findOptions) { o.wait = d }
}

// WithScreen matches against an existing screenshot instead of capturing.
func WithScreen(data []byte) FindOption {
	return func(o *findOptions) { o.screen = data }
}

func WithGate(g StateReporter) FindOption {
	return func(o *findOptions) { o.gate = g }
}

func (m *Matcher) options(opts []FindOption) findOptions {
	o := findOptions{maxRetries: m.maxRetries, wait: m.wait}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
