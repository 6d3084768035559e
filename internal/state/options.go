package state

import "log/slog"

type options struct {
	name   string
	header string
	hooks  []Hook
	logger *slog.Logger
	policy CompensationPolicy
}

// Option configures a Coordinator or Manager.
type Option func(*options)

// WithName names the state domain in errors, logs and hook events.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithHook registers a hook observing every state change. Hooks run in
// registration order.
func WithHook(h Hook) Option {
	return func(o *options) {
		if h != nil {
			o.hooks = append(o.hooks, h)
		}
	}
}

// WithLogger sets the logger. The default discards output.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithCompensation sets the policy applied when a subscriber fails after
// others have migrated. The default is FailFast.
func WithCompensation(p CompensationPolicy) Option {
	return func(o *options) { o.policy = p }
}

// WithHeader sets a comment written above persisted state. Only Manager
// uses it.
func WithHeader(header string) Option {
	return func(o *options) { o.header = header }
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.New(slog.DiscardHandler), policy: FailFast}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
