// Package enhance builds the runtime configuration handed to the proxy
// engine. It folds a chain of merges and scripts over a base profile, pins
// the fields owned by the clash config, runs the built-in corrections and
// derives TUN and DNS settings.
//
// A pipeline run never fails as a whole. A chain step that cannot be applied
// leaves the configuration as it was and records an error log under the
// step's UID.
package enhance

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/papapumpkin/corona/internal/chain"
	"github.com/papapumpkin/corona/internal/engine"
	"github.com/papapumpkin/corona/internal/field"
	"github.com/papapumpkin/corona/internal/mapping"
	"github.com/papapumpkin/corona/internal/scope"
)

// ScriptRunner executes a chain script against a configuration. Logs are
// returned even when err is non-nil.
type ScriptRunner interface {
	Execute(ctx context.Context, kind chain.ScriptKind, source string, config mapping.Mapping) (mapping.Mapping, []chain.Log, error)
}

// Input is everything one pipeline run depends on.
type Input struct {
	Base        mapping.Mapping // the current profile
	Chain       []chain.Item    // user chain, in application order
	Policy      field.Policy
	Handle      mapping.Mapping // clash-owned fields, overlaid after the chain
	Builtin     bool            // run built-in corrections
	Variant     engine.Variant
	Tun         bool
	Stack       engine.TunStack
	ProfileName string
}

// Result is the outcome of a pipeline run.
type Result struct {
	Config     mapping.Mapping
	Order      []string // top-level key order for rendering
	ExistsKeys []string // guarded fields set by the profile or chain
	Logs       *chain.Logs
}

// YAML renders the configuration in Result order.
func (r Result) YAML(header string) ([]byte, error) {
	return mapping.EncodeYAML(r.Config, r.Order, header)
}

// Pipeline runs enhancement. It is safe for concurrent use when its runner
// is.
type Pipeline struct {
	runner   ScriptRunner
	builtins []chain.Builtin
	logger   *slog.Logger
	goos     string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithBuiltins replaces the built-in corrections. The default is
// chain.Builtins().
func WithBuiltins(b []chain.Builtin) Option {
	return func(p *Pipeline) { p.builtins = b }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithGOOS overrides the platform used for platform-specific DNS defaults.
func WithGOOS(goos string) Option {
	return func(p *Pipeline) { p.goos = goos }
}

// NewPipeline returns a pipeline executing scripts with runner.
func NewPipeline(runner ScriptRunner, opts ...Option) *Pipeline {
	p := &Pipeline{
		runner:   runner,
		builtins: chain.Builtins(),
		logger:   slog.New(slog.DiscardHandler),
		goos:     runtime.GOOS,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes the pipeline.
func (p *Pipeline) Run(ctx context.Context, in Input) Result {
	var res Result
	_ = scope.Run(ctx, chain.ProfileName(in.ProfileName), func(ctx context.Context) error {
		res = p.run(ctx, in)
		return nil
	})
	return res
}

func (p *Pipeline) run(ctx context.Context, in Input) Result {
	logs := chain.NewLogs()
	exists := make(map[string]bool)
	track := func(m mapping.Mapping) {
		for _, k := range m.Keys() {
			exists[k] = true
		}
	}

	config := mapping.Lowercase(in.Base.Clone())
	track(config)
	config = in.Policy.FilterValid(config)

	for _, item := range in.Chain {
		config = p.apply(ctx, item, config, in.Handle, logs, track, in.Policy.FilterValid)
	}

	// Fields owned by the clash config win over anything the chain set.
	for k, v := range field.NewFieldSet(field.HandleFields...).Filter(in.Handle) {
		config[k] = mapping.Normalize(v)
	}

	guarded := in.Policy.GuardedFields()
	if in.Builtin {
		for _, b := range chain.Applicable(p.builtins, in.Variant) {
			config = p.apply(ctx, b.Item(), config, nil, logs, func(mapping.Mapping) {}, in.Policy.FilterGuarded)
		}
	}

	config = in.Policy.FilterGuarded(config)
	config = DeriveTunDNS(config, TunOptions{
		Enabled: in.Tun,
		Stack:   in.Stack,
		Variant: in.Variant,
		Windows: p.goos == "windows",
	})

	var existsKeys []string
	for _, name := range guarded.Names() {
		if exists[name] {
			existsKeys = append(existsKeys, name)
		}
	}

	return Result{
		Config:     config,
		Order:      mapping.OrderedKeys(config, guarded.Names()),
		ExistsKeys: existsKeys,
		Logs:       logs,
	}
}

// apply runs one chain step and returns the resulting configuration. A step
// that fails returns config unchanged.
func (p *Pipeline) apply(
	ctx context.Context,
	item chain.Item,
	config mapping.Mapping,
	handle mapping.Mapping,
	logs *chain.Logs,
	track func(mapping.Mapping),
	filter func(mapping.Mapping) mapping.Mapping,
) mapping.Mapping {
	logs.Append(item.UID)

	switch {
	case item.Err != nil:
		logs.Append(item.UID, chain.Errorf("%v", item.Err))
		p.logger.WarnContext(ctx, "chain item unavailable", "uid", item.UID, "error", item.Err)
		return config

	case item.IsMerge():
		patch := mapping.Lowercase(item.Merge)
		for _, k := range patch.Keys() {
			if field.IsHandle(k) && handle.Has(k) {
				logs.Append(item.UID, chain.Warnf("%s is set by the clash config and will be overridden", k))
			}
		}
		track(patch)
		return filter(mapping.Merge(config, patch))

	default:
		out, lines, err := p.execute(ctx, item.Script, config)
		logs.Append(item.UID, lines...)
		if err != nil {
			logs.Append(item.UID, chain.Errorf("%v", err))
			p.logger.WarnContext(ctx, "chain script failed", "uid", item.UID, "error", err)
			return config
		}
		out = mapping.Lowercase(out)
		track(out)
		return filter(out)
	}
}

func (p *Pipeline) execute(ctx context.Context, s *chain.Script, config mapping.Mapping) (out mapping.Mapping, logs []chain.Log, err error) {
	if p.runner == nil {
		return nil, nil, fmt.Errorf("no runner for %s scripts", s.Kind)
	}
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("script runner panicked: %v", r)
		}
	}()
	return p.runner.Execute(ctx, s.Kind, s.Source, config.Clone())
}
