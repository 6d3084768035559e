// Package script runs chain scripts. JavaScript runs in an embedded goja VM;
// other languages are reported as unsupported.
package script

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"

	"github.com/papapumpkin/corona/internal/chain"
	"github.com/papapumpkin/corona/internal/mapping"
	"github.com/papapumpkin/corona/internal/scope"
)

// Sentinel errors returned by Execute.
var (
	// ErrUnsupportedKind indicates a script language with no runner.
	ErrUnsupportedKind = errors.New("unsupported script kind")
	// ErrNoResult indicates the script returned nothing usable as a config.
	ErrNoResult = errors.New("script returned no config")
	// ErrInterrupted indicates the script was stopped by cancellation or
	// timeout.
	ErrInterrupted = errors.New("script interrupted")
)

// Runner executes chain scripts. A Runner holds no VM state between calls
// and is safe for concurrent use.
type Runner struct {
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithTimeout bounds each script's run time. Zero means no bound beyond
// the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) { r.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRunner returns a Runner.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Execute runs source against a copy of config and returns the mapping the
// script produced. Console output is returned as log lines whether or not
// the script succeeds. The script receives the config and the profile name
// stored in ctx under chain.ProfileName.
func (r *Runner) Execute(ctx context.Context, kind chain.ScriptKind, source string, config mapping.Mapping) (mapping.Mapping, []chain.Log, error) {
	if kind != chain.JavaScript {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInterrupted, err)
	}

	vm := goja.New()
	c := &console{vm: vm}
	if err := c.install(); err != nil {
		return nil, nil, err
	}

	stop := context.AfterFunc(ctx, func() { vm.Interrupt(ctx.Err()) })
	defer stop()

	out, err := r.run(ctx, vm, source, config)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			err = fmt.Errorf("%w: %v", ErrInterrupted, interrupted.Value())
		}
		r.logger.DebugContext(ctx, "script failed", "error", err)
		return nil, c.logs, err
	}
	return out, c.logs, nil
}

func (r *Runner) run(ctx context.Context, vm *goja.Runtime, source string, config mapping.Mapping) (mapping.Mapping, error) {
	main, err := compile(vm, source)
	if err != nil {
		return nil, err
	}

	input, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	parse, stringify := jsonFuncs(vm)
	arg, err := parse(goja.Undefined(), vm.ToValue(string(input)))
	if err != nil {
		return nil, fmt.Errorf("decoding config in script: %w", err)
	}

	profile, _ := scope.Get[chain.ProfileName](ctx)
	res, err := main(goja.Undefined(), arg, vm.ToValue(string(profile)))
	if err != nil {
		return nil, err
	}
	if goja.IsUndefined(res) || goja.IsNull(res) {
		return nil, ErrNoResult
	}

	encoded, err := stringify(goja.Undefined(), res)
	if err != nil {
		return nil, fmt.Errorf("encoding script result: %w", err)
	}
	dec := json.NewDecoder(strings.NewReader(encoded.String()))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding script result: %w", err)
	}
	if raw == nil {
		return nil, ErrNoResult
	}
	return mapping.FromValue(raw)
}

// compile returns the script's main function. Sources that declare main at
// top level are run once to define it; anything else, including sources
// that only parse as a function body, becomes main's body.
func compile(vm *goja.Runtime, source string) (goja.Callable, error) {
	if definesMain(source) {
		if _, err := vm.RunString(source); err != nil {
			return nil, err
		}
		// Evaluated as an expression so let and const bindings resolve too.
		v, err := vm.RunString("main")
		if err != nil {
			return nil, err
		}
		main, ok := goja.AssertFunction(v)
		if !ok {
			return nil, errors.New("script: main is not a function")
		}
		return main, nil
	}
	fn, err := vm.RunString("(function(config, profileName) {\n" + source + "\n})")
	if err != nil {
		return nil, err
	}
	main, ok := goja.AssertFunction(fn)
	if !ok {
		return nil, errors.New("script: body did not compile to a function")
	}
	return main, nil
}

// definesMain reports whether source parses as a program with a top-level
// function, var, let, const or assignment named main.
func definesMain(source string) bool {
	prog, err := parser.ParseFile(nil, "", source, 0)
	if err != nil {
		return false
	}
	isMain := func(e any) bool {
		id, ok := e.(*ast.Identifier)
		return ok && id != nil && id.Name == "main"
	}
	bindsMain := func(list []*ast.Binding) bool {
		for _, b := range list {
			if isMain(b.Target) {
				return true
			}
		}
		return false
	}
	for _, stmt := range prog.Body {
		switch st := stmt.(type) {
		case *ast.FunctionDeclaration:
			if st.Function != nil && isMain(st.Function.Name) {
				return true
			}
		case *ast.VariableStatement:
			if bindsMain(st.List) {
				return true
			}
		case *ast.LexicalDeclaration:
			if bindsMain(st.List) {
				return true
			}
		case *ast.ExpressionStatement:
			if as, ok := st.Expression.(*ast.AssignExpression); ok && isMain(as.Left) {
				return true
			}
		}
	}
	return false
}

func jsonFuncs(vm *goja.Runtime) (parse, stringify goja.Callable) {
	obj := vm.Get("JSON").ToObject(vm)
	parse, _ = goja.AssertFunction(obj.Get("parse"))
	stringify, _ = goja.AssertFunction(obj.Get("stringify"))
	return parse, stringify
}

// console captures console.* calls as chain logs.
type console struct {
	vm   *goja.Runtime
	logs []chain.Log
}

func (c *console) install() error {
	obj := c.vm.NewObject()
	levels := map[string]chain.Level{
		"log":   chain.LevelLog,
		"debug": chain.LevelLog,
		"info":  chain.LevelInfo,
		"warn":  chain.LevelWarn,
		"error": chain.LevelError,
	}
	for name, level := range levels {
		if err := obj.Set(name, c.printer(level)); err != nil {
			return fmt.Errorf("script: installing console.%s: %w", name, err)
		}
	}
	if err := c.vm.Set("console", obj); err != nil {
		return fmt.Errorf("script: installing console: %w", err)
	}
	return nil
}

func (c *console) printer(level chain.Level) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			parts = append(parts, c.format(arg))
		}
		c.logs = append(c.logs, chain.Log{Level: level, Message: strings.Join(parts, " ")})
		return goja.Undefined()
	}
}

func (c *console) format(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return fmt.Sprint(v)
	}
	if _, isFunc := goja.AssertFunction(v); !isFunc {
		if obj, ok := v.(*goja.Object); ok {
			var buf bytes.Buffer
			if err := json.NewEncoder(&buf).Encode(obj.Export()); err == nil {
				return strings.TrimSpace(buf.String())
			}
		}
	}
	return v.String()
}
