package chain

import (
	_ "embed"

	"github.com/papapumpkin/corona/internal/engine"
)

//go:embed builtin/meta_guard.js
var metaGuardJS string

//go:embed builtin/hy_alpn.js
var hyAlpnJS string

//go:embed builtin/clash_rs_comp.js
var clashRsCompJS string

//go:embed builtin/config_fixer.js
var configFixerJS string

// Builtin is a correction script shipped with corona. It runs after the
// user chain when built-ins are enabled and Supports accepts the engine.
type Builtin struct {
	UID      string
	Source   string
	Supports func(engine.Variant) bool
}

// Item returns the builtin as a JavaScript chain step.
func (b Builtin) Item() Item {
	return ScriptItem(b.UID, JavaScript, b.Source)
}

func anyVariant(engine.Variant) bool { return true }

// Builtins returns the built-in corrections in the order they run.
func Builtins() []Builtin {
	return []Builtin{
		{UID: "verge_meta_guard", Source: metaGuardJS, Supports: engine.Variant.IsMihomo},
		{UID: "verge_hy_alpn", Source: hyAlpnJS, Supports: engine.Variant.IsMihomo},
		{UID: "clash_rs_comp", Source: clashRsCompJS, Supports: engine.Variant.IsClashRs},
		{UID: "config_fixer", Source: configFixerJS, Supports: anyVariant},
	}
}

// Applicable returns the built-ins whose predicate accepts v.
func Applicable(builtins []Builtin, v engine.Variant) []Builtin {
	var out []Builtin
	for _, b := range builtins {
		if b.Supports == nil || b.Supports(v) {
			out = append(out, b)
		}
	}
	return out
}
